package agentloop

import (
	"crypto/sha256"
	"fmt"
)

// loopWarning is appended to the next prompt when the model keeps issuing
// the same commands.
const loopWarning = "\n\nWARNING: the same commands have been repeated several times with no progress. Try a different approach."

// commandSignature computes a deterministic signature for a command.
func commandSignature(cmd ExtractedCommand) string {
	h := sha256.Sum256([]byte(cmd.Command))
	return fmt.Sprintf("%s:%x", cmd.ShellTag, h[:8])
}

// DetectLoop checks if the last windowSize executed commands follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(executed []ExtractedCommand, windowSize int) bool {
	if windowSize <= 0 || len(executed) < windowSize {
		return false
	}

	sigs := make([]string, 0, windowSize)
	for _, cmd := range executed[len(executed)-windowSize:] {
		sigs = append(sigs, commandSignature(cmd))
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen >= windowSize {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
