package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultMaxOutputChars caps each of stdout and stderr before they are fed
// back to the model.
const DefaultMaxOutputChars = 30000

// TruncateOutput applies character-based truncation to output. Lengths are
// counted in runes so a cut never splits a multi-byte character. A
// non-positive maxChars leaves output untouched.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || utf8.RuneCountInString(output) <= maxChars {
		return output
	}

	runes := []rune(output)
	removed := len(runes) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Command output was truncated. First %d characters were removed.]\n\n", removed) +
			string(runes[len(runes)-maxChars:])
	default:
		half := maxChars / 2
		return string(runes[:half]) +
			fmt.Sprintf("\n\n[WARNING: Command output was truncated. %d characters were removed from the middle. "+
				"If you need to see specific parts, re-run the command with more targeted filters.]\n\n",
				removed) +
			string(runes[len(runes)-half:])
	}
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateCommandOutput applies the full pipeline to one output stream:
// characters first, then lines when maxLines is set.
func TruncateCommandOutput(output string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(output, maxChars, TruncateHeadTail), maxLines)
}
