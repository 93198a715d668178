package agentloop

import (
	"strings"

	"go.uber.org/zap"
)

const fence = "```"

// ExtractedCommand is a command found in a fenced block of a model reply.
type ExtractedCommand struct {
	ShellTag string `json:"shell_tag"`
	Command  string `json:"command"`
}

// ExtractCommand finds the first recognised fenced block in text. Tags are
// tried in the order given and the first tag whose opener appears anywhere in
// text wins, regardless of where other tags' blocks sit. The command is the
// text between the opener and the next fence, trimmed; an unterminated block
// runs to the end of text.
func ExtractCommand(text string, tags []string) (ExtractedCommand, bool) {
	for _, tag := range tags {
		opener := fence + tag + "\n"
		idx := strings.Index(text, opener)
		if idx < 0 {
			continue
		}
		body := text[idx+len(opener):]
		if end := strings.Index(body, fence); end >= 0 {
			body = body[:end]
		}
		return ExtractedCommand{ShellTag: tag, Command: strings.TrimSpace(body)}, true
	}
	return ExtractedCommand{}, false
}

// CommandExtractor wraps ExtractCommand with the configured tag order and
// logs replies that carry no command.
type CommandExtractor struct {
	tags   []string
	logger *zap.Logger
}

// NewCommandExtractor creates a CommandExtractor recognising tags in order.
func NewCommandExtractor(tags []string, logger *zap.Logger) *CommandExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExtractor{
		tags:   append([]string(nil), tags...),
		logger: logger.Named("extractor"),
	}
}

// Tags returns the recognised tags in priority order.
func (x *CommandExtractor) Tags() []string {
	return append([]string(nil), x.tags...)
}

// Extract returns the command in text, or false when none is found. A block
// whose interior is only whitespace counts as no command.
func (x *CommandExtractor) Extract(text string) (ExtractedCommand, bool) {
	cmd, ok := ExtractCommand(text, x.tags)
	if !ok || cmd.Command == "" {
		x.logger.Error("No valid terminal command found in response",
			zap.Strings("tags", x.tags),
			zap.String("response", text),
		)
		return ExtractedCommand{}, false
	}
	return cmd, true
}
