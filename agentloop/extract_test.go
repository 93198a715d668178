package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestExtractCommand(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		tags   []string
		want   ExtractedCommand
		wantOK bool
	}{
		{
			name:   "trims surrounding whitespace",
			text:   "run this:\n```bash\n  ls -la  \n```\nthanks",
			tags:   []string{"bash"},
			want:   ExtractedCommand{ShellTag: "bash", Command: "ls -la"},
			wantOK: true,
		},
		{
			name:   "tag priority beats document order",
			text:   "```powershell\nGet-ChildItem\n```\n```bash\nls\n```",
			tags:   []string{"bash", "powershell"},
			want:   ExtractedCommand{ShellTag: "bash", Command: "ls"},
			wantOK: true,
		},
		{
			name:   "falls through to later tag",
			text:   "```cmd\ndir\n```",
			tags:   []string{"bash", "powershell", "cmd"},
			want:   ExtractedCommand{ShellTag: "cmd", Command: "dir"},
			wantOK: true,
		},
		{
			name:   "first block of the tag wins",
			text:   "```bash\necho one\n```\n```bash\necho two\n```",
			tags:   []string{"bash"},
			want:   ExtractedCommand{ShellTag: "bash", Command: "echo one"},
			wantOK: true,
		},
		{
			name:   "multiline command kept intact",
			text:   "```bash\ncd /tmp\nls\n```",
			tags:   []string{"bash"},
			want:   ExtractedCommand{ShellTag: "bash", Command: "cd /tmp\nls"},
			wantOK: true,
		},
		{
			name:   "unterminated block runs to end",
			text:   "```bash\nuname -a\n",
			tags:   []string{"bash"},
			want:   ExtractedCommand{ShellTag: "bash", Command: "uname -a"},
			wantOK: true,
		},
		{
			name:   "opener requires newline after tag",
			text:   "```bash ls```",
			tags:   []string{"bash"},
			wantOK: false,
		},
		{
			name:   "unrecognised tag",
			text:   "```python\nprint(1)\n```",
			tags:   []string{"bash"},
			wantOK: false,
		},
		{
			name:   "no fence at all",
			text:   "I am thinking about it.",
			tags:   []string{"bash"},
			wantOK: false,
		},
		{
			name:   "whitespace-only interior extracts empty",
			text:   "```bash\n   \n```",
			tags:   []string{"bash"},
			want:   ExtractedCommand{ShellTag: "bash", Command: ""},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCommand(tt.text, tt.tags)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCommandIdempotent(t *testing.T) {
	text := "```bash\nls\n```\n```powershell\ndir\n```"
	tags := []string{"powershell", "bash"}
	first, ok1 := ExtractCommand(text, tags)
	second, ok2 := ExtractCommand(text, tags)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Equal(t, "powershell", first.ShellTag)
}

func TestCommandExtractorLogsNotFound(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	x := NewCommandExtractor([]string{"bash"}, zap.New(core))

	_, ok := x.Extract("no command here")
	assert.False(t, ok)

	entries := logs.FilterMessage("No valid terminal command found in response").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "no command here", entries[0].ContextMap()["response"])
	}
}

func TestCommandExtractorWhitespaceIsNotFound(t *testing.T) {
	x := NewCommandExtractor([]string{"bash"}, nil)
	_, ok := x.Extract("```bash\n \t \n```")
	assert.False(t, ok)

	cmd, ok := x.Extract("```bash\npwd\n```")
	assert.True(t, ok)
	assert.Equal(t, "pwd", cmd.Command)
}

func TestCommandExtractorTagsCopied(t *testing.T) {
	tags := []string{"bash"}
	x := NewCommandExtractor(tags, nil)
	tags[0] = "cmd"
	assert.Equal(t, []string{"bash"}, x.Tags())
}
