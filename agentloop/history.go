package agentloop

import "github.com/martinemde/shellpilot/unifiedllm"

// History is the append-only conversation record of a run, excluding the
// system message. Each completed exchange adds a user message followed by
// the assistant's reply.
type History struct {
	messages []unifiedllm.Message
}

// Append adds messages at the end of the history.
func (h *History) Append(msgs ...unifiedllm.Message) {
	h.messages = append(h.messages, msgs...)
}

// Messages returns a copy of the recorded messages in order.
func (h *History) Messages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of recorded messages.
func (h *History) Len() int { return len(h.messages) }
