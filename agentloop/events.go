package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart    EventKind = "session_start"
	EventSessionEnd      EventKind = "session_end"
	EventPromptSent      EventKind = "prompt_sent"
	EventResponse        EventKind = "response"
	EventRetry           EventKind = "retry"
	EventCommandNotFound EventKind = "command_not_found"
	EventCommandStart    EventKind = "command_start"
	EventCommandEnd      EventKind = "command_end"
	EventLoopDetection   EventKind = "loop_detection"
	EventTaskDone        EventKind = "task_done"
	EventQueryLimit      EventKind = "query_limit"
	EventError           EventKind = "error"
)

// SessionEvent is one step of a run, as published to the host.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DefaultEventBuffer is the channel capacity used when none is given.
const DefaultEventBuffer = 256

// EventEmitter publishes session events on a buffered channel. By default
// Emit never blocks: when the reader falls behind the event is counted and
// dropped. A blocking emitter waits for the reader instead.
type EventEmitter struct {
	sessionID string
	block     bool

	mu      sync.Mutex
	ch      chan SessionEvent
	closed  bool
	dropped int
}

// NewEventEmitter creates an emitter with room for bufferSize events.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBuffer
	}
	return &EventEmitter{sessionID: sessionID, ch: make(chan SessionEvent, bufferSize)}
}

// NewBlockingEventEmitter creates an emitter whose Emit waits for buffer
// space. The reader must drain Events until the channel is closed.
func NewBlockingEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	e := NewEventEmitter(sessionID, bufferSize)
	e.block = true
	return e
}

// Emit publishes an event. It is a no-op after Close.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev := SessionEvent{Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Data: data}
	if e.block {
		e.ch <- ev
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Events returns the receive side of the event channel.
func (e *EventEmitter) Events() <-chan SessionEvent { return e.ch }

// Close closes the channel. Later calls are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
