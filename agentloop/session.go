package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/shellpilot/unifiedllm"
)

// TaskDoneSentinel marks a reply in which the model declares the goal met.
const TaskDoneSentinel = "!TASK_DONE!"

// NoCommandPrompt is sent back when a reply carries no runnable command.
const NoCommandPrompt = "No valid terminal command was found."

// IsTaskDone reports whether reply declares the task complete.
func IsTaskDone(reply string) bool {
	return strings.Contains(reply, TaskDoneSentinel)
}

// NextPrompt formats an execution as the next prompt for the model.
func NextPrompt(command, stdout, stderr string) string {
	return fmt.Sprintf("<executed_command>%s</executed_command>\n<stdout>%s</stdout>\n<stderror>%s</stderror>",
		command, stdout, stderr)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"      // the model sent the sentinel
	OutcomeExhausted Outcome = "exhausted" // the query budget ran out
	OutcomeAborted   Outcome = "aborted"   // a fatal error stopped the run
)

// RunResult summarises a finished run.
type RunResult struct {
	SessionID  string               `json:"session_id"`
	Outcome    Outcome              `json:"outcome"`
	Iterations int                  `json:"iterations"`
	Executions int                  `json:"executions"`
	History    []unifiedllm.Message `json:"history"`
	Duration   time.Duration        `json:"duration"`
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	SystemPrompt        string   `json:"system_prompt"`
	MaxQueries          int      `json:"max_queries"`
	ShellTags           []string `json:"shell_tags"`
	MaxOutputChars      int      `json:"max_output_chars"`      // per stream; 0 = unlimited
	MaxOutputLines      int      `json:"max_output_lines"`      // per stream; 0 = unlimited
	LoopDetectionWindow int      `json:"loop_detection_window"` // 0 = off

	// BlockingEvents makes the run wait for the Events reader instead of
	// dropping events when it falls behind. The reader must then drain
	// Events until Close.
	BlockingEvents bool `json:"blocking_events"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxQueries:     10,
		ShellTags:      []string{"bash"},
		MaxOutputChars: DefaultMaxOutputChars,
	}
}

// Session drives one agent run: ask the model, run the command it
// proposes, feed the output back, until the model is done or the query
// budget is spent.
type Session struct {
	id        string
	config    SessionConfig
	chat      *ChatClient
	extractor *CommandExtractor
	executor  Executor
	emitter   *EventEmitter
	logger    *zap.Logger

	mu       sync.Mutex
	history  History
	executed []ExtractedCommand
	started  bool
}

// NewSession creates a session. Retries made by chat are published on the
// session's event stream in addition to any observer chat already has; chat
// itself is not modified and may be shared.
func NewSession(chat *ChatClient, executor Executor, config SessionConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.New().String()
	logger = logger.Named("session").With(zap.String("session_id", sessionID))
	emitter := NewEventEmitter(sessionID, DefaultEventBuffer)
	if config.BlockingEvents {
		emitter = NewBlockingEventEmitter(sessionID, DefaultEventBuffer)
	}
	own := *chat
	s := &Session{
		id:        sessionID,
		config:    config,
		chat:      &own,
		extractor: NewCommandExtractor(config.ShellTags, logger),
		executor:  executor,
		emitter:   emitter,
		logger:    logger,
	}

	prev := chat.onRetry
	own.onRetry = func(err error, attempt int, delay time.Duration) {
		if prev != nil {
			prev(err, attempt, delay)
		}
		var rl *unifiedllm.RateLimitError
		s.emitter.Emit(EventRetry, map[string]interface{}{
			"attempt":      attempt,
			"delay":        delay,
			"rate_limited": errors.As(err, &rl),
			"error":        err.Error(),
		})
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// History returns a copy of the conversation history.
func (s *Session) History() []unifiedllm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// Close ends the event stream.
func (s *Session) Close() {
	if n := s.emitter.Dropped(); n > 0 {
		s.logger.Warn("Session events dropped", zap.Int("dropped", n))
	}
	s.emitter.Close()
}

// Run executes the agent loop. It returns a result for every outcome; the
// error is non-nil only when the outcome is OutcomeAborted.
func (s *Session) Run(ctx context.Context) (*RunResult, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("session has already run")
	}
	s.started = true
	s.mu.Unlock()

	start := time.Now()
	result := &RunResult{SessionID: s.id}
	finish := func(outcome Outcome, err error) (*RunResult, error) {
		result.Outcome = outcome
		result.History = s.History()
		result.Duration = time.Since(start)
		if err != nil {
			s.logger.Error("Run aborted", zap.Error(err), zap.Int("iterations", result.Iterations))
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
		}
		s.emitter.Emit(EventSessionEnd, map[string]interface{}{
			"outcome":    string(outcome),
			"iterations": result.Iterations,
			"executions": result.Executions,
		})
		return result, err
	}

	s.logger.Info("Starting run", zap.Int("max_queries", s.config.MaxQueries), zap.Strings("shell_tags", s.config.ShellTags))
	s.emitter.Emit(EventSessionStart, map[string]interface{}{"max_queries": s.config.MaxQueries})

	prompt := ""
	for result.Iterations < s.config.MaxQueries {
		if err := ctx.Err(); err != nil {
			return finish(OutcomeAborted, fmt.Errorf("run cancelled: %w", err))
		}

		s.emitter.Emit(EventPromptSent, map[string]interface{}{"prompt": prompt, "iteration": result.Iterations + 1})
		newMessages, reply, err := s.chat.Send(ctx, prompt, s.History(), s.config.SystemPrompt, 1)
		if err != nil {
			return finish(OutcomeAborted, err)
		}
		s.mu.Lock()
		s.history.Append(newMessages...)
		s.mu.Unlock()
		result.Iterations++
		s.emitter.Emit(EventResponse, map[string]interface{}{"text": reply})

		if IsTaskDone(reply) {
			s.logger.Info("Task done", zap.Int("iterations", result.Iterations))
			s.emitter.Emit(EventTaskDone, nil)
			return finish(OutcomeDone, nil)
		}

		cmd, ok := s.extractor.Extract(reply)
		if !ok {
			prompt = NoCommandPrompt
			s.emitter.Emit(EventCommandNotFound, map[string]interface{}{"response": reply})
			continue
		}

		s.emitter.Emit(EventCommandStart, map[string]interface{}{
			"shell":   cmd.ShellTag,
			"command": cmd.Command,
		})
		execResult, err := s.executor.Execute(ctx, cmd.Command, cmd.ShellTag)
		if err != nil {
			return finish(OutcomeAborted, err)
		}
		result.Executions++
		s.executed = append(s.executed, cmd)

		s.logger.Info("Command executed",
			zap.String("shell", cmd.ShellTag),
			zap.String("command", cmd.Command),
			zap.Int("exit_code", execResult.ExitCode),
			zap.String("stdout", execResult.Stdout),
			zap.String("stderr", execResult.Stderr),
		)
		s.emitter.Emit(EventCommandEnd, map[string]interface{}{
			"shell":     cmd.ShellTag,
			"command":   cmd.Command,
			"stdout":    execResult.Stdout,
			"stderr":    execResult.Stderr,
			"exit_code": execResult.ExitCode,
			"timed_out": execResult.TimedOut,
		})

		prompt = NextPrompt(
			cmd.Command,
			TruncateCommandOutput(execResult.Stdout, s.config.MaxOutputChars, s.config.MaxOutputLines),
			TruncateCommandOutput(execResult.Stderr, s.config.MaxOutputChars, s.config.MaxOutputLines),
		)

		if DetectLoop(s.executed, s.config.LoopDetectionWindow) {
			s.logger.Warn("Repeated commands detected", zap.Int("window", s.config.LoopDetectionWindow))
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{"window": s.config.LoopDetectionWindow})
			prompt += loopWarning
		}
	}

	s.logger.Info("Query budget exhausted", zap.Int("max_queries", s.config.MaxQueries))
	s.emitter.Emit(EventQueryLimit, map[string]interface{}{"max_queries": s.config.MaxQueries})
	return finish(OutcomeExhausted, nil)
}
