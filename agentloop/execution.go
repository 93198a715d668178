package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds a single command unless configured otherwise.
const DefaultCommandTimeout = 5 * time.Minute

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// UnsupportedShellError is returned for a shell tag with no known
// invocation. No process is spawned.
type UnsupportedShellError struct {
	Tag string
}

func (e *UnsupportedShellError) Error() string {
	return fmt.Sprintf("unsupported shell: %q", e.Tag)
}

// shellFlags maps a shell tag to the flag that makes the interpreter run
// the following argument as a command string.
var shellFlags = map[string]string{
	"bash":       "-c",
	"powershell": "-Command",
	"cmd":        "/c",
}

// ShellFlag returns the command-string flag for tag.
func ShellFlag(tag string) (string, bool) {
	flag, ok := shellFlags[tag]
	return flag, ok
}

// Executor runs an extracted command under the interpreter named by tag.
type Executor interface {
	Execute(ctx context.Context, command, tag string) (*ExecResult, error)
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"SYSTEMROOT": true, "COMSPEC": true, "PATHEXT": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment minus credentials.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[strings.ToUpper(name)] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// ShellExecutor runs commands on the local machine.
type ShellExecutor struct {
	workingDir string
	timeout    time.Duration
	logger     *zap.Logger
}

// ShellExecutorOption configures a ShellExecutor.
type ShellExecutorOption func(*ShellExecutor)

// WithWorkingDir runs commands in dir instead of the current directory.
func WithWorkingDir(dir string) ShellExecutorOption {
	return func(e *ShellExecutor) { e.workingDir = dir }
}

// WithCommandTimeout bounds each command. Zero disables the bound.
func WithCommandTimeout(d time.Duration) ShellExecutorOption {
	return func(e *ShellExecutor) { e.timeout = d }
}

// NewShellExecutor creates a ShellExecutor.
func NewShellExecutor(logger *zap.Logger, opts ...ShellExecutorOption) *ShellExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ShellExecutor{
		timeout: DefaultCommandTimeout,
		logger:  logger.Named("shell"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs `<tag> <flag> <command>` and returns its captured output once
// the child exits. A non-zero exit status is reported in the result, not as
// an error. Errors mean the command could not be run at all.
func (e *ShellExecutor) Execute(ctx context.Context, command, tag string) (*ExecResult, error) {
	flag, ok := ShellFlag(tag)
	if !ok {
		return nil, &UnsupportedShellError{Tag: tag}
	}
	command = strings.TrimSpace(command)

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, tag, flag, command)
	cmd.Dir = e.workingDir
	cmd.Env = filterEnvironment()
	// Stdin is left nil: the child reads from the null device and sees EOF.
	configureProcess(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Executing command", zap.String("shell", tag), zap.String("command", command))

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:     strings.ToValidUTF8(stdout.String(), "\uFFFD"),
		Stderr:     strings.ToValidUTF8(stderr.String(), "\uFFFD"),
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("command aborted: %w", ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
			result.Stderr += fmt.Sprintf("\n[command timed out after %s]", e.timeout)
			e.logger.Warn("Command timed out", zap.String("shell", tag), zap.Duration("timeout", e.timeout))
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("failed to start %s: %w", tag, err)
		}
	}

	e.logger.Debug("Command finished",
		zap.String("shell", tag),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", duration),
	)
	return result, nil
}
