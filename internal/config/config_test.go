package config

import (
	stdjson "encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
system_prompt:
  role: You are a careful operator of a terminal.
  VALID_CODE:
    - bash
    - powershell
  rules:
    - Emit one fenced command per reply.
    - Reply with !TASK_DONE! when finished.
goals:
  - list the files in the working directory
  - unused second goal
max_queries: 10
response_attempt_limit: 3
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvModel, "gpt-test")
}

func TestLoad(t *testing.T) {
	setCredentials(t)
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "gpt-test", cfg.Model)
	assert.Equal(t, 10, cfg.MaxQueries)
	assert.Equal(t, 3, cfg.ResponseAttemptLimit)
	assert.Equal(t, "list the files in the working directory", cfg.Goal)
	assert.Equal(t, []string{"bash", "powershell"}, cfg.ShellTags)

	// Defaults for everything the document leaves out.
	assert.Equal(t, ProviderHTTP, cfg.Provider)
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 30000, cfg.MaxOutputChars)
	assert.Equal(t, 0, cfg.LoopDetectionWindow)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "shellpilot.log", cfg.Logger.LogFile)
}

func TestLoadSystemPromptKeepsKeysAndOrder(t *testing.T) {
	setCredentials(t)
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	want := `{"role":"You are a careful operator of a terminal.","VALID_CODE":["bash","powershell"],` +
		`"rules":["Emit one fenced command per reply.","Reply with !TASK_DONE! when finished."],` +
		`"goal":"list the files in the working directory"}`
	assert.Equal(t, want, cfg.SystemPrompt)
	assert.True(t, stdjson.Valid([]byte(cfg.SystemPrompt)))
}

func TestLoadExistingGoalIsReplacedInPlace(t *testing.T) {
	setCredentials(t)
	body := `
system_prompt:
  goal: placeholder
  VALID_CODE: [cmd]
goals: [check disk space]
max_queries: 1
response_attempt_limit: 1
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, `{"goal":"check disk space","VALID_CODE":["cmd"]}`, cfg.SystemPrompt)
}

func TestLoadOptionalSettings(t *testing.T) {
	setCredentials(t)
	body := sampleConfig + `
provider: openai
endpoint: http://localhost:8080/v1
request_timeout: 30s
command_timeout: 1m
requests_per_minute: 20
max_output_chars: 500
loop_detection_window: 3
working_dir: /tmp
logger:
  level: debug
  log_file: ""
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 20, cfg.RequestsPerMinute)
	assert.Equal(t, 500, cfg.MaxOutputChars)
	assert.Equal(t, 3, cfg.LoopDetectionWindow)
	assert.Equal(t, "/tmp", cfg.WorkingDir)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Empty(t, cfg.Logger.LogFile)
}

func TestLoadCredentialNotReadFromFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvModel, "gpt-test")
	_, err := Load(writeConfig(t, sampleConfig+"api_key: sk-from-file\n"))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, EnvAPIKey, cfgErr.Field)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "missing goals",
			body:  "system_prompt: {VALID_CODE: [bash]}\nmax_queries: 1\nresponse_attempt_limit: 1\n",
			field: "goals",
		},
		{
			name:  "zero max queries",
			body:  "system_prompt: {VALID_CODE: [bash]}\ngoals: [g]\nmax_queries: 0\nresponse_attempt_limit: 1\n",
			field: "max_queries",
		},
		{
			name:  "missing attempt limit",
			body:  "system_prompt: {VALID_CODE: [bash]}\ngoals: [g]\nmax_queries: 2\n",
			field: "response_attempt_limit",
		},
		{
			name:  "missing system prompt",
			body:  "goals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\n",
			field: "system_prompt",
		},
		{
			name:  "system prompt not a mapping",
			body:  "system_prompt: be helpful\ngoals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\n",
			field: "system_prompt",
		},
		{
			name:  "missing VALID_CODE",
			body:  "system_prompt: {role: x}\ngoals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\n",
			field: "system_prompt.VALID_CODE",
		},
		{
			name:  "lower-case valid_code is not VALID_CODE",
			body:  "system_prompt: {valid_code: [bash]}\ngoals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\n",
			field: "system_prompt.VALID_CODE",
		},
		{
			name:  "empty VALID_CODE",
			body:  "system_prompt: {VALID_CODE: []}\ngoals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\n",
			field: "system_prompt.VALID_CODE",
		},
		{
			name:  "unknown provider",
			body:  "system_prompt: {VALID_CODE: [bash]}\ngoals: [g]\nmax_queries: 2\nresponse_attempt_limit: 1\nprovider: carrier-pigeon\n",
			field: "provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCredentials(t)
			_, err := Load(writeConfig(t, tt.body))
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadMissingModel(t *testing.T) {
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvModel, "")
	_, err := Load(writeConfig(t, sampleConfig))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, EnvModel, cfgErr.Field)
	assert.Contains(t, err.Error(), "OPEN_API_MODEL")
}

func TestLoadMissingFile(t *testing.T) {
	setCredentials(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadMalformedYAML(t *testing.T) {
	setCredentials(t)
	_, err := Load(writeConfig(t, "system_prompt: [unclosed\n"))
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestWithFlagsOverridesOnlyChangedFlags(t *testing.T) {
	setCredentials(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-queries", 0, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--max-queries=4"}))

	body := sampleConfig + "logger:\n  level: warn\n"
	cfg, err := Load(writeConfig(t, body), WithFlags(flags))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxQueries)
	assert.Equal(t, "warn", cfg.Logger.Level)
}

func TestLoadExpandsHomeInPaths(t *testing.T) {
	setCredentials(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	body := sampleConfig + "working_dir: ~/work\nlogger:\n  log_file: ~/logs/shellpilot.log\n"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "work"), cfg.WorkingDir)
	assert.Equal(t, filepath.Join(home, "logs", "shellpilot.log"), cfg.Logger.LogFile)
}
