package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is read when no --config flag is given.
	DefaultPath = "agent_config.yaml"

	EnvAPIKey = "OPEN_API_KEY"
	EnvModel  = "OPEN_API_MODEL"

	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
)

// Sorted map keys keep nested prompt objects stable between runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Providers accepted by the provider setting.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderGollm  = "gollm"
)

// ConfigError reports a missing or malformed setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func fieldError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// LoggerConfig controls the process log.
type LoggerConfig struct {
	Level        string `mapstructure:"level" yaml:"level"`
	ConsoleLevel string `mapstructure:"console_level" yaml:"console_level"` // empty follows Level
	Format       string `mapstructure:"format" yaml:"format"`
	AddSource    bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile      string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize      int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge       int    `mapstructure:"max_age" yaml:"max_age"`
	Compress     bool   `mapstructure:"compress" yaml:"compress"`
}

// Config is the fully resolved agent configuration. It is not modified
// after Load returns.
type Config struct {
	// Derived from the environment.
	APIKey string `mapstructure:"-"`
	Model  string `mapstructure:"-"`

	// SystemPrompt is the system_prompt object, with the active goal
	// inserted, serialised as JSON.
	SystemPrompt string   `mapstructure:"-"`
	ShellTags    []string `mapstructure:"-"`
	Goal         string   `mapstructure:"-"`

	Goals                []string `mapstructure:"goals"`
	MaxQueries           int      `mapstructure:"max_queries"`
	ResponseAttemptLimit int      `mapstructure:"response_attempt_limit"`

	Provider          string        `mapstructure:"provider"`
	Endpoint          string        `mapstructure:"endpoint"`
	GollmBackend      string        `mapstructure:"gollm_backend"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`

	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	WorkingDir          string        `mapstructure:"working_dir"`
	MaxOutputChars      int           `mapstructure:"max_output_chars"`
	MaxOutputLines      int           `mapstructure:"max_output_lines"`
	LoopDetectionWindow int           `mapstructure:"loop_detection_window"`

	Logger LoggerConfig `mapstructure:"logger"`
}

// SetDefaults registers the optional settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderHTTP)
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("gollm_backend", "openai")
	v.SetDefault("max_tokens", 0)
	v.SetDefault("request_timeout", 2*time.Minute)
	v.SetDefault("requests_per_minute", 0)

	v.SetDefault("command_timeout", 5*time.Minute)
	v.SetDefault("working_dir", "")
	v.SetDefault("max_output_chars", 30000)
	v.SetDefault("max_output_lines", 0)
	v.SetDefault("loop_detection_window", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.console_level", "warn")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "shellpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", false)
}

// Option adjusts the viper instance before the document is decoded.
type Option func(v *viper.Viper) error

// WithFlags lets explicitly set command-line flags override the file.
// Only --max-queries and --log-level are recognised.
func WithFlags(flags *pflag.FlagSet) Option {
	return func(v *viper.Viper) error {
		bindings := map[string]string{
			"max_queries":  "max-queries",
			"logger.level": "log-level",
		}
		for key, name := range bindings {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
		return nil
	}
}

// Load reads the YAML document at path and the credential and model from
// the environment.
func Load(path string, opts ...Option) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("reading %s: %w", path, err)}
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing %s: %w", path, err)}
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decoding %s: %w", path, err)}
	}

	// The credential and model only come from the environment, never the file.
	env := viper.New()
	_ = env.BindEnv("api_key", EnvAPIKey)
	_ = env.BindEnv("model", EnvModel)
	cfg.APIKey = env.GetString("api_key")
	cfg.Model = env.GetString("model")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Goal = cfg.Goals[0]

	if cfg.WorkingDir, err = homedir.Expand(cfg.WorkingDir); err != nil {
		return nil, &ConfigError{Field: "working_dir", Err: err}
	}
	if cfg.Logger.LogFile, err = homedir.Expand(cfg.Logger.LogFile); err != nil {
		return nil, &ConfigError{Field: "logger.log_file", Err: err}
	}

	// viper lower-cases keys, so the prompt object is decoded again as written.
	prompt, tags, err := buildSystemPrompt(data, cfg.Goal)
	if err != nil {
		return nil, err
	}
	cfg.SystemPrompt = prompt
	cfg.ShellTags = tags

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fieldError(EnvAPIKey, "environment variable is not set")
	}
	if c.Model == "" {
		return fieldError(EnvModel, "environment variable is not set")
	}
	if len(c.Goals) == 0 || strings.TrimSpace(c.Goals[0]) == "" {
		return fieldError("goals", "at least one goal is required")
	}
	if c.MaxQueries <= 0 {
		return fieldError("max_queries", "must be a positive integer, got %d", c.MaxQueries)
	}
	if c.ResponseAttemptLimit <= 0 {
		return fieldError("response_attempt_limit", "must be a positive integer, got %d", c.ResponseAttemptLimit)
	}
	switch c.Provider {
	case ProviderHTTP, ProviderOpenAI, ProviderGollm:
	default:
		return fieldError("provider", "unknown provider %q", c.Provider)
	}
	if c.RequestTimeout < 0 {
		return fieldError("request_timeout", "must not be negative")
	}
	if c.CommandTimeout < 0 {
		return fieldError("command_timeout", "must not be negative")
	}
	if c.RequestsPerMinute < 0 {
		return fieldError("requests_per_minute", "must not be negative")
	}
	if c.LoopDetectionWindow < 0 {
		return fieldError("loop_detection_window", "must not be negative")
	}
	return nil
}

// buildSystemPrompt decodes the system_prompt mapping with its key order
// and spelling intact, sets goal and serialises the result as JSON.
func buildSystemPrompt(data []byte, goal string) (string, []string, error) {
	var doc struct {
		SystemPrompt yaml.Node `yaml:"system_prompt"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, &ConfigError{Field: "system_prompt", Err: err}
	}
	node := &doc.SystemPrompt
	if node.Kind == 0 {
		return "", nil, fieldError("system_prompt", "is required")
	}
	if node.Kind != yaml.MappingNode {
		return "", nil, fieldError("system_prompt", "must be a mapping")
	}

	var (
		buf      bytes.Buffer
		tags     []string
		sawGoal  bool
		sawValid bool
	)
	writeField := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	buf.WriteByte('{')
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return "", nil, &ConfigError{Field: "system_prompt." + key, Err: err}
		}
		switch key {
		case "goal":
			sawGoal = true
			value = goal
		case "VALID_CODE":
			sawValid = true
			if err := node.Content[i+1].Decode(&tags); err != nil {
				return "", nil, fieldError("system_prompt.VALID_CODE", "must be a list of shell tags")
			}
		}
		if err := writeField(key, value); err != nil {
			return "", nil, &ConfigError{Field: "system_prompt." + key, Err: err}
		}
	}
	if !sawGoal {
		if err := writeField("goal", goal); err != nil {
			return "", nil, &ConfigError{Field: "system_prompt.goal", Err: err}
		}
	}
	buf.WriteByte('}')

	if !sawValid || len(tags) == 0 {
		return "", nil, fieldError("system_prompt.VALID_CODE", "at least one shell tag is required")
	}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			return "", nil, fieldError("system_prompt.VALID_CODE", "shell tags must not be empty")
		}
	}
	return buf.String(), tags, nil
}
