// Package config loads crosstask settings from defaults, an optional YAML
// file and CROSSTASK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/llm"
	"github.com/abhisek/crosstask/internal/recorder"
	"github.com/abhisek/crosstask/internal/store"
)

// Config is the full application configuration.
type Config struct {
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Store      StoreConfig      `mapstructure:"store"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	LLM        llm.Config       `mapstructure:"llm"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Access     AccessConfig     `mapstructure:"access"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// ExperimentConfig holds the session timings and the chat budget.
type ExperimentConfig struct {
	BreakDuration time.Duration `mapstructure:"break_duration"`
	FocusTimeout  time.Duration `mapstructure:"focus_timeout"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	IdleCountdown time.Duration `mapstructure:"idle_countdown"`
	IdlePoll      time.Duration `mapstructure:"idle_poll"`
	BasePrompts   int           `mapstructure:"base_prompts"`
	MaxTokens     int           `mapstructure:"max_tokens"`
}

// StoreConfig selects the database. Path is a SQLite file or a
// postgres:// URL; empty means the XDG data path.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RecorderConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	BatchSize     int           `mapstructure:"batch_size"`
	RetryInitial  time.Duration `mapstructure:"retry_initial"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
	SpoolPath     string        `mapstructure:"spool_path"`
	KeepSnapshots int           `mapstructure:"keep_snapshots"`
}

// ChatConfig picks the reply service: "llm", "http" or "none".
type ChatConfig struct {
	Backend  string        `mapstructure:"backend"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AccessConfig lists participant codes. An empty list admits everyone.
type AccessConfig struct {
	Codes []string `mapstructure:"codes"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
	File   string `mapstructure:"file"`   // "" picks a default per command
}

// Default returns the built-in configuration.
func Default() Config {
	gc := game.DefaultConfig()
	rc := recorder.DefaultConfig()
	return Config{
		Experiment: ExperimentConfig{
			BreakDuration: gc.BreakDuration,
			FocusTimeout:  gc.Engage.FocusTimeout,
			IdleThreshold: gc.Engage.IdleThreshold,
			IdleCountdown: gc.Engage.IdleCountdown,
			IdlePoll:      gc.Engage.PollInterval,
			BasePrompts:   gc.Limits.BasePrompts,
			MaxTokens:     gc.Limits.MaxTokens,
		},
		Recorder: RecorderConfig{
			QueueCapacity: rc.Capacity,
			BatchSize:     rc.BatchSize,
			RetryInitial:  rc.InitialWait,
			RetryMax:      rc.MaxWait,
			KeepSnapshots: rc.KeepSnapshots,
		},
		LLM: llm.DefaultConfig(),
		Chat: ChatConfig{
			Backend: "none",
			Timeout: 20 * time.Second,
		},
		Access: AccessConfig{Codes: []string{}},
		Server: ServerConfig{
			Addr:            ":8080",
			SessionTTL:      2 * time.Hour,
			JanitorInterval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envAliases are extra environment names accepted for a key, on top of
// the automatic CROSSTASK_<SECTION>_<KEY> form.
var envAliases = map[string][]string{
	"store.path":             {"CROSSTASK_DB"},
	"llm.anthropic.api_key":  {"CROSSTASK_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	"llm.openai.api_key":     {"CROSSTASK_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"llm.gemini.api_key":     {"CROSSTASK_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"llm.openrouter.api_key": {"CROSSTASK_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
	"llm.openai.base_url":    {"CROSSTASK_OPENAI_BASE_URL"},
}

// Load reads configuration. path may be empty, in which case
// config.yaml in DefaultDir is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range flatten(Default()) {
		v.SetDefault(key, val)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else if dir, err := DefaultDir(); err == nil {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("CROSSTASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, "CROSSTASK_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Recorder.SpoolPath == "" {
		if dir, err := store.DataDir(); err == nil {
			cfg.Recorder.SpoolPath = filepath.Join(dir, "recorder.spool.jsonl")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the experiment cannot run with.
func (c Config) Validate() error {
	var errs []string
	positive := map[string]time.Duration{
		"experiment.break_duration": c.Experiment.BreakDuration,
		"experiment.focus_timeout":  c.Experiment.FocusTimeout,
		"experiment.idle_threshold": c.Experiment.IdleThreshold,
		"experiment.idle_countdown": c.Experiment.IdleCountdown,
		"experiment.idle_poll":      c.Experiment.IdlePoll,
		"recorder.retry_initial":    c.Recorder.RetryInitial,
		"recorder.retry_max":        c.Recorder.RetryMax,
		"server.session_ttl":        c.Server.SessionTTL,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", key, positive[key]))
		}
	}
	if c.Experiment.BasePrompts <= 0 {
		errs = append(errs, fmt.Sprintf("experiment.base_prompts must be positive, got %d", c.Experiment.BasePrompts))
	}
	if c.Experiment.MaxTokens <= 0 {
		errs = append(errs, fmt.Sprintf("experiment.max_tokens must be positive, got %d", c.Experiment.MaxTokens))
	}
	if c.Recorder.QueueCapacity <= 0 {
		errs = append(errs, "recorder.queue_capacity must be positive")
	}

	switch c.Chat.Backend {
	case "none":
	case "http":
		if c.Chat.Endpoint == "" {
			errs = append(errs, "chat.endpoint is required for the http backend")
		}
	case "llm":
		if err := c.LLM.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.backend %q is invalid, must be one of: llm, http, none", c.Chat.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Game returns the machine configuration.
func (c Config) Game() game.Config {
	return game.Config{
		BreakDuration: c.Experiment.BreakDuration,
		Engage: engage.Config{
			FocusTimeout:  c.Experiment.FocusTimeout,
			IdleThreshold: c.Experiment.IdleThreshold,
			IdleCountdown: c.Experiment.IdleCountdown,
			PollInterval:  c.Experiment.IdlePoll,
		},
		Limits: budget.Limits{
			BasePrompts: c.Experiment.BasePrompts,
			MaxTokens:   c.Experiment.MaxTokens,
		},
		Rules: enhance.DefaultRules(),
	}
}

// RecorderConfig returns the recorder settings.
func (c Config) RecorderConfig() recorder.Config {
	rc := recorder.DefaultConfig()
	rc.Capacity = c.Recorder.QueueCapacity
	rc.BatchSize = c.Recorder.BatchSize
	rc.InitialWait = c.Recorder.RetryInitial
	rc.MaxWait = c.Recorder.RetryMax
	rc.SpoolPath = c.Recorder.SpoolPath
	rc.KeepSnapshots = c.Recorder.KeepSnapshots
	return rc
}

// DefaultDir returns $XDG_CONFIG_HOME/crosstask, or ~/.config/crosstask.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "crosstask"), nil
}

// DefaultPath is the config file Load reads when no path is given.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
