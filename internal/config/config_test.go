package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("CROSSTASK_DB", "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Experiment.BreakDuration != 3*time.Second {
		t.Errorf("BreakDuration = %v, want 3s", cfg.Experiment.BreakDuration)
	}
	if cfg.Experiment.FocusTimeout != 15*time.Second || cfg.Experiment.IdleThreshold != 30*time.Second {
		t.Errorf("watchdogs = %+v", cfg.Experiment)
	}
	if cfg.Experiment.BasePrompts != 3 || cfg.Experiment.MaxTokens != 300 {
		t.Errorf("budget = %d/%d", cfg.Experiment.BasePrompts, cfg.Experiment.MaxTokens)
	}
	if cfg.Chat.Backend != "none" {
		t.Errorf("Chat.Backend = %q", cfg.Chat.Backend)
	}
	want := filepath.Join(dir, "data", "crosstask", "recorder.spool.jsonl")
	if cfg.Recorder.SpoolPath != want {
		t.Errorf("SpoolPath = %q, want %q", cfg.Recorder.SpoolPath, want)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CROSSTASK_EXPERIMENT_BREAK_DURATION", "5s")
	t.Setenv("CROSSTASK_EXPERIMENT_BASE_PROMPTS", "4")
	t.Setenv("CROSSTASK_ACCESS_CODES", "alpha,beta")
	t.Setenv("CROSSTASK_DB", "/tmp/x.db")
	t.Setenv("CROSSTASK_ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Experiment.BreakDuration != 5*time.Second {
		t.Errorf("BreakDuration = %v", cfg.Experiment.BreakDuration)
	}
	if cfg.Experiment.BasePrompts != 4 {
		t.Errorf("BasePrompts = %d", cfg.Experiment.BasePrompts)
	}
	if len(cfg.Access.Codes) != 2 || cfg.Access.Codes[1] != "beta" {
		t.Errorf("Codes = %v", cfg.Access.Codes)
	}
	if cfg.Store.Path != "/tmp/x.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("Anthropic key = %q", cfg.LLM.Anthropic.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	doc := `
experiment:
  break_duration: 10s
chat:
  backend: http
  endpoint: http://localhost:9000/chat
server:
  addr: 127.0.0.1:9999
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Experiment.BreakDuration != 10*time.Second {
		t.Errorf("BreakDuration = %v", cfg.Experiment.BreakDuration)
	}
	if cfg.Experiment.IdleCountdown != 5*time.Second {
		t.Errorf("unset key lost its default: %v", cfg.Experiment.IdleCountdown)
	}
	if cfg.Chat.Backend != "http" || cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("cfg = %+v %+v", cfg.Chat, cfg.Server)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero break", func(c *Config) { c.Experiment.BreakDuration = 0 }, "experiment.break_duration"},
		{"negative idle", func(c *Config) { c.Experiment.IdleThreshold = -time.Second }, "experiment.idle_threshold"},
		{"no prompts", func(c *Config) { c.Experiment.BasePrompts = 0 }, "experiment.base_prompts"},
		{"no tokens", func(c *Config) { c.Experiment.MaxTokens = 0 }, "experiment.max_tokens"},
		{"http without endpoint", func(c *Config) { c.Chat.Backend = "http" }, "chat.endpoint"},
		{"unknown backend", func(c *Config) { c.Chat.Backend = "carrier-pigeon" }, "chat.backend"},
		{"llm without key", func(c *Config) { c.Chat.Backend = "llm"; c.LLM.Provider = "openai" }, "CROSSTASK_OPENAI_API_KEY"},
		{"llm mock", func(c *Config) { c.Chat.Backend = "llm"; c.LLM.Provider = "mock" }, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", "crosstask", "config.yaml")

	c := Default()
	c.Experiment.BreakDuration = 7 * time.Second
	c.Access.Codes = []string{"p1", "p2"}
	if err := WriteFile(path, c, false); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(path, c, false); err == nil {
		t.Error("expected refusal to overwrite without force")
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "break_duration: 7s") {
		t.Errorf("durations not human-readable:\n%s", data)
	}

	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Experiment.BreakDuration != 7*time.Second || len(got.Access.Codes) != 2 {
		t.Errorf("round trip = %+v %+v", got.Experiment, got.Access)
	}
}

func TestRender_RedactsKeys(t *testing.T) {
	c := Default()
	c.LLM.OpenAI.APIKey = "sk-1234567890abcdef"
	out, err := Render(c, true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "sk-1234567890abcdef") {
		t.Error("API key not redacted")
	}
	if !strings.Contains(string(out), "sk-1****cdef") {
		t.Errorf("masked key missing:\n%s", out)
	}
}

func TestGameConfig(t *testing.T) {
	c := Default()
	c.Experiment.IdlePoll = 2 * time.Second
	gc := c.Game()
	if gc.Engage.PollInterval != 2*time.Second || gc.Limits.BasePrompts != 3 || len(gc.Rules) == 0 {
		t.Errorf("Game() = %+v", gc)
	}
}
