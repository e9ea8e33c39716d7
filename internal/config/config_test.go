package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable the loader reads for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "YOUTUBE_DATA_API_KEY", "GEMINI_API_KEY", "GEMINI_MODEL",
		"REDIS_URL", "DATABASE_URL", "OUTPUT_DIR", "METRICS_ADDR", "LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.MaxPerQuery != 1 || cfg.Workers != 1 {
		t.Errorf("MaxPerQuery = %d, Workers = %d, want 1 and 1", cfg.MaxPerQuery, cfg.Workers)
	}
	if cfg.Delay != 10*time.Second || cfg.BaseDelay != 30*time.Second {
		t.Errorf("Delay = %v, BaseDelay = %v", cfg.Delay, cfg.BaseDelay)
	}
	if cfg.Model != "gemini-2.0-flash-lite" || cfg.PromptKey != "charlie_v1" {
		t.Errorf("Model = %s, PromptKey = %s", cfg.Model, cfg.PromptKey)
	}
	if cfg.MaxAttempts != want.MaxAttempts || cfg.OutputDir != want.OutputDir {
		t.Errorf("MaxAttempts = %d, OutputDir = %s", cfg.MaxAttempts, cfg.OutputDir)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.yaml", `
queries:
  - "campus debate"
  - "town hall"
max_per_query: 5
workers: 2
delay: 2s
base_delay: 1m
search_rps: 1.5
prompt_key: other_v2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Queries) != 2 || cfg.Queries[1] != "town hall" {
		t.Errorf("Queries = %v", cfg.Queries)
	}
	if cfg.MaxPerQuery != 5 || cfg.Workers != 2 {
		t.Errorf("MaxPerQuery = %d, Workers = %d", cfg.MaxPerQuery, cfg.Workers)
	}
	if cfg.Delay != 2*time.Second || cfg.BaseDelay != time.Minute {
		t.Errorf("Delay = %v, BaseDelay = %v", cfg.Delay, cfg.BaseDelay)
	}
	if cfg.SearchRPS != 1.5 {
		t.Errorf("SearchRPS = %v", cfg.SearchRPS)
	}
	if cfg.PromptKey != "other_v2" {
		t.Errorf("PromptKey = %s", cfg.PromptKey)
	}
	// Unset keys keep their defaults.
	if cfg.Model != "gemini-2.0-flash-lite" {
		t.Errorf("Model = %s, want default", cfg.Model)
	}
}

func TestLoad_ConfigFileEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "custom.yaml", "workers: 4\n")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "model: from-file\noutput_dir: file-out\n")

	t.Setenv("YOUTUBE_DATA_API_KEY", "yt")
	t.Setenv("GEMINI_API_KEY", "gm")
	t.Setenv("GEMINI_MODEL", "from-env")
	t.Setenv("OUTPUT_DIR", "env-out")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost/narrative")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := map[string][2]string{
		"YouTubeAPIKey": {cfg.YouTubeAPIKey, "yt"},
		"GeminiAPIKey":  {cfg.GeminiAPIKey, "gm"},
		"Model":         {cfg.Model, "from-env"},
		"OutputDir":     {cfg.OutputDir, "env-out"},
		"RedisURL":      {cfg.RedisURL, "redis://localhost:6379/0"},
		"DatabaseURL":   {cfg.DatabaseURL, "postgres://localhost/narrative"},
		"MetricsAddr":   {cfg.MetricsAddr, ":9090"},
		"LogLevel":      {cfg.LogLevel, "debug"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}
	if !cfg.LogPretty {
		t.Error("LogPretty should be true")
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "workers: [\n")
		if _, err := Load(path); err == nil {
			t.Error("Load() should fail on invalid YAML")
		}
	})

	t.Run("invalid LOG_PRETTY", func(t *testing.T) {
		t.Setenv("LOG_PRETTY", "sometimes")
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Load() should fail on invalid LOG_PRETTY")
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.YouTubeAPIKey = "yt"
		cfg.GeminiAPIKey = "gm"
		cfg.Queries = []string{"q"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing youtube key", func(c *Config) { c.YouTubeAPIKey = "" }, ErrMissingAPIKey},
		{"missing gemini key", func(c *Config) { c.GeminiAPIKey = "" }, ErrMissingAPIKey},
		{"no queries", func(c *Config) { c.Queries = nil }, ErrNoQueries},
		{"blank queries", func(c *Config) { c.Queries = []string{"", "  "} }, ErrNoQueries},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{"empty log level", func(c *Config) { c.LogLevel = "" }, ErrInvalidLogLevel},
		{"uppercase log level", func(c *Config) { c.LogLevel = "WARN" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Ranges(t *testing.T) {
	cfg := Default()
	cfg.YouTubeAPIKey = "yt"
	cfg.GeminiAPIKey = "gm"
	cfg.Queries = []string{"q"}
	cfg.Workers = 0
	cfg.MaxPerQuery = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	if !strings.Contains(err.Error(), "workers") || !strings.Contains(err.Error(), "max_per_query") {
		t.Errorf("Validate() error = %v, want both range errors", err)
	}
}

func TestNonEmptyQueries(t *testing.T) {
	cfg := Config{Queries: []string{"a", "", " ", "b"}}
	got := cfg.NonEmptyQueries()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("NonEmptyQueries() = %v", got)
	}
}

func TestLoadPrompt(t *testing.T) {
	path := writeFile(t, "prompts.yaml", `
charlie_v1: |
  You are a media analyst.
  Return JSON with topic and framing.
short_v1: "Return a topic."
`)

	got, err := LoadPrompt(path, "charlie_v1")
	if err != nil {
		t.Fatalf("LoadPrompt() error = %v", err)
	}
	if !strings.HasPrefix(got, "You are a media analyst.") {
		t.Errorf("LoadPrompt() = %q", got)
	}

	got, err = LoadPrompt(path, "short_v1")
	if err != nil || got != "Return a topic." {
		t.Errorf("LoadPrompt(short_v1) = %q, %v", got, err)
	}

	if _, err := LoadPrompt(path, "missing"); err == nil {
		t.Error("LoadPrompt() should fail for an unknown key")
	}
	if _, err := LoadPrompt(filepath.Join(t.TempDir(), "none.yaml"), "charlie_v1"); err == nil {
		t.Error("LoadPrompt() should fail for a missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, ".env", "GEMINI_MODEL=from-dotenv\nYOUTUBE_DATA_API_KEY=dot\n")
	t.Setenv("YOUTUBE_DATA_API_KEY", "already-set")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("GEMINI_MODEL") })

	if got := os.Getenv("GEMINI_MODEL"); got != "from-dotenv" {
		t.Errorf("GEMINI_MODEL = %q, want from-dotenv", got)
	}
	if got := os.Getenv("YOUTUBE_DATA_API_KEY"); got != "already-set" {
		t.Errorf("YOUTUBE_DATA_API_KEY = %q, existing value should win", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadDotEnv() on missing file error = %v", err)
	}
}
