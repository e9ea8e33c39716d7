// Package config loads pipeline configuration from a YAML file, a .env file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/logging"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Errors reported by Validate.
var (
	// ErrMissingAPIKey is returned when a required API key is not set.
	ErrMissingAPIKey = errors.New("missing api key")

	// ErrNoQueries is returned when no search query is configured.
	ErrNoQueries = errors.New("no search queries configured")

	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config holds the pipeline configuration.
// API keys and connection URLs come from the environment only.
type Config struct {
	YouTubeAPIKey string `yaml:"-"`
	GeminiAPIKey  string `yaml:"-"`
	RedisURL      string `yaml:"-"`
	DatabaseURL   string `yaml:"-"`

	Queries     []string `yaml:"queries"`
	MaxPerQuery int      `yaml:"max_per_query"`
	SearchRPS   float64  `yaml:"search_rps"` // 0 disables the limit

	Model       string        `yaml:"model"`
	Workers     int           `yaml:"workers"`
	Delay       time.Duration `yaml:"delay"` // pause after each analysis call
	PromptsFile string        `yaml:"prompts_file"`
	PromptKey   string        `yaml:"prompt_key"`

	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`   // linear backoff unit
	CallTimeout time.Duration `yaml:"call_timeout"` // per attempt, 0 disables

	OutputDir   string        `yaml:"output_dir"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
	MetricsAddr string        `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Endpoint overrides, used against local mocks.
	YouTubeEndpoint string `yaml:"youtube_endpoint"`
	GeminiBaseURL   string `yaml:"gemini_base_url"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Queries:     []string{},
		MaxPerQuery: 1,
		Model:       "gemini-2.0-flash-lite",
		Workers:     1,
		Delay:       10 * time.Second,
		PromptsFile: "prompts.yaml",
		PromptKey:   "charlie_v1",
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		CallTimeout: 5 * time.Minute,
		OutputDir:   "output",
		RedisTTL:    7 * 24 * time.Hour,
		LogLevel:    "info",
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment, in that order of precedence. An empty path falls back to
// CONFIG_FILE and then "config.yaml". A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CONFIG_FILE", "config.yaml")
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Config file is optional
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.YouTubeAPIKey = getEnv("YOUTUBE_DATA_API_KEY", c.YouTubeAPIKey)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.Model = getEnv("GEMINI_MODEL", c.Model)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.LogPretty = pretty
	}
	return nil
}

// Validate reports configuration that would make a run pointless.
func (c *Config) Validate() error {
	var errs []error
	if c.YouTubeAPIKey == "" {
		errs = append(errs, fmt.Errorf("%w: YOUTUBE_DATA_API_KEY", ErrMissingAPIKey))
	}
	if c.GeminiAPIKey == "" {
		errs = append(errs, fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingAPIKey))
	}
	if len(c.NonEmptyQueries()) == 0 {
		errs = append(errs, ErrNoQueries)
	}
	if c.MaxPerQuery < 0 {
		errs = append(errs, fmt.Errorf("max_per_query must not be negative, got %d", c.MaxPerQuery))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel))
	}
	if c.Delay < 0 || c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("delays must not be negative"))
	}
	return errors.Join(errs...)
}

// NonEmptyQueries returns the configured queries without blank entries.
func (c *Config) NonEmptyQueries() []string {
	out := make([]string, 0, len(c.Queries))
	for _, q := range c.Queries {
		if strings.TrimSpace(q) != "" {
			out = append(out, q)
		}
	}
	return out
}

// LoadPrompt returns the prompt stored under key in the YAML prompts file at
// path. The file maps prompt names to prompt text.
func LoadPrompt(path, key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompts file: %w", err)
	}

	var prompts map[string]string
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return "", fmt.Errorf("parse prompts file %s: %w", path, err)
	}

	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not found in %s", key, path)
	}
	return prompt, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
