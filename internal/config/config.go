// Package config loads charbot settings from a YAML (or JSON) file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/identity"
	"github.com/vthunder/charbot/internal/textgen"
)

// MaxHistoryLimit is the most messages Discord returns for one history fetch.
const MaxHistoryLimit = 100

// Config is the full bot configuration. The sampling fields sit at the top
// level of the file.
type Config struct {
	DiscordToken string `yaml:"-"`

	TextgenURL string        `yaml:"textgen_url"`
	ModelURL   string        `yaml:"model_url"`
	Timeout    time.Duration `yaml:"timeout"`

	CharactersDir string `yaml:"characters_dir"`
	TemplatePath  string `yaml:"template_path"`
	WebhookName   string `yaml:"webhook_name"`

	Workers       int    `yaml:"workers"`
	FallbackReply string `yaml:"fallback_reply"`
	MetricsAddr   string `yaml:"metrics_addr"`

	History HistoryConfig `yaml:"history"`

	Sampling textgen.Sampling `yaml:",inline"`
}

// HistoryConfig selects the windowing variant.
type HistoryConfig struct {
	Limit    int  `yaml:"limit"`
	Fence    bool `yaml:"fence"`
	SkipSelf bool `yaml:"skip_self"`
}

// Options converts to history options.
func (h HistoryConfig) Options() history.Options {
	return history.Options{Limit: h.Limit, Fence: h.Fence, SkipSelf: h.SkipSelf}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	opts := history.DefaultOptions()
	return Config{
		TextgenURL:    "http://localhost:7860/run/textgen",
		ModelURL:      "http://localhost:5000/api/v1/model",
		Timeout:       textgen.DefaultTimeout,
		CharactersDir: "characters",
		TemplatePath:  "prompt_template.txt",
		WebhookName:   identity.DefaultName,
		Workers:       16,
		History:       HistoryConfig{Limit: opts.Limit, Fence: opts.Fence, SkipSelf: opts.SkipSelf},
		Sampling:      textgen.DefaultSampling(),
	}
}

// Load reads path (if set) over the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithMessage(err, "could not load config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WithMessage(err, "couldn't unmarshal config")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.DiscordToken = strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	c.TextgenURL = getEnvOrDefault("TEXTGEN_URL", c.TextgenURL)
	c.ModelURL = getEnvOrDefault("MODEL_URL", c.ModelURL)
	c.CharactersDir = getEnvOrDefault("CHARACTERS_DIR", c.CharactersDir)
	c.TemplatePath = getEnvOrDefault("PROMPT_TEMPLATE", c.TemplatePath)
	c.WebhookName = getEnvOrDefault("WEBHOOK_NAME", c.WebhookName)
	c.FallbackReply = getEnvOrDefault("FALLBACK_REPLY", c.FallbackReply)
	c.MetricsAddr = getEnvOrDefault("METRICS_ADDR", c.MetricsAddr)

	if raw := strings.TrimSpace(os.Getenv("GENERATION_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid GENERATION_TIMEOUT value %q: %w", raw, err)
		}
		c.Timeout = d
	}

	var err error
	if c.History.Limit, err = parseIntEnv("HISTORY_LIMIT", c.History.Limit); err != nil {
		return err
	}
	if c.History.Fence, err = parseBoolEnv("HISTORY_FENCE", c.History.Fence); err != nil {
		return err
	}
	if c.History.SkipSelf, err = parseBoolEnv("HISTORY_SKIP_SELF", c.History.SkipSelf); err != nil {
		return err
	}
	if c.Workers, err = parseIntEnv("WORKERS", c.Workers); err != nil {
		return err
	}
	return nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch {
	case c.DiscordToken == "":
		return errors.New("DISCORD_TOKEN environment variable required")
	case c.TextgenURL == "":
		return errors.New("textgen_url is required")
	case c.ModelURL == "":
		return errors.New("model_url is required")
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.History.Limit <= 0:
		return errors.Errorf("history limit must be positive, got %d", c.History.Limit)
	case c.History.Limit > MaxHistoryLimit:
		return errors.Errorf("history limit must be at most %d, got %d", MaxHistoryLimit, c.History.Limit)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Textgen returns the generation client settings.
func (c *Config) Textgen() textgen.Config {
	return textgen.Config{
		GenerateURL: c.TextgenURL,
		ModelURL:    c.ModelURL,
		Sampling:    c.Sampling,
		Timeout:     c.Timeout,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
