// Package config loads the bot's configuration from a JSON or YAML file and
// the process environment, and validates it before anything starts.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"relaybot/internal/domain"
)

// DefaultPath is used when neither --config nor RELAYBOT_CONFIG is given.
const DefaultPath = "relaybot.yaml"

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	yamlMarshal   = yaml.Marshal
	writeFile     = os.WriteFile
)

// Defaults returns a Config populated with the documented default values.
// Secrets are left empty.
func Defaults() *domain.Config {
	return &domain.Config{
		Telegram: domain.TelegramConfig{
			PollTimeout:     60,
			CommandPrefixes: []string{"!", "/"},
			AllowedUsers:    []int64{},
		},
		OpenAI: domain.OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   150,
			Temperature: 0.7,
			TimeoutSecs: 30,
		},
		Limits: domain.LimitsConfig{
			MaxRequestsPerMinute: 20,
			WindowSeconds:        60,
			CleanupSeconds:       300,
			RateLimitSeconds:     3,
			MaxMessageLength:     2000,
		},
		Context: domain.ContextConfig{
			MaxContextLength: 10,
			Encoding:         "cl100k_base",
		},
		Retry: domain.RetryConfig{
			MaxRetries:   3,
			RetryDelayMS: 1000,
		},
		Gateway: domain.GatewayConfig{Port: 8080},
		Infra:   domain.InfraConfig{LogFormat: "json", LogLevel: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// The format is chosen by extension: .yaml/.yml for YAML, anything else JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse %s: %w", filepath.Base(path), err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	CleanPaths(cfg)
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults plus
// environment overrides. This lets the bot run from the environment alone.
func LoadOrDefault(path string) (*domain.Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = Defaults()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	CleanPaths(cfg)
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg fields from the environment. Unset or empty variables
// leave the field alone; malformed numbers are an error naming the variable.
func ApplyEnv(cfg *domain.Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}
	e.stringVar("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	e.stringVar("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	e.stringVar("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	e.stringVar("OPENAI_MODEL", &cfg.OpenAI.Model)
	e.intVar("OPENAI_MAX_TOKENS", &cfg.OpenAI.MaxTokens)
	e.floatVar("OPENAI_TEMPERATURE", &cfg.OpenAI.Temperature)
	e.intVar("MAX_REQUESTS_PER_MINUTE", &cfg.Limits.MaxRequestsPerMinute)
	e.intVar("RATE_LIMIT_SECONDS", &cfg.Limits.RateLimitSeconds)
	e.intVar("MAX_MESSAGE_LENGTH", &cfg.Limits.MaxMessageLength)
	e.intVar("MAX_CONTEXT_LENGTH", &cfg.Context.MaxContextLength)
	e.intVar("CONTEXT_TOKEN_BUDGET", &cfg.Context.TokenBudget)
	e.stringVar("SYSTEM_PROMPT", &cfg.Context.SystemPrompt)
	e.stringVar("SYSTEM_PROMPT_FILE", &cfg.Context.SystemPromptFile)
	e.intVar("MAX_RETRIES", &cfg.Retry.MaxRetries)
	e.intVar("RETRY_DELAY_MS", &cfg.Retry.RetryDelayMS)
	e.intVar("GATEWAY_PORT", &cfg.Gateway.Port)
	e.stringVar("GATEWAY_TOKEN", &cfg.Gateway.AuthToken)
	e.stringVar("LOG_LEVEL", &cfg.Infra.LogLevel)
	e.stringVar("LOG_FORMAT", &cfg.Infra.LogFormat)
	if v, ok := e.get("GATEWAY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("GATEWAY_ENABLED: %w", err))
		} else {
			cfg.Gateway.Enabled = b
		}
	}
	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) stringVar(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) floatVar(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

// CleanPaths applies filepath.Clean to the path fields of cfg.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if p := cfg.Context.SystemPromptFile; p != "" {
		cfg.Context.SystemPromptFile = filepath.Clean(p)
	}
}

// WriteDefault writes the default Config to path. Parent directories are not created.
func WriteDefault(path string) error {
	data, err := encode(path, Defaults())
	if err != nil {
		return err
	}
	return writeFile(path, data, 0600)
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0600); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}

func encode(path string, cfg *domain.Config) ([]byte, error) {
	if isYAML(path) {
		return yamlMarshal(cfg)
	}
	return marshalIndent(cfg, "", "  ")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
