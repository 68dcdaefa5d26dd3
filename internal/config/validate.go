package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"relaybot/internal/domain"
)

// ErrInvalid wraps every validation failure so callers can test with errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// Validate reports every problem with cfg at once.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Telegram.Token == "" {
		add("telegram bot token is required (TELEGRAM_BOT_TOKEN)")
	}
	switch {
	case cfg.OpenAI.APIKey == "":
		add("OpenAI API key is required (OPENAI_API_KEY)")
	case !strings.HasPrefix(cfg.OpenAI.APIKey, "sk-"):
		add("OpenAI API key must start with sk-")
	}
	if cfg.OpenAI.Model == "" {
		add("openai.model must not be empty")
	}
	if cfg.OpenAI.MaxTokens <= 0 {
		add("openai.maxTokens must be positive, got %d", cfg.OpenAI.MaxTokens)
	}
	if t := cfg.OpenAI.Temperature; t < 0 || t > 2 {
		add("openai.temperature must be within [0, 2], got %g", t)
	}
	if cfg.OpenAI.TimeoutSecs <= 0 {
		add("openai.timeoutSeconds must be positive, got %d", cfg.OpenAI.TimeoutSecs)
	}

	positive := map[string]int{
		"limits.maxRequestsPerMinute": cfg.Limits.MaxRequestsPerMinute,
		"limits.windowSeconds":        cfg.Limits.WindowSeconds,
		"limits.cleanupSeconds":       cfg.Limits.CleanupSeconds,
		"limits.maxMessageLength":     cfg.Limits.MaxMessageLength,
		"context.maxContextLength":    cfg.Context.MaxContextLength,
		"retry.maxRetries":            cfg.Retry.MaxRetries,
	}
	for _, name := range sortedKeys(positive) {
		if v := positive[name]; v <= 0 {
			add("%s must be positive, got %d", name, v)
		}
	}
	if cfg.Limits.RateLimitSeconds < 0 {
		add("limits.rateLimitSeconds must not be negative")
	}
	if cfg.Context.TokenBudget < 0 {
		add("context.tokenBudget must not be negative")
	}
	if cfg.Retry.RetryDelayMS < 0 {
		add("retry.retryDelayMs must not be negative")
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.Enabled && cfg.Gateway.AuthToken == "" {
		add("gateway.authToken is required when the gateway is enabled (set GATEWAY_TOKEN)")
	}
	switch cfg.Infra.LogFormat {
	case "", "json", "text":
	default:
		add("infra.logFormat must be json or text, got %q", cfg.Infra.LogFormat)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(problems, "\n  - "))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
