// Package cli implements the non-daemon subcommands of relaybot.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/retry"
	"relaybot/internal/secrets"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Path    string        // config file; missing is allowed when the environment supplies the rest
	Fix     bool          // if true, write a default config when missing
	Secrets secrets.Store // optional; fills credentials the file and environment leave empty
}

// RunCheck loads and validates the configuration the daemon would use and
// prints a short report. Returns the process exit code.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	note := func(section, format string, args ...any) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, fmt.Sprintf(format, args...))
	}

	// 1. Config file
	cfg, err := config.Load(opts.Path)
	switch {
	case err == nil:
		note("Config", "Loaded %s.", opts.Path)
	case errors.Is(err, os.ErrNotExist):
		note("Config", "No config at %s.", opts.Path)
		if opts.Fix {
			if writeErr := config.WriteDefault(opts.Path); writeErr != nil {
				fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
				return 1
			}
			note("Config", "Wrote default config to %s.", opts.Path)
		} else {
			note("Config", "Using defaults and environment. Run with --fix to create %s.", opts.Path)
		}
		if cfg, err = config.LoadOrDefault(opts.Path); err != nil {
			note("Config", "%v", err)
			return 1
		}
	default:
		note("Config", "%v", err)
		return 1
	}

	// 2. Validation
	if err := secrets.Fill(cfg, opts.Secrets); err != nil {
		note("Secrets", "%v", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}
	note("Config", "Valid.")

	// 3. Upstream API
	note("OpenAI", "model=%s maxTokens=%d temperature=%g base=%s",
		cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, cfg.OpenAI.BaseURL)
	note("Retry", "%d attempts, backoff %s", cfg.Retry.MaxRetries, backoffSchedule(cfg.Retry))

	// 4. Limits and context
	note("Limits", "%d requests per %s, messages up to %d characters",
		cfg.Limits.MaxRequestsPerMinute, cfg.Limits.Window(), cfg.Limits.MaxMessageLength)
	note("Context", "last %d exchanges kept", cfg.Context.MaxContextLength)
	if cfg.Context.TokenBudget > 0 {
		note("Context", "token budget %d (%s)", cfg.Context.TokenBudget, cfg.Context.Encoding)
	}
	if p := cfg.Context.SystemPromptFile; p != "" {
		if _, err := os.Stat(p); err != nil {
			note("Prompt", "system prompt file %s: %v", p, err)
		} else {
			note("Prompt", "system prompt file %s ok.", p)
		}
	}

	// 5. Access
	if n := config.NewAllowlist(cfg).Len(); n > 0 {
		note("Access", "%d allowed users.", n)
	} else {
		note("Access", "Open to every Telegram user.")
	}

	// 6. Gateway
	if cfg.Gateway.Enabled {
		note("Gateway", "port=%d, bearer auth on /ws and /metrics", cfg.Gateway.Port)
	} else {
		note("Gateway", "disabled")
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

// backoffSchedule renders the waits between attempts for rate-limit failures,
// e.g. "1s 2s" for three attempts with a one second base.
func backoffSchedule(rc domain.RetryConfig) string {
	if rc.MaxRetries < 2 {
		return "none"
	}
	waits := make([]string, 0, rc.MaxRetries-1)
	for attempt := 1; attempt < rc.MaxRetries; attempt++ {
		d := retry.Backoff(domain.KindRateLimited, rc.RetryDelay(), attempt)
		waits = append(waits, d.Round(time.Millisecond).String())
	}
	return strings.Join(waits, " ")
}
