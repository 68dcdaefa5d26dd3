package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/config"
	"relaybot/internal/conversation"
	"relaybot/internal/domain"
	"relaybot/internal/gateway"
	"relaybot/internal/handler"
	"relaybot/internal/llm"
	"relaybot/internal/obs"
	"relaybot/internal/prompt"
	"relaybot/internal/ratelimit"
	"relaybot/internal/retry"
	"relaybot/internal/scheduler"
	"relaybot/internal/secrets"
	"relaybot/internal/telegram"
	"relaybot/internal/tokenizer"
	"relaybot/internal/validate"
	"relaybot/internal/window"
)

// newBotAPI connects to Telegram and returns the client with the bot's own user ID; tests replace it.
var newBotAPI = func(token string) (telegram.BotAPI, int64, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, 0, err
	}
	return bot, bot.Self.ID, nil
}

// errUpdatesClosed is returned when Telegram stops delivering updates before shutdown.
var errUpdatesClosed = errors.New("telegram update stream closed")

// app is the assembled daemon.
type app struct {
	logger    zerolog.Logger
	metrics   *obs.Metrics
	limiter   *ratelimit.Limiter
	store     *conversation.Store
	handler   *handler.Handler
	adapter   *telegram.Adapter
	gateway   *gateway.Server // nil when disabled
	scheduler *scheduler.Scheduler
	prompt    *prompt.FileSource // nil without a prompt file
}

// buildApp wires every component from cfg. cfg must already be validated.
func buildApp(cfg *domain.Config, logger zerolog.Logger, bot telegram.BotAPI, selfID int64) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(reg)

	a := &app{logger: logger, metrics: metrics}

	a.limiter = ratelimit.New(ratelimit.Config{
		MaxRequests:     cfg.Limits.MaxRequestsPerMinute,
		Window:          cfg.Limits.Window(),
		CleanupInterval: cfg.Limits.CleanupInterval(),
	}, ratelimit.WithLogger(logger.With().Str("component", "ratelimit").Logger()), ratelimit.WithMetrics(metrics))
	a.store = conversation.NewStore(cfg.Context.MaxContextLength)

	client := llm.NewClient(
		llm.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL),
		llm.ClientConfig{
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout(),
			Retry:       retry.Config{MaxAttempts: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.RetryDelay()},
		},
		llm.WithLogger(logger.With().Str("component", "llm").Logger()),
		llm.WithMetrics(metrics),
	)

	deps := handler.Deps{
		Limiter:   a.limiter,
		Store:     a.store,
		Responder: client,
		Validator: validate.Validator{MaxLength: cfg.Limits.MaxMessageLength},
		Prompt:    prompt.Static(cfg.Context.SystemPrompt),
		Model:     client.ModelInfo(),
	}
	if path := cfg.Context.SystemPromptFile; path != "" {
		a.prompt = prompt.NewFileSource(path,
			prompt.WithLogger(logger.With().Str("component", "prompt").Logger()),
			prompt.WithFallback(cfg.Context.SystemPrompt),
		)
		if err := a.prompt.Load(); err != nil {
			return nil, err
		}
		deps.Prompt = a.prompt
	}
	if cfg.Context.TokenBudget > 0 {
		tok, err := tokenizer.ForModel(cfg.OpenAI.Model, cfg.Context.Encoding)
		if err != nil {
			logger.Warn().Err(err).Msg("tokenizer unavailable, token budget disabled")
		} else {
			win := window.NewManager(tok, cfg.Context.TokenBudget)
			logger.Info().Int("budget", win.Budget()).Str("model", cfg.OpenAI.Model).Msg("token window enabled")
			deps.Window = win
		}
	}

	hcfg := handler.Config{
		CommandPrefixes:  cfg.Telegram.CommandPrefixes,
		RateLimitSeconds: cfg.Limits.RateLimitSeconds,
	}
	if allow := config.NewAllowlist(cfg); allow.Len() > 0 {
		hcfg.Allowed = allow.Allows
	}
	a.handler = handler.New(deps, hcfg,
		handler.WithLogger(logger.With().Str("component", "handler").Logger()),
		handler.WithMetrics(metrics),
	)

	a.adapter = telegram.NewAdapter(bot, a.handler,
		telegram.WithLogger(logger.With().Str("component", "telegram").Logger()),
		telegram.WithSelfID(selfID),
		telegram.WithPollTimeout(cfg.Telegram.PollTimeout),
	)

	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(cfg.Gateway, a.handler,
			gateway.WithLogger(logger.With().Str("component", "gateway").Logger()),
			gateway.WithMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		a.gateway = gw
	}

	schedLog := logger.With().Str("component", "scheduler").Logger()
	a.scheduler = scheduler.NewScheduler(scheduler.NewRobfigCronEngine(schedLog), scheduler.WithLogger(schedLog))
	if err := a.scheduleHousekeeping(); err != nil {
		return nil, err
	}
	return a, nil
}

// scheduleHousekeeping registers the periodic limiter sweep and the stats report
// at the limiter's effective cleanup interval.
func (a *app) scheduleHousekeeping() error {
	interval := a.limiter.Config().CleanupInterval
	if err := a.scheduler.AddJob(scheduler.Job{
		ID:   "ratelimit-sweep",
		Name: "Evict idle rate-limit entries",
		Spec: scheduler.Every(interval),
		Run: func(context.Context) error {
			if n := a.limiter.Sweep(); n > 0 {
				a.logger.Debug().Int("removed", n).Msg("rate limiter swept")
			}
			return nil
		},
	}); err != nil {
		return err
	}
	return a.scheduler.AddJob(scheduler.Job{
		ID:   "stats",
		Name: "Report usage gauges",
		Spec: scheduler.Every(interval),
		Run: func(context.Context) error {
			st := a.limiter.Stats()
			conversations := a.store.Identities()
			a.metrics.SetLimiterIdentities(st.ActiveIdentities)
			a.metrics.SetConversations(conversations)
			a.logger.Info().
				Int("limiter_identities", st.ActiveIdentities).
				Int("conversations", conversations).
				Msg("stats")
			return nil
		},
	})
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (a *app) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.adapter.Start(ctx)
		if ctx.Err() == nil {
			return errUpdatesClosed
		}
		return nil
	})
	if a.gateway != nil {
		g.Go(func() error { return a.gateway.Run(ctx) })
	}
	g.Go(func() error { return a.scheduler.Run(ctx) })
	if a.prompt != nil {
		g.Go(func() error {
			// Hot reload is best effort; the loaded prompt stays in effect.
			if err := a.prompt.Run(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("system prompt watcher stopped")
			}
			return nil
		})
	}

	a.logger.Info().Bool("gateway", a.gateway != nil).Msg("relaybot started")
	err := g.Wait()
	a.logger.Info().Msg("relaybot stopped")
	return err
}

// runDaemon loads configuration and runs the bot until ctx is done.
func runDaemon(ctx context.Context, path string, bm buildMeta, stderr io.Writer) error {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if s, err := openSecrets(); err == nil {
		if err := secrets.Fill(cfg, s); err != nil {
			return err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("%w\nrun 'relaybot check' for details", err)
	}

	logger := obs.SetupLogger(cfg.Infra.LogLevel, cfg.Infra.LogFormat, stderr).
		With().Str("version", bm.Version).Logger()

	bot, selfID, err := newBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	a, err := buildApp(cfg, logger, bot, selfID)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
