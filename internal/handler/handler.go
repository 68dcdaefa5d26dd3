// Package handler turns inbound chat messages into rate-limited, validated,
// context-aware completion requests and replies.
package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"relaybot/internal/domain"
	"relaybot/internal/llm"
	"relaybot/internal/obs"
	"relaybot/internal/queue"
	"relaybot/internal/ratelimit"
	"relaybot/internal/validate"
)

// Outcome labels recorded per handled message.
const (
	OutcomeOK          = "ok"
	OutcomeIgnored     = "ignored"
	OutcomeCommand     = "command"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeAPIError    = "api_error"
)

// Event is one inbound chat message. Reply sends text back to where the message
// came from. Typing, when set, shows a busy indicator while the model is working.
type Event struct {
	Author   domain.Identity
	Text     string
	FromSelf bool
	Reply    func(ctx context.Context, text string) error
	Typing   func(ctx context.Context) error
}

// RateLimiter is the admission control the handler consults before any work.
type RateLimiter interface {
	Allow(id domain.Identity) bool
	WaitSeconds(id domain.Identity) int
	Stats() ratelimit.Stats
}

// Conversations is the per-identity history the handler reads and commits to.
type Conversations interface {
	With(id domain.Identity, extra ...domain.Message) []domain.Message
	AppendAll(id domain.Identity, msgs ...domain.Message)
	Clear(id domain.Identity)
	Identities() int
}

// Deps are the collaborators of a Handler. Prompt and Window are optional.
type Deps struct {
	Limiter   RateLimiter
	Store     Conversations
	Responder domain.Responder
	Validator validate.Validator
	Prompt    domain.PromptSource
	Window    domain.ContextManager
	Model     llm.ModelInfo
}

// Config holds the user-visible settings of the handler.
type Config struct {
	CommandPrefixes  []string
	RateLimitSeconds int
	LaneIdleTimeout  time.Duration
	// Allowed, when set, restricts the bot to identities it accepts. Others are ignored silently.
	Allowed func(domain.Identity) bool
}

// Handler is safe for concurrent use. Turns of one identity run in arrival order.
type Handler struct {
	deps     Deps
	cfg      Config
	lanes    *queue.LaneQueue
	commands map[string]commandFunc
	logger   zerolog.Logger
	metrics  *obs.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for turn outcomes. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics records message outcomes on m.
func WithMetrics(m *obs.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New returns a Handler. Limiter, Store and Responder must not be nil.
func New(deps Deps, cfg Config, opts ...Option) *Handler {
	if deps.Limiter == nil || deps.Store == nil || deps.Responder == nil {
		panic("handler: limiter, store and responder must not be nil")
	}
	if len(cfg.CommandPrefixes) == 0 {
		cfg.CommandPrefixes = []string{"!", "/"}
	}
	h := &Handler{
		deps:   deps,
		cfg:    cfg,
		lanes:  queue.NewLaneQueue(queue.WithIdleTimeout(cfg.LaneIdleTimeout)),
		logger: zerolog.Nop(),
	}
	h.commands = h.builtinCommands()
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one event to completion. It never returns an error: every
// failure path ends in a reply (or a logged send failure).
func (h *Handler) Handle(ctx context.Context, ev Event) {
	if err := <-h.Submit(ctx, ev); err != nil {
		h.laneFailed(ev, err)
	}
}

// Submit queues ev behind earlier events of the same author and returns without
// waiting for it. Events submitted from one goroutine are admitted, validated and
// committed in submission order. The channel yields nil once ev has been handled,
// or the lane error (cancellation, recovered panic).
func (h *Handler) Submit(ctx context.Context, ev Event) <-chan error {
	if ev.FromSelf {
		h.metrics.ObserveMessage(OutcomeIgnored)
		return handled
	}
	log := h.logger.With().Str("identity", ev.Author.String()).Logger()
	if h.cfg.Allowed != nil && !h.cfg.Allowed(ev.Author) {
		h.metrics.ObserveMessage(OutcomeIgnored)
		log.Debug().Msg("identity not on allowlist")
		return handled
	}
	return h.lanes.Submit(ctx, ev.Author, func() error {
		h.process(ctx, ev, log)
		return nil
	})
}

// handled is the result of an event that never needed a lane.
var handled = func() <-chan error {
	c := make(chan error)
	close(c)
	return c
}()

// process runs inside the author's lane, so admission follows arrival order.
func (h *Handler) process(ctx context.Context, ev Event, log zerolog.Logger) {
	if name, args, ok := h.parseCommand(ev.Text); ok {
		h.metrics.ObserveMessage(OutcomeCommand)
		h.runCommand(ctx, ev, name, args, log)
		return
	}

	if !h.deps.Limiter.Allow(ev.Author) {
		h.metrics.ObserveMessage(OutcomeRateLimited)
		denied := RateLimitError(h.deps.Limiter.WaitSeconds(ev.Author))
		log.Debug().Err(denied).Str("kind", denied.Kind.String()).Msg("rate limited")
		h.reply(ctx, ev, log, domain.UserMessageOf(denied))
		return
	}

	text, err := h.deps.Validator.Message(ev.Text)
	if err != nil {
		h.metrics.ObserveMessage(OutcomeInvalid)
		h.reply(ctx, ev, log, "Error: "+err.Error())
		return
	}

	h.turn(ctx, ev, text, log)
}

// turn runs one conversation turn. The user message is only committed together
// with the assistant reply, so a failed call leaves the history unchanged.
func (h *Handler) turn(ctx context.Context, ev Event, text string, log zerolog.Logger) {
	user := domain.UserMessage(text)
	history := h.deps.Store.With(ev.Author, user)

	if ev.Typing != nil {
		if err := ev.Typing(ctx); err != nil {
			log.Debug().Err(err).Msg("typing indicator failed")
		}
	}

	reply, err := h.deps.Responder.GetResponse(ctx, h.buildRequest(history, log))
	if err != nil {
		h.metrics.ObserveMessage(OutcomeAPIError)
		log.Error().Err(err).Str("kind", domain.KindOf(err).String()).Msg("completion failed")
		h.reply(ctx, ev, log, "Error: "+domain.UserMessageOf(err))
		return
	}

	h.deps.Store.AppendAll(ev.Author, user, domain.AssistantMessage(reply))
	h.metrics.ObserveMessage(OutcomeOK)
	h.metrics.SetConversations(h.deps.Store.Identities())
	h.reply(ctx, ev, log, reply)
}

// buildRequest fits the history to the token window and prepends the system prompt.
// The stored history is never modified.
func (h *Handler) buildRequest(history []domain.Message, log zerolog.Logger) []domain.Message {
	system := ""
	if h.deps.Prompt != nil {
		system = h.deps.Prompt.SystemPrompt()
	}
	if h.deps.Window != nil {
		fitted, err := h.deps.Window.FitToWindow(history, system)
		if err != nil {
			log.Warn().Err(err).Msg("token window fitting failed, sending full history")
		} else {
			history = fitted
		}
	}
	if system == "" {
		return history
	}
	msgs := make([]domain.Message, 0, len(history)+1)
	msgs = append(msgs, domain.SystemMessage(system))
	return append(msgs, history...)
}

// laneFailed logs a turn that ended without running (cancellation) or panicked.
// The caller has nothing to reply with at that point.
func (h *Handler) laneFailed(ev Event, err error) {
	log := h.logger.With().Str("identity", ev.Author.String()).Logger()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debug().Err(err).Msg("turn abandoned")
		return
	}
	log.Error().Err(err).Msg("turn failed")
}

func (h *Handler) reply(ctx context.Context, ev Event, log zerolog.Logger, text string) {
	if ev.Reply == nil {
		return
	}
	if err := ev.Reply(ctx, text); err != nil {
		log.Warn().Err(err).Msg("reply failed")
	}
}

// RateLimitError is the local admission denial. Its user message tells the
// requester how long to wait.
func RateLimitError(waitSeconds int) *domain.Error {
	return &domain.Error{
		Kind: domain.KindRateLimitExceeded,
		Msg:  "Please wait " + strconv.Itoa(waitSeconds) + " seconds before sending another message.",
	}
}
