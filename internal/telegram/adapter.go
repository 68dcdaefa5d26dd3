package telegram

import (
	"context"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"relaybot/internal/domain"
	"relaybot/internal/handler"
)

// maxMessageRunes is Telegram's limit for a single text message.
const maxMessageRunes = 4096

// BotAPI abstracts the Telegram Bot API for testing.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// MessageHandler queues one inbound chat event (implemented by handler.Handler).
// Submit must not wait for the turn; the returned channel reports when it is done.
type MessageHandler interface {
	Submit(ctx context.Context, ev handler.Event) <-chan error
}

// Adapter bridges Telegram updates to the message handler.
type Adapter struct {
	bot         BotAPI
	handler     MessageHandler
	selfID      int64
	pollTimeout int
	logger      zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithSelfID marks messages from this user ID as the bot's own.
func WithSelfID(id int64) Option {
	return func(a *Adapter) { a.selfID = id }
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(a *Adapter) {
		if seconds > 0 {
			a.pollTimeout = seconds
		}
	}
}

// NewAdapter creates a new Telegram adapter. Both bot and h must be non-nil.
func NewAdapter(bot BotAPI, h MessageHandler, opts ...Option) *Adapter {
	if bot == nil {
		panic("telegram: bot must not be nil")
	}
	if h == nil {
		panic("telegram: handler must not be nil")
	}
	a := &Adapter{
		bot:         bot,
		handler:     h,
		pollTimeout: 60,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthorIdentity picks the rate-limit and conversation key for a message: the
// sending user when known, otherwise the chat.
func AuthorIdentity(msg *tgbotapi.Message) domain.Identity {
	if msg.From != nil {
		return domain.Identity(msg.From.ID)
	}
	return domain.Identity(msg.Chat.ID)
}

// HandleUpdate processes a single Telegram update synchronously.
// Ignores updates without a message or with empty text.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if done := a.submit(ctx, update); done != nil {
		a.finish(<-done)
	}
}

// submit hands the update to the handler and returns its completion channel,
// or nil when the update carries nothing to handle.
func (a *Adapter) submit(ctx context.Context, update tgbotapi.Update) <-chan error {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.Chat == nil {
		return nil
	}

	chatID := msg.Chat.ID
	messageID := msg.MessageID
	return a.handler.Submit(ctx, handler.Event{
		Author:   AuthorIdentity(msg),
		Text:     msg.Text,
		FromSelf: msg.From != nil && a.selfID != 0 && msg.From.ID == a.selfID,
		Reply: func(_ context.Context, text string) error {
			return a.send(chatID, messageID, text)
		},
		Typing: func(context.Context) error {
			_, err := a.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
			return err
		},
	})
}

func (a *Adapter) finish(err error) {
	if err != nil {
		a.logger.Debug().Err(err).Msg("update not handled")
	}
}

// send delivers text as one or more messages; only the first is threaded as a reply.
func (a *Adapter) send(chatID int64, replyTo int, text string) error {
	for i, part := range splitMessage(text, maxMessageRunes) {
		out := tgbotapi.NewMessage(chatID, part)
		if i == 0 {
			out.ReplyToMessageID = replyTo
		}
		if _, err := a.bot.Send(out); err != nil {
			return err
		}
	}
	return nil
}

// Start begins polling for Telegram updates and processing them. Updates are
// submitted to the handler from the poll loop, so turns of one identity keep
// Telegram's order; only the wait for completion runs on its own goroutine.
// Blocks until ctx is canceled, then stops polling and waits for in-flight updates.
func (a *Adapter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.pollTimeout

	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info().Int("poll_timeout", a.pollTimeout).Msg("telegram polling started")

	defer func() {
		a.bot.StopReceivingUpdates()
		a.wg.Wait()
		a.logger.Info().Msg("telegram polling stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			done := a.submit(ctx, update)
			if done == nil {
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.finish(<-done)
			}()
		}
	}
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// splitMessage cuts text into chunks of at most limit runes, preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
