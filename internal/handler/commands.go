package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// commandFunc produces the reply for a command. args is the text after the command name.
type commandFunc func(ctx context.Context, ev Event, args string) string

const (
	replyPong           = "Pong!"
	replyCleared        = "Conversation context cleared!"
	replyUnknownCommand = "Unknown command. Type !help for a list of commands."
)

func (h *Handler) builtinCommands() map[string]commandFunc {
	return map[string]commandFunc{
		"ping":  h.cmdPing,
		"clear": h.cmdClear,
		"help":  h.cmdHelp,
		"start": h.cmdHelp, // Telegram sends /start when a chat is opened
		"stats": h.cmdStats,
	}
}

// parseCommand reports whether text is a command and splits it into a lowercased
// name and the remaining arguments. A "@botname" suffix on the name is dropped.
func (h *Handler) parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	for _, prefix := range h.cfg.CommandPrefixes {
		if prefix == "" || !strings.HasPrefix(text, prefix) {
			continue
		}
		rest := strings.TrimPrefix(text, prefix)
		if rest == "" || strings.HasPrefix(rest, " ") {
			// A bare prefix is ordinary text, not a command.
			return "", "", false
		}
		name, args, _ = strings.Cut(rest, " ")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		return strings.ToLower(name), strings.TrimSpace(args), true
	}
	return "", "", false
}

func (h *Handler) runCommand(ctx context.Context, ev Event, name, args string, log zerolog.Logger) {
	cmd, ok := h.commands[name]
	if !ok {
		log.Debug().Str("command", name).Msg("unknown command")
		h.reply(ctx, ev, log, replyUnknownCommand)
		return
	}
	log.Debug().Str("command", name).Msg("command")
	h.reply(ctx, ev, log, cmd(ctx, ev, args))
}

func (h *Handler) cmdPing(context.Context, Event, string) string {
	return replyPong
}

func (h *Handler) cmdClear(_ context.Context, ev Event, _ string) string {
	h.deps.Store.Clear(ev.Author)
	return replyCleared
}

func (h *Handler) cmdHelp(context.Context, Event, string) string {
	p := h.primaryPrefix()
	var b strings.Builder
	b.WriteString("Available commands:\n")
	fmt.Fprintf(&b, "%sping - Check if the bot is responding\n", p)
	fmt.Fprintf(&b, "%sclear - Clear your conversation context\n", p)
	fmt.Fprintf(&b, "%sstats - Show bot statistics\n", p)
	fmt.Fprintf(&b, "%shelp - Show this message\n\n", p)
	b.WriteString("Send any other message to chat with the AI.\n")
	if h.cfg.RateLimitSeconds > 0 {
		fmt.Fprintf(&b, "Rate limit: one message every %d seconds.", h.cfg.RateLimitSeconds)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) cmdStats(context.Context, Event, string) string {
	st := h.deps.Limiter.Stats()
	m := h.deps.Model
	var b strings.Builder
	b.WriteString("Bot statistics:\n")
	fmt.Fprintf(&b, "Active users: %d\n", st.ActiveIdentities)
	fmt.Fprintf(&b, "Conversations: %d\n", h.deps.Store.Identities())
	fmt.Fprintf(&b, "Rate limit: %d requests per %d seconds\n", st.MaxRequests, int(st.Window.Seconds()))
	if m.Model != "" {
		fmt.Fprintf(&b, "Model: %s (max tokens %d, temperature %.1f, %d attempts)", m.Model, m.MaxTokens, m.Temperature, m.MaxRetries)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) primaryPrefix() string {
	if len(h.cfg.CommandPrefixes) > 0 {
		return h.cfg.CommandPrefixes[0]
	}
	return "!"
}
