package domain

import "context"

// Completer is the outbound boundary to a chat-completion API. One call is one attempt;
// implementations enforce req.Timeout themselves and return raw transport errors.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Responder turns a conversation history into a single reply. Errors are always *Error.
type Responder interface {
	GetResponse(ctx context.Context, messages []Message) (string, error)
}

// Tokenizer counts tokens in a string for context window management.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// ContextManager fits messages into a model's context window.
type ContextManager interface {
	// FitToWindow returns the newest suffix of messages that fits the token budget
	// after reserving room for the system prompt. Older messages are dropped first.
	FitToWindow(messages []Message, systemPrompt string) ([]Message, error)
}

// PromptSource supplies the current system prompt. An empty string means none.
type PromptSource interface {
	SystemPrompt() string
}
