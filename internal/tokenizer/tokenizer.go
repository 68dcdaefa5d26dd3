package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"relaybot/internal/domain"
)

// DefaultEncoding is used when neither an encoding nor a known model is given.
const DefaultEncoding = "cl100k_base"

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

// NewTikToken creates a new TikToken tokenizer with the given encoding name.
// Common encodings: "cl100k_base" (GPT-4/3.5), "o200k_base" (GPT-4o).
// Returns an error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// ForModel picks the encoding tiktoken associates with model, falling back to
// DefaultEncoding for models it does not know. An explicit encoding wins.
func ForModel(model, encoding string) (*TikToken, error) {
	if encoding != "" {
		return NewTikToken(encoding)
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return NewTikToken(DefaultEncoding)
	}
	return &TikToken{encoding: enc}, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	// The encoder caches internally and is not documented as goroutine-safe.
	t.mu.Lock()
	tokens := t.encoding.Encode(text, nil, nil)
	t.mu.Unlock()
	return len(tokens), nil
}

var _ domain.Tokenizer = (*TikToken)(nil)
