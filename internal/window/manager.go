// Package window trims a conversation to a token budget before it is sent to the model.
package window

import (
	"fmt"

	"relaybot/internal/domain"
)

// perMessageOverhead approximates the role and separator tokens the chat format adds.
const perMessageOverhead = 4

// Manager implements domain.ContextManager using a sliding-window strategy.
// It counts tokens for each message and drops the oldest messages first
// when the total exceeds the configured maximum token budget.
type Manager struct {
	tokenizer domain.Tokenizer
	maxTokens int
}

// NewManager creates a Manager with the given tokenizer and max token limit.
// Panics if tokenizer is nil or maxTokens <= 0.
func NewManager(tokenizer domain.Tokenizer, maxTokens int) *Manager {
	if tokenizer == nil {
		panic("window: tokenizer must not be nil")
	}
	if maxTokens <= 0 {
		panic("window: maxTokens must be > 0")
	}
	return &Manager{
		tokenizer: tokenizer,
		maxTokens: maxTokens,
	}
}

// FitToWindow reserves tokens for the system prompt, then walks messages from
// newest to oldest, keeping as many recent messages as fit the remaining budget.
// The newest message is always kept so a request is never emptied by fitting.
//
// Returns an error if the system prompt alone exceeds maxTokens or if the
// tokenizer returns an error.
func (m *Manager) FitToWindow(messages []domain.Message, systemPrompt string) ([]domain.Message, error) {
	if len(messages) == 0 {
		return []domain.Message{}, nil
	}

	sysTokens, err := m.countPromptTokens(systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("window: counting system prompt tokens: %w", err)
	}
	if sysTokens > m.maxTokens {
		return nil, fmt.Errorf("window: system prompt (%d tokens) exceeds limit (%d tokens)", sysTokens, m.maxTokens)
	}

	budget := m.maxTokens - sysTokens

	tokenCounts := make([]int, len(messages))
	for i, msg := range messages {
		count, err := m.tokenizer.CountTokens(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("window: counting tokens for message %d: %w", i, err)
		}
		tokenCounts[i] = count + perMessageOverhead
	}

	last := len(messages) - 1
	total := tokenCounts[last]
	startIdx := last
	for i := last - 1; i >= 0; i-- {
		if total+tokenCounts[i] > budget {
			break
		}
		total += tokenCounts[i]
		startIdx = i
	}

	return messages[startIdx:], nil
}

// Budget returns the configured token limit.
func (m *Manager) Budget() int { return m.maxTokens }

func (m *Manager) countPromptTokens(prompt string) (int, error) {
	if prompt == "" {
		return 0, nil
	}
	n, err := m.tokenizer.CountTokens(prompt)
	if err != nil {
		return 0, err
	}
	return n + perMessageOverhead, nil
}

var _ domain.ContextManager = (*Manager)(nil)
