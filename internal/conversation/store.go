// Package conversation keeps a bounded, in-memory message history per identity.
package conversation

import (
	"sync"

	"relaybot/internal/domain"
)

// buffer is one identity's history, oldest first.
type buffer struct {
	mu       sync.Mutex
	messages []domain.Message
}

// Store holds at most 2*maxContextLength messages per identity.
// Appends past the cap drop the oldest entries first.
type Store struct {
	limit int

	mu      sync.RWMutex
	buffers map[domain.Identity]*buffer

	// afterReadMiss is a test hook run between the read-lock miss and the write lock
	// in getOrCreate. Nil in production.
	afterReadMiss func()
}

// NewStore returns a Store for the given context length in turns. Values below 1 are raised to 1.
func NewStore(maxContextLength int) *Store {
	if maxContextLength < 1 {
		maxContextLength = 1
	}
	return &Store{
		limit:   2 * maxContextLength,
		buffers: make(map[domain.Identity]*buffer),
	}
}

// Cap returns the maximum number of messages kept per identity.
func (s *Store) Cap() int { return s.limit }

// Append adds msg to id's history, truncating from the front to the cap.
func (s *Store) Append(id domain.Identity, msg domain.Message) {
	s.AppendAll(id, msg)
}

// AppendAll adds msgs in order as one step. Concurrent readers never observe a partial append.
func (s *Store) AppendAll(id domain.Identity, msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	b := s.getOrCreate(id)
	b.mu.Lock()
	b.messages = Truncate(append(b.messages, msgs...), s.limit)
	b.mu.Unlock()
}

// Get returns a copy of id's history. Unknown identities yield an empty slice.
func (s *Store) Get(id domain.Identity) []domain.Message {
	s.mu.RLock()
	b, ok := s.buffers[id]
	s.mu.RUnlock()
	if !ok {
		return []domain.Message{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// With returns id's history followed by extra, truncated to the cap exactly as
// AppendAll would leave it. The store is not modified.
func (s *Store) With(id domain.Identity, extra ...domain.Message) []domain.Message {
	return Truncate(append(s.Get(id), extra...), s.limit)
}

// Clear empties id's history. The buffer itself is kept so that an append racing
// with Clear lands in the live buffer.
func (s *Store) Clear(id domain.Identity) {
	s.mu.RLock()
	b, ok := s.buffers[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	b.mu.Lock()
	b.messages = nil
	b.mu.Unlock()
}

// Len returns the number of messages stored for id.
func (s *Store) Len(id domain.Identity) int {
	s.mu.RLock()
	b, ok := s.buffers[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Identities returns how many identities currently have a buffer.
func (s *Store) Identities() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

// Truncate keeps the newest n messages of msgs, preserving order.
func Truncate(msgs []domain.Message, n int) []domain.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	out := make([]domain.Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

func (s *Store) getOrCreate(id domain.Identity) *buffer {
	s.mu.RLock()
	b, ok := s.buffers[id]
	s.mu.RUnlock()
	if ok {
		return b
	}

	if s.afterReadMiss != nil {
		s.afterReadMiss()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[id]; ok {
		return b
	}
	b = &buffer{}
	s.buffers[id] = b
	return b
}
