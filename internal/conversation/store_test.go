package conversation

import (
	"fmt"
	"sync"
	"testing"

	"relaybot/internal/domain"
)

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestStore_Append_WhenOverCap_ShouldDropOldestFirst(t *testing.T) {
	s := NewStore(1)
	id := domain.Identity(1)
	for _, c := range []string{"A", "B", "C", "D"} {
		s.Append(id, domain.UserMessage(c))
	}
	got := contents(s.Get(id))
	if fmt.Sprint(got) != "[C D]" {
		t.Errorf("want [C D], got %v", got)
	}
}

func TestStore_Get_WhenUnknown_ShouldReturnEmptyWithoutCreating(t *testing.T) {
	s := NewStore(10)
	got := s.Get(domain.Identity(7))
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
	if s.Identities() != 0 {
		t.Error("Get must not create a buffer")
	}
}

func TestStore_Get_ShouldReturnCopy(t *testing.T) {
	s := NewStore(5)
	id := domain.Identity(1)
	s.Append(id, domain.UserMessage("hi"))
	got := s.Get(id)
	got[0].Content = "mutated"
	if s.Get(id)[0].Content != "hi" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestStore_AppendAll_ShouldKeepPairTogether(t *testing.T) {
	s := NewStore(2)
	id := domain.Identity(3)
	for i := 0; i < 5; i++ {
		s.AppendAll(id, domain.UserMessage(fmt.Sprintf("u%d", i)), domain.AssistantMessage(fmt.Sprintf("a%d", i)))
	}
	got := contents(s.Get(id))
	if fmt.Sprint(got) != "[u3 a3 u4 a4]" {
		t.Errorf("want [u3 a3 u4 a4], got %v", got)
	}
	if s.Len(id) != s.Cap() {
		t.Errorf("Len: want %d, got %d", s.Cap(), s.Len(id))
	}
}

func TestStore_With_ShouldPreviewWithoutMutating(t *testing.T) {
	s := NewStore(1)
	id := domain.Identity(4)
	s.AppendAll(id, domain.UserMessage("q1"), domain.AssistantMessage("r1"))

	preview := s.With(id, domain.UserMessage("q2"))
	if fmt.Sprint(contents(preview)) != "[r1 q2]" {
		t.Errorf("preview: want [r1 q2], got %v", contents(preview))
	}
	if fmt.Sprint(contents(s.Get(id))) != "[q1 r1]" {
		t.Errorf("store changed by With: %v", contents(s.Get(id)))
	}
}

func TestStore_Clear_ShouldEmptyOnlyThatIdentity(t *testing.T) {
	s := NewStore(3)
	s.Append(1, domain.UserMessage("a"))
	s.Append(2, domain.UserMessage("b"))
	s.Clear(1)
	s.Clear(99)
	if s.Len(1) != 0 {
		t.Errorf("identity 1 should be empty, got %d", s.Len(1))
	}
	if s.Len(2) != 1 {
		t.Errorf("identity 2 should be untouched, got %d", s.Len(2))
	}
	s.Append(1, domain.UserMessage("c"))
	if s.Len(1) != 1 {
		t.Error("append after clear should start a fresh history")
	}
}

func TestNewStore_WhenNonPositive_ShouldUseOneTurn(t *testing.T) {
	if c := NewStore(0).Cap(); c != 2 {
		t.Errorf("want cap 2, got %d", c)
	}
}

func TestStore_GetOrCreate_DoubleCheck_ShouldReturnSameBuffer(t *testing.T) {
	s := NewStore(1)
	id := domain.Identity(9)
	var once sync.Once
	s.afterReadMiss = func() {
		once.Do(func() {
			// Another writer creates the buffer between the read miss and the write lock.
			s.mu.Lock()
			s.buffers[id] = &buffer{messages: []domain.Message{domain.UserMessage("first")}}
			s.mu.Unlock()
		})
	}
	s.Append(id, domain.UserMessage("second"))
	if fmt.Sprint(contents(s.Get(id))) != "[first second]" {
		t.Errorf("double-check path lost a message: %v", contents(s.Get(id)))
	}
}

func TestStore_WhenConcurrent_ShouldRespectCap(t *testing.T) {
	s := NewStore(4)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.Identity(i % 3)
			s.Append(id, domain.UserMessage(fmt.Sprint(i)))
			_ = s.Get(id)
		}(i)
	}
	wg.Wait()
	for id := domain.Identity(0); id < 3; id++ {
		if n := s.Len(id); n != s.Cap() {
			t.Errorf("identity %d: want %d messages, got %d", id, s.Cap(), n)
		}
	}
}

func TestTruncate(t *testing.T) {
	msgs := []domain.Message{domain.UserMessage("1"), domain.UserMessage("2"), domain.UserMessage("3")}
	if got := Truncate(msgs, 5); len(got) != 3 {
		t.Errorf("under cap should be unchanged, got %d", len(got))
	}
	if got := contents(Truncate(msgs, 2)); fmt.Sprint(got) != "[2 3]" {
		t.Errorf("want [2 3], got %v", got)
	}
}
