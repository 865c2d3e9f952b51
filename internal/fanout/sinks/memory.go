package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
)

// MemorySink keeps every consumed event in order. Replays and tests read it
// back through Events.
type MemorySink struct {
	mu     sync.Mutex
	events []fanout.Event
	closed bool
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name implements fanout.Named.
func (s *MemorySink) Name() string { return "memory" }

// Consume appends the batch.
func (s *MemorySink) Consume(_ context.Context, batch []fanout.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Events returns a copy of everything consumed so far.
func (s *MemorySink) Events() []fanout.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fanout.Event(nil), s.events...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the sink closed.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
