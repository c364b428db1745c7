package events

import (
	"context"
	"sync"
)

// Stream fans enrollment events out to all active subscribers (SSE clients).
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]chan EnrollmentEvent
	next   int
	closed bool
}

func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan EnrollmentEvent)}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends or
// the stream is closed.
func (s *Stream) Subscribe(ctx context.Context) <-chan EnrollmentEvent {
	ch := make(chan EnrollmentEvent, 16)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber with buffer room. Slow
// subscribers miss events.
func (s *Stream) Publish(evt EnrollmentEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of attached subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close ends every subscription and refuses new ones, letting long-lived
// SSE handlers return during server shutdown.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
