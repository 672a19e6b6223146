// Package notifier delivers scrape completion events to in-process waiters.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the terminal state of a scrape run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Event is one completion notification for a normalized query.
type Event struct {
	Query  string `json:"query"`
	Status Status `json:"status"`
}

// Service fans completion events out to everyone waiting on the same query.
// It is an injected dependency; both the dispatch side and the request side
// hold a reference to the same instance.
type Service struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan Event
}

// NewService builds an empty notification service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		waiters: make(map[string][]chan Event),
	}
}

// subscribe registers a waiter channel for a query. The returned cancel
// function removes the registration and must always be called.
func (s *Service) subscribe(query string) (<-chan Event, func()) {
	ch := make(chan Event, 1)

	s.mu.Lock()
	s.waiters[query] = append(s.waiters[query], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.waiters[query]
		for i, sub := range subs {
			if sub == ch {
				s.waiters[query] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(s.waiters[query]) == 0 {
			delete(s.waiters, query)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every current waiter on the query. Delivery
// never blocks the publisher; each waiter channel is buffered and a waiter
// that already received an event is skipped.
func (s *Service) Publish(query string, status Status) {
	event := Event{Query: query, Status: status}

	s.mu.Lock()
	subs := append([]chan Event(nil), s.waiters[query]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
	s.logger.Debug("published scrape event",
		slog.String("query", query),
		slog.String("status", string(status)),
		slog.Int("waiters", len(subs)))
}

// WaitFor blocks until a completion event for the query arrives, the timeout
// elapses, or the context is cancelled. A timeout is not an error condition
// for callers; it is reported as ok=false.
func (s *Service) WaitFor(ctx context.Context, query string, timeout time.Duration) (Event, bool, error) {
	ch, cancel := s.subscribe(query)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-ch:
		return event, true, nil
	case <-timer.C:
		return Event{}, false, nil
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	}
}
