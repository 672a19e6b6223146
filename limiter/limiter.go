// Package limiter guards abuse-prone actions with persisted request counters.
package limiter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chavrod/shopwiz/config"
)

// Action names a guarded operation. Counters for different actions never
// interact.
type Action string

const (
	ActionValidateEmail Action = "VALIDATE_EMAIL"
	ActionResetPassword Action = "RESET_PASSWORD"
	ActionScrapeSearch  Action = "SCRAPE_SEARCH"
)

// Identity is who is performing an action. Customer and IP are tracked with
// independent counters so a shared address cannot be laundered through many
// accounts, nor one account through many addresses.
type Identity struct {
	Customer string
	IP       string
}

// CounterStore is the persistence surface the limiter needs.
type CounterStore interface {
	CounterValue(ctx context.Context, identity, action string) (int, error)
	IncrementCounter(ctx context.Context, identity, action string) error
	ResetCounters(ctx context.Context) error
}

// Limiter applies a per-action request budget to identities.
type Limiter struct {
	store  CounterStore
	cfg    *config.Config
	logger *slog.Logger
}

// New builds a limiter over the given counter store.
func New(store CounterStore, cfg *config.Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

func customerKey(id Identity) string { return "customer:" + id.Customer }
func ipKey(id Identity) string       { return "ip:" + id.IP }

// Allow reports whether the identity may perform the action. The check reads
// both the customer counter and the IP counter; exceeding either budget
// denies. The IP counter is consulted only in production, where client
// addresses are meaningful. Allow never increments; call Record after the
// action actually ran.
func (l *Limiter) Allow(ctx context.Context, id Identity, action Action) (bool, error) {
	if id.Customer != "" {
		count, err := l.store.CounterValue(ctx, customerKey(id), string(action))
		if err != nil {
			return false, fmt.Errorf("customer counter: %w", err)
		}
		if count >= l.cfg.RateLimit {
			l.logger.Warn("rate limit reached",
				slog.String("action", string(action)),
				slog.String("customer", id.Customer),
				slog.Int("count", count))
			return false, nil
		}
	}

	if id.IP != "" && l.cfg.Production() {
		count, err := l.store.CounterValue(ctx, ipKey(id), string(action))
		if err != nil {
			return false, fmt.Errorf("ip counter: %w", err)
		}
		if count >= l.cfg.RateLimit {
			l.logger.Warn("rate limit reached",
				slog.String("action", string(action)),
				slog.String("ip", id.IP),
				slog.Int("count", count))
			return false, nil
		}
	}
	return true, nil
}

// Record charges the action against both counters. It must run only after the
// guarded action executed; a denied request is never charged.
func (l *Limiter) Record(ctx context.Context, id Identity, action Action) error {
	if id.Customer != "" {
		if err := l.store.IncrementCounter(ctx, customerKey(id), string(action)); err != nil {
			return fmt.Errorf("record customer counter: %w", err)
		}
	}
	if id.IP != "" {
		if err := l.store.IncrementCounter(ctx, ipKey(id), string(action)); err != nil {
			return fmt.Errorf("record ip counter: %w", err)
		}
	}
	return nil
}

// Reset zeroes all counters. Driven by the daily schedule in the server
// process, never by request handling.
func (l *Limiter) Reset(ctx context.Context) error {
	if err := l.store.ResetCounters(ctx); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	l.logger.Info("rate limit counters reset")
	return nil
}
