// Package cache decides whether stored results for a query are fresh enough
// to serve and deduplicates concurrent scrape dispatches.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/pipeline"
)

// BatchSource resolves the most recent stored batch for a query.
type BatchSource interface {
	MostRecentBatch(ctx context.Context, query string) (*models.Batch, error)
}

// Dispatcher submits background scrape jobs.
type Dispatcher interface {
	Enqueue(query string, relevantOnly bool) error
}

// CheckResult is the freshness verdict for one normalized query.
type CheckResult struct {
	// Batch is the most recent stored batch, nil when the query has never
	// produced results. A stale batch is still returned so callers can serve
	// old data while the refresh runs.
	Batch *models.Batch

	// NeedsRefresh is set when no batch exists or the newest one is stale.
	NeedsRefresh bool

	// FirstScrape is set when the query has never been scraped at all.
	FirstScrape bool

	// EstimatedWait is how long a scrape already in flight is expected to
	// still take, zero when no scrape is running.
	EstimatedWait time.Duration
}

// markerStore tracks queries with a scrape currently in flight. Entries expire
// after the maximum scrape duration, so a crashed worker cannot wedge a query
// forever.
type markerStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, time.Time]
}

func newMarkerStore(ttl time.Duration) *markerStore {
	return &markerStore{
		lru: expirable.NewLRU[string, time.Time](2048, nil, ttl),
	}
}

// begin marks the query as in flight. When a marker already exists, begin
// reports false and the original dispatch time. Check-and-set runs under one
// mutex so concurrent identical requests elect exactly one dispatcher.
func (m *markerStore) begin(query string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if started, ok := m.lru.Get(query); ok {
		return started, false
	}
	now := time.Now()
	m.lru.Add(query, now)
	return now, true
}

// Cache coordinates freshness checks and deduplicated dispatch.
type Cache struct {
	store       BatchSource
	queue       Dispatcher
	markers     *markerStore
	metrics     interface{ IncJob() }
	logger      *slog.Logger
	expiry      time.Duration
	maxDuration time.Duration
}

// Options configure the cache.
type Options struct {
	// ExpiryDays is how long a batch stays fresh.
	ExpiryDays int
	// MaxScrapeDuration bounds a full scrape run and sets the marker TTL.
	MaxScrapeDuration time.Duration
	// Metrics counts dispatched jobs; nil disables counting.
	Metrics interface{ IncJob() }
	Logger  *slog.Logger
}

// New builds a cache over the batch store and job queue.
func New(store BatchSource, queue Dispatcher, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:       store,
		queue:       queue,
		markers:     newMarkerStore(opts.MaxScrapeDuration),
		metrics:     opts.Metrics,
		logger:      logger,
		expiry:      time.Duration(opts.ExpiryDays) * 24 * time.Hour,
		maxDuration: opts.MaxScrapeDuration,
	}
}

// Lookup resolves the freshness of stored results for a normalized query. It
// never dispatches; pair it with Dispatch when a refresh should actually
// start.
func (c *Cache) Lookup(ctx context.Context, query string) (CheckResult, error) {
	batch, err := c.store.MostRecentBatch(ctx, query)
	if err != nil {
		return CheckResult{}, fmt.Errorf("freshness lookup: %w", err)
	}

	result := CheckResult{Batch: batch}
	if batch != nil && time.Since(batch.CreatedAt) < c.expiry {
		return result, nil
	}
	result.NeedsRefresh = true
	result.FirstScrape = batch == nil
	return result, nil
}

// Check combines Lookup with a dispatch when the result is missing or stale.
// Used by paths without an abuse gate in front of the dispatch.
func (c *Cache) Check(ctx context.Context, query string) (CheckResult, error) {
	result, err := c.Lookup(ctx, query)
	if err != nil {
		return CheckResult{}, err
	}
	if result.NeedsRefresh {
		result.EstimatedWait, _ = c.Dispatch(query)
	}
	return result, nil
}

// Dispatch enqueues a scrape unless one is already in flight. It returns the
// expected remaining wait either way, and whether this call started the job.
// Concurrent identical requests elect exactly one dispatcher.
func (c *Cache) Dispatch(query string) (time.Duration, bool) {
	started, fresh := c.markers.begin(query)
	if !fresh {
		remaining := c.maxDuration - time.Since(started)
		if remaining < 0 {
			remaining = 0
		}
		return remaining, false
	}

	if err := c.queue.Enqueue(query, false); err != nil {
		// The job never started; the marker's TTL clears the way for the next
		// caller to retry.
		if errors.Is(err, pipeline.ErrQueueFull) {
			c.logger.Warn("scrape queue full", slog.String("query", query))
		} else {
			c.logger.Error("scrape dispatch failed",
				slog.String("query", query),
				slog.Any("error", err))
		}
		return c.maxDuration, false
	}

	if c.metrics != nil {
		c.metrics.IncJob()
	}
	c.logger.Info("scrape dispatched", slog.String("query", query))
	return c.maxDuration, true
}
