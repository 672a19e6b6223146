// Package pipeline orchestrates full scrape runs: concurrent adapter fan-out,
// merge, validation, atomic persistence, and completion notification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/notifier"
	"github.com/chavrod/shopwiz/parser"
	"github.com/chavrod/shopwiz/scraper"
)

// AdapterSource supplies adapter instances for the enabled shops. It is
// satisfied by *scraper.Registry.
type AdapterSource interface {
	Enabled() []models.ShopName
	Create(name models.ShopName) (scraper.Adapter, error)
}

// BatchStore persists one completed run as a batch.
type BatchStore interface {
	CreateBatch(ctx context.Context, query string, products []models.Product) (models.Batch, error)
}

// Publisher announces run completion to waiters.
type Publisher interface {
	Publish(query string, status notifier.Status)
}

// Runner executes scrape runs against every enabled adapter.
type Runner struct {
	registry AdapterSource
	store    BatchStore
	events   Publisher
	metrics  *scraper.Metrics
	logger   *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(registry AdapterSource, store BatchStore, events Publisher, metrics *scraper.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		store:    store,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run scrapes the query across all enabled shops. Adapter failures degrade to
// partial results; Run fails only when persisting a non-empty result set
// fails. A completion event is published no matter how the run ends, so
// waiters are always released.
func (r *Runner) Run(ctx context.Context, query string, relevantOnly bool) (models.ScrapeResult, error) {
	start := time.Now().UTC()
	status := notifier.StatusFailed
	defer func() {
		r.events.Publish(query, status)
	}()

	shops := r.registry.Enabled()
	results := make([]models.FetchResult, len(shops))

	var wg sync.WaitGroup
	for i, shop := range shops {
		wg.Add(1)
		go func(i int, shop models.ShopName) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("adapter panicked",
						slog.String("shop", string(shop)),
						slog.Any("panic", rec))
					results[i] = models.FetchResult{Summary: models.ShopSummary{ShopName: shop}}
				}
			}()

			adapter, err := r.registry.Create(shop)
			if err != nil {
				r.logger.Error("adapter construction failed",
					slog.String("shop", string(shop)),
					slog.Any("error", err))
				results[i] = models.FetchResult{Summary: models.ShopSummary{ShopName: shop}}
				return
			}
			results[i] = adapter.Fetch(ctx, query, relevantOnly)
		}(i, shop)
	}
	wg.Wait()

	var (
		products  []models.Product
		summaries []models.ShopSummary
		dropped   int
	)
	for _, res := range results {
		summaries = append(summaries, res.Summary)
		for _, p := range res.Products {
			if err := parser.ValidateProduct(&p); err != nil {
				dropped++
				r.logger.Warn("dropping invalid record",
					slog.String("shop", string(p.ShopName)),
					slog.String("name", p.Name),
					slog.Any("error", err))
				continue
			}
			products = append(products, p)
		}
	}
	r.metrics.AddDropped(dropped)

	result := models.ScrapeResult{
		Query:      query,
		Summaries:  summaries,
		TotalCount: len(products),
		Dropped:    dropped,
		StartTime:  start,
	}

	if len(products) == 0 {
		// Nothing to persist. The run still completed; waiters re-check and
		// observe the empty outcome.
		status = notifier.StatusCompleted
		result.EndTime = time.Now().UTC()
		r.logger.Info("scrape produced no records", slog.String("query", query))
		return result, nil
	}

	if _, err := r.store.CreateBatch(ctx, query, products); err != nil {
		result.EndTime = time.Now().UTC()
		return result, fmt.Errorf("persist batch: %w", err)
	}
	r.metrics.IncBatch()

	status = notifier.StatusCompleted
	result.EndTime = time.Now().UTC()
	r.logger.Info("scrape run finished",
		slog.String("query", query),
		slog.Int("records", len(products)),
		slog.Int("dropped", dropped),
		slog.Duration("elapsed", result.EndTime.Sub(start)))
	return result, nil
}
