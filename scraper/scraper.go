// Package scraper provides per-retailer adapters that fetch and normalize
// product listings, plus the registry that instantiates them.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chavrod/shopwiz/config"
	"github.com/chavrod/shopwiz/models"
)

// Adapter fetches product listings from one retailer. Fetch never returns an
// error: adapter-level failures degrade to whatever records were collected so
// far, with elapsed wall time recorded regardless of outcome.
type Adapter interface {
	Shop() models.ShopName

	// Fetch scrapes results for query. With relevantOnly set, only the
	// default-sorted first page is visited; otherwise the adapter paginates
	// ascending-by-price through every result page.
	Fetch(ctx context.Context, query string, relevantOnly bool) models.FetchResult
}

// Constructor builds a fresh adapter instance. Adapters hold per-call state
// such as the current page index, so one instance serves one fetch.
type Constructor func(deps Deps) Adapter

// Deps carries the shared collaborators adapters need.
type Deps struct {
	Cfg     *config.Config
	Metrics *Metrics
}

// builtins is the startup-time registration list. Adding a retailer means
// adding its constructor here; nothing is discovered at runtime.
func builtins() map[models.ShopName]Constructor {
	return map[models.ShopName]Constructor{
		models.ShopTesco:     func(d Deps) Adapter { return NewTesco(d) },
		models.ShopSuperValu: func(d Deps) Adapter { return NewSuperValu(d) },
		models.ShopAldi:      func(d Deps) Adapter { return NewAldi(d) },
	}
}

// Registry maps shop names to adapter constructors. It is populated once at
// startup and never mutated afterwards.
type Registry struct {
	deps         Deps
	constructors map[models.ShopName]Constructor
	enabled      []models.ShopName
}

// NewRegistry validates the enabled-shop list against the known constructors.
// An unknown shop name is a configuration error and fatal here, never at
// request time.
func NewRegistry(cfg *config.Config, metrics *Metrics) (*Registry, error) {
	known := builtins()
	for _, shop := range cfg.EnabledShops {
		if _, ok := known[shop]; !ok {
			return nil, fmt.Errorf("enabled shop %s: %w", shop, ErrUnknownAdapter)
		}
	}
	enabled := make([]models.ShopName, len(cfg.EnabledShops))
	copy(enabled, cfg.EnabledShops)
	return &Registry{
		deps:         Deps{Cfg: cfg, Metrics: metrics},
		constructors: known,
		enabled:      enabled,
	}, nil
}

// Create returns a fresh adapter instance for the named shop.
func (r *Registry) Create(name models.ShopName) (Adapter, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("shop %s: %w", name, ErrUnknownAdapter)
	}
	return ctor(r.deps), nil
}

// Enabled returns the shops validated at startup, in configured order.
func (r *Registry) Enabled() []models.ShopName {
	out := make([]models.ShopName, len(r.enabled))
	copy(out, r.enabled)
	return out
}

// summarize stamps the execution summary for one fetch and feeds metrics.
func summarize(deps Deps, shop models.ShopName, start time.Time, products []models.Product) models.FetchResult {
	elapsed := time.Since(start).Seconds()
	deps.Metrics.ObserveFetch(shop, time.Since(start))
	deps.Metrics.AddProducts(shop, len(products))
	return models.FetchResult{
		Products: products,
		Summary: models.ShopSummary{
			ShopName: shop,
			Count:    len(products),
			Elapsed:  elapsed,
		},
	}
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// pageCount derives how many result pages exist from the advertised total
// item count. Zero items means zero pages, which ends pagination immediately.
func pageCount(totalItems, perPage int) int {
	if totalItems <= 0 || perPage <= 0 {
		return 0
	}
	return (totalItems + perPage - 1) / perPage
}
