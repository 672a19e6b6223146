// Package server exposes the query API over HTTP.
package server

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chavrod/shopwiz/cache"
	"github.com/chavrod/shopwiz/config"
	"github.com/chavrod/shopwiz/limiter"
	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/notifier"
	"github.com/chavrod/shopwiz/parser"
	"github.com/chavrod/shopwiz/scraper"
	"github.com/chavrod/shopwiz/storage"
)

// ProductStore is the slice of storage the handlers read from.
type ProductStore interface {
	BatchProducts(ctx context.Context, batchID string, params storage.ProductParams) ([]models.Product, int, error)
	PriceRange(ctx context.Context, batchID string) (float64, float64, error)
	UnitFacets(ctx context.Context, batchID string) ([]storage.UnitFacet, error)
}

// Server wires the HTTP surface over its collaborators.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	store    ProductStore
	cache    *cache.Cache
	limiter  *limiter.Limiter
	events   *notifier.Service
	metrics  *scraper.Metrics
	logger   *slog.Logger
	validate *validator.Validate
}

// New assembles the fiber application and its routes.
func New(cfg *config.Config, store ProductStore, freshness *cache.Cache, guard *limiter.Limiter, events *notifier.Service, metrics *scraper.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "shopwiz",
			DisableStartupMessage: true,
		}),
		cfg:      cfg,
		store:    store,
		cache:    freshness,
		limiter:  guard,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "OK"})
	})
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api")
	api.Get("/products", s.handleProducts)
	api.Get("/products/updates", s.handleProductUpdates)
}

// Listen serves HTTP until Shutdown is called.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown drains connections and stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) identity(c *fiber.Ctx) limiter.Identity {
	return limiter.Identity{
		Customer: c.Get("X-Customer-Ref"),
		IP:       c.IP(),
	}
}

func (s *Server) handleProducts(c *fiber.Ctx) error {
	params, err := parseProductParams(c, s.validate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	query := parser.NormalizeQuery(params.Query)

	look, err := s.cache.Lookup(c.Context(), query)
	if err != nil {
		s.logger.Error("freshness lookup failed", slog.String("query", query), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}

	var estimatedWait time.Duration
	if look.NeedsRefresh {
		id := s.identity(c)
		allowed, err := s.limiter.Allow(c.Context(), id, limiter.ActionScrapeSearch)
		if err != nil {
			s.logger.Error("rate limit check failed", slog.Any("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "rate limit check failed"})
		}
		switch {
		case allowed:
			wait, started := s.cache.Dispatch(query)
			estimatedWait = wait
			if started {
				if err := s.limiter.Record(c.Context(), id, limiter.ActionScrapeSearch); err != nil {
					s.logger.Error("rate limit record failed", slog.Any("error", err))
				}
			}
		case look.Batch == nil:
			// Nothing stored to fall back on.
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		default:
			// Serve the stale batch without refreshing.
		}
	}

	if look.Batch == nil {
		return c.JSON(fiber.Map{
			"data": []models.Product{},
			"metadata": fiber.Map{
				"is_full_metadata":       false,
				"first_time_search":      true,
				"is_update_needed":       true,
				"estimated_wait_seconds": int(math.Ceil(estimatedWait.Seconds())),
			},
		})
	}

	return s.respondFromBatch(c, query, look, params, estimatedWait)
}

func (s *Server) respondFromBatch(c *fiber.Ctx, query string, look cache.CheckResult, params productParams, estimatedWait time.Duration) error {
	ctx := c.Context()
	storeParams := params.storageParams(s.cfg.PageSize)

	products, total, err := s.store.BatchProducts(ctx, look.Batch.ID, storeParams)
	if err != nil {
		s.logger.Error("product page load failed", slog.String("query", query), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "product load failed"})
	}
	priceMin, priceMax, err := s.store.PriceRange(ctx, look.Batch.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "price range load failed"})
	}
	facets, err := s.store.UnitFacets(ctx, look.Batch.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "facet load failed"})
	}

	totalPages := total / storeParams.PageSize
	if total%storeParams.PageSize != 0 || totalPages == 0 {
		totalPages++
	}

	metadata := fiber.Map{
		"is_full_metadata": true,
		"query":            query,
		"is_update_needed": look.NeedsRefresh,
		"update_date":      look.Batch.CreatedAt,
		"page":             storeParams.Page,
		"total_pages":      totalPages,
		"order_by":         params.OrderBy,
		"total_results":    total,
		"active_unit":      params.UnitType,
		"units_range_list": facets,
		"price_range_info": fiber.Map{"min": priceMin, "max": priceMax},
	}
	if look.NeedsRefresh {
		metadata["estimated_wait_seconds"] = int(math.Ceil(estimatedWait.Seconds()))
	}
	return c.JSON(fiber.Map{
		"data":     products,
		"metadata": metadata,
	})
}

// handleProductUpdates long-polls for the completion of an in-flight scrape.
// It unblocks as soon as the run finishes, at the configured wait ceiling, or
// when the client goes away.
func (s *Server) handleProductUpdates(c *fiber.Ctx) error {
	raw := c.Query("query")
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query is required"})
	}
	query := parser.NormalizeQuery(raw)

	event, ok, err := s.events.WaitFor(c.Context(), query, s.cfg.WaitTimeout)
	if err != nil {
		// Client disconnected; nothing left to answer.
		return nil
	}
	if !ok {
		return c.Status(fiber.StatusNoContent).Send(nil)
	}
	return c.JSON(event)
}
