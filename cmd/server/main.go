package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chavrod/shopwiz/cache"
	"github.com/chavrod/shopwiz/config"
	"github.com/chavrod/shopwiz/limiter"
	"github.com/chavrod/shopwiz/notifier"
	"github.com/chavrod/shopwiz/pipeline"
	"github.com/chavrod/shopwiz/scraper"
	"github.com/chavrod/shopwiz/server"
	"github.com/chavrod/shopwiz/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	store, err := storage.Open(cfg.DBDSN)
	if err != nil {
		slog.Error("opening database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	metrics := scraper.NewMetrics()
	registry, err := scraper.NewRegistry(cfg, metrics)
	if err != nil {
		slog.Error("initialising adapters", slog.Any("error", err))
		os.Exit(1)
	}

	events := notifier.NewService(logger)
	runner := pipeline.NewRunner(registry, store, events, metrics, logger)
	queue := pipeline.NewQueue(runner, cfg.JobQueueSize, logger)
	freshness := cache.New(store, queue, cache.Options{
		ExpiryDays:        cfg.ResultsExpiryDays,
		MaxScrapeDuration: cfg.MaxScrapeDuration,
		Metrics:           metrics,
		Logger:            logger,
	})
	guard := limiter.New(store, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx, cfg.Workers)
	go runSweeps(ctx, cfg, store, guard, logger)

	srv := server.New(cfg, store, freshness, guard, events, metrics, logger)
	go func() {
		slog.Info("server listening",
			slog.String("addr", cfg.Addr),
			slog.String("env", cfg.Env),
			slog.Int("workers", cfg.Workers),
		)
		if err := srv.Listen(); err != nil {
			slog.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	if err := srv.Shutdown(); err != nil {
		slog.Error("server shutdown failed", slog.Any("error", err))
	}
	queue.Close()
	slog.Info("shutdown complete")
}

// runSweeps drives the daily maintenance work: rate-counter reset and removal
// of batches past the retention window.
func runSweeps(ctx context.Context, cfg *config.Config, store *storage.Store, guard *limiter.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := guard.Reset(ctx); err != nil {
				logger.Error("rate counter reset failed", slog.Any("error", err))
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.RetentionDays)
			deleted, err := store.DeleteBatchesBefore(ctx, cutoff)
			if err != nil {
				logger.Error("retention sweep failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				logger.Info("retention sweep removed batches", slog.Int64("deleted", deleted))
			}
		}
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
