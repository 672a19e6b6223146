package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chavrod/shopwiz/config"
	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/notifier"
	"github.com/chavrod/shopwiz/parser"
	"github.com/chavrod/shopwiz/pipeline"
	"github.com/chavrod/shopwiz/scraper"
	"github.com/chavrod/shopwiz/storage"
)

// One-shot scrape of a single query, for operations and debugging. Results go
// to stdout as a summary, optionally to an export file and the database.
func main() {
	defaultCfg := config.DefaultConfig()
	shopsDefault := shopListString(defaultCfg.EnabledShops)
	if value, ok := config.EnvString("SHOPWIZ_SHOPS"); ok {
		shopsDefault = value
	}

	query := flag.String("query", "", "Search term to scrape (required)")
	shops := flag.String("shops", shopsDefault, "Comma-separated shops to scrape")
	relevantOnly := flag.Bool("relevant-only", false, "Only visit the default-sorted first page per shop")
	outputFile := flag.String("output", "", "Export file path (empty disables export)")
	outputFormat := flag.String("format", "csv", "Export format: csv or json")
	dbDSN := flag.String("db", "", "Persist the run as a batch in this database (empty disables)")
	headless := flag.Bool("headless", defaultCfg.Headless, "Run browser shops headless")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "usage: scraper -query <term> [-shops TESCO,SUPERVALU,ALDI]")
		os.Exit(2)
	}

	cfg := defaultCfg
	cfg.Headless = *headless
	cfg.Verbose = *verbose
	cfg.EnabledShops = parseShops(*shops)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := scraper.NewMetrics()
	registry, err := scraper.NewRegistry(cfg, metrics)
	if err != nil {
		slog.Error("initialising adapters", slog.Any("error", err))
		os.Exit(1)
	}

	// Records are captured in memory for the summary and export; a database,
	// when given, is written through as well.
	capture := &captureStore{}
	if *dbDSN != "" {
		db, err := storage.Open(*dbDSN)
		if err != nil {
			slog.Error("opening database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		capture.next = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(registry, capture, notifier.NewService(logger), metrics, logger)
	normalized := parser.NormalizeQuery(*query)

	slog.Info("starting scrape",
		slog.String("query", normalized),
		slog.String("shops", shopListString(cfg.EnabledShops)),
		slog.Bool("relevant_only", *relevantOnly),
	)

	result, err := runner.Run(ctx, normalized, *relevantOnly)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := exportProducts(capture.products, *outputFormat, *outputFile); err != nil {
			slog.Error("export failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	printSummary(result, *outputFile)
}

// captureStore keeps the run's records in memory and optionally writes them
// through to a real database.
type captureStore struct {
	next     pipeline.BatchStore
	products []models.Product
}

func (c *captureStore) CreateBatch(ctx context.Context, query string, products []models.Product) (models.Batch, error) {
	c.products = products
	if c.next != nil {
		return c.next.CreateBatch(ctx, query, products)
	}
	return models.Batch{ID: "dry-run", Query: query, CreatedAt: time.Now().UTC()}, nil
}

func exportProducts(products []models.Product, format, filename string) error {
	exporter, err := pipeline.NewExporter(format, filename)
	if err != nil {
		return err
	}
	defer exporter.Close()
	return exporter.Write(products)
}

func parseShops(raw string) []models.ShopName {
	var shops []models.ShopName
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		shops = append(shops, models.ShopName(strings.ToUpper(name)))
	}
	return shops
}

func shopListString(shops []models.ShopName) string {
	names := make([]string, len(shops))
	for i, shop := range shops {
		names[i] = string(shop)
	}
	return strings.Join(names, ",")
}

func printSummary(result models.ScrapeResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Query:         %s\n", result.Query)
	for _, summary := range result.Summaries {
		fmt.Printf("  %-13s %d items in %.2fs\n", summary.ShopName+":", summary.Count, summary.Elapsed)
	}
	fmt.Printf("  Total items:   %d\n", result.TotalCount)
	if result.Dropped > 0 {
		fmt.Printf("  Dropped:       %d\n", result.Dropped)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(10*time.Millisecond))
	if outputFile != "" {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
