// Package config holds runtime configuration for the scraping core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/chavrod/shopwiz/models"
)

// Config holds service configuration.
type Config struct {
	// Addr is the HTTP listen address for the query API.
	Addr string
	// DBDSN is the sqlite database path or DSN.
	DBDSN string

	// EnabledShops are the adapters validated and instantiated at startup.
	EnabledShops []models.ShopName

	// ResultsExpiryDays is the freshness window: a batch older than this is
	// stale and triggers a re-scrape on the next lookup.
	ResultsExpiryDays int
	// MaxScrapeDuration bounds one full orchestrator run. It is also the TTL
	// of the in-flight marker, so a crashed worker self-heals after it.
	MaxScrapeDuration time.Duration
	// RetentionDays is how long superseded batches are kept for history
	// before the periodic sweep deletes them.
	RetentionDays int

	// RateLimit is the per-identity action limit within one reset window.
	RateLimit int
	// WaitTimeout caps how long a wait listener blocks for a completion event.
	WaitTimeout time.Duration

	// Workers is the number of scrape job workers.
	Workers int
	// JobQueueSize is the buffered capacity of the scrape job queue.
	JobQueueSize int

	// Scraper settings shared by all adapters.
	UserAgent string
	Timeout   time.Duration
	Headless  bool

	// PageSize is the API results page size.
	PageSize int

	// Env selects runtime behavior; IP rate limits are bypassed outside PROD.
	Env     string
	Verbose bool
}

// DefaultConfig returns conservative defaults for the Irish grocery shops.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8000",
		DBDSN:             "shopwiz.db",
		EnabledShops:      []models.ShopName{models.ShopTesco, models.ShopSuperValu, models.ShopAldi},
		ResultsExpiryDays: 10,
		MaxScrapeDuration: 50 * time.Second,
		RetentionDays:     30,
		RateLimit:         3,
		WaitTimeout:       90 * time.Second,
		Workers:           2,
		JobQueueSize:      64,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
		Timeout:           15 * time.Second,
		Headless:          true,
		PageSize:          20,
		Env:               "DEV",
		Verbose:           false,
	}
}

// Load builds configuration from defaults overridden by the environment.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if v, ok := EnvString("SHOPWIZ_ADDR"); ok {
		cfg.Addr = v
	}
	if v, ok := EnvString("SHOPWIZ_DB"); ok {
		cfg.DBDSN = v
	}
	if v, ok := EnvString("SHOPWIZ_ENV"); ok {
		cfg.Env = strings.ToUpper(v)
	}
	if v, ok := EnvString("SHOPWIZ_SHOPS"); ok {
		shops := []models.ShopName{}
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			shops = append(shops, models.ShopName(strings.ToUpper(name)))
		}
		cfg.EnabledShops = shops
	}
	if v, ok, err := EnvInt("SHOPWIZ_EXPIRY_DAYS"); err != nil {
		return nil, fmt.Errorf("invalid SHOPWIZ_EXPIRY_DAYS: %w", err)
	} else if ok {
		cfg.ResultsExpiryDays = v
	}
	if v, ok, err := EnvInt("SHOPWIZ_MAX_SCRAPE_SECONDS"); err != nil {
		return nil, fmt.Errorf("invalid SHOPWIZ_MAX_SCRAPE_SECONDS: %w", err)
	} else if ok {
		cfg.MaxScrapeDuration = time.Duration(v) * time.Second
	}
	if v, ok, err := EnvInt("SHOPWIZ_RETENTION_DAYS"); err != nil {
		return nil, fmt.Errorf("invalid SHOPWIZ_RETENTION_DAYS: %w", err)
	} else if ok {
		cfg.RetentionDays = v
	}
	if v, ok, err := EnvInt("SHOPWIZ_RATE_LIMIT"); err != nil {
		return nil, fmt.Errorf("invalid SHOPWIZ_RATE_LIMIT: %w", err)
	} else if ok {
		cfg.RateLimit = v
	}
	if v, ok, err := EnvInt("SHOPWIZ_WORKERS"); err != nil {
		return nil, fmt.Errorf("invalid SHOPWIZ_WORKERS: %w", err)
	} else if ok {
		cfg.Workers = v
	}
	if v, ok := EnvString("SHOPWIZ_USER_AGENT"); ok {
		cfg.UserAgent = v
	}
	if v, ok := EnvString("SHOPWIZ_HEADLESS"); ok {
		cfg.Headless = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := EnvString("SHOPWIZ_VERBOSE"); ok {
		cfg.Verbose = strings.EqualFold(v, "true") || v == "1"
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.DBDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if len(c.EnabledShops) == 0 {
		return fmt.Errorf("at least one shop must be enabled")
	}
	seen := map[models.ShopName]bool{}
	for _, shop := range c.EnabledShops {
		if seen[shop] {
			return fmt.Errorf("shop %s enabled twice", shop)
		}
		seen[shop] = true
	}
	if c.ResultsExpiryDays <= 0 {
		return fmt.Errorf("results expiry days must be positive")
	}
	if c.MaxScrapeDuration <= 0 {
		return fmt.Errorf("max scrape duration must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.RetentionDays < c.ResultsExpiryDays {
		return fmt.Errorf("retention days (%d) cannot be shorter than the expiry window (%d)", c.RetentionDays, c.ResultsExpiryDays)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.JobQueueSize <= 0 {
		return fmt.Errorf("job queue size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	return nil
}

// Production reports whether IP-level rate limits must be enforced.
func (c *Config) Production() bool {
	return c.Env == "PROD"
}

// EnvString returns a non-empty environment value.
func EnvString(key string) (string, bool) {
	value := os.Getenv(key)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, err
	}
	return parsed, true, nil
}
