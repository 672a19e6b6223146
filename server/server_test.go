package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chavrod/shopwiz/cache"
	"github.com/chavrod/shopwiz/config"
	"github.com/chavrod/shopwiz/limiter"
	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/notifier"
	"github.com/chavrod/shopwiz/scraper"
	"github.com/chavrod/shopwiz/storage"
)

type countingQueue struct {
	mu      sync.Mutex
	queries []string
}

func (q *countingQueue) Enqueue(query string, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, query)
	return nil
}

func (q *countingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queries)
}

type fixture struct {
	server *Server
	store  *storage.Store
	queue  *countingQueue
	events *notifier.Service
	cfg    *config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Env = "DEV"
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.Open("file:" + t.TempDir() + "/shopwiz.db")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	queue := &countingQueue{}
	freshness := cache.New(store, queue, cache.Options{
		ExpiryDays:        cfg.ResultsExpiryDays,
		MaxScrapeDuration: cfg.MaxScrapeDuration,
	})
	events := notifier.NewService(nil)
	guard := limiter.New(store, cfg, nil)

	srv := New(cfg, store, freshness, guard, events, scraper.NewMetrics(), nil)
	return &fixture{server: srv, store: store, queue: queue, events: events, cfg: cfg}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Customer-Ref", "tester")

	resp, err := f.server.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	body := map[string]json.RawMessage{}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	return resp, body
}

type productMetadata struct {
	IsFullMetadata       bool    `json:"is_full_metadata"`
	FirstTimeSearch      bool    `json:"first_time_search"`
	IsUpdateNeeded       bool    `json:"is_update_needed"`
	EstimatedWaitSeconds int     `json:"estimated_wait_seconds"`
	Page                 int     `json:"page"`
	TotalPages           int     `json:"total_pages"`
	TotalResults         int     `json:"total_results"`
	OrderBy              string  `json:"order_by"`
	Query                string  `json:"query"`
	PriceRangeInfo       struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"price_range_info"`
	UnitsRangeList []storage.UnitFacet `json:"units_range_list"`
}

func decodeMetadata(t *testing.T, body map[string]json.RawMessage) productMetadata {
	t.Helper()
	var meta productMetadata
	if err := json.Unmarshal(body["metadata"], &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return meta
}

func decodeData(t *testing.T, body map[string]json.RawMessage) []models.Product {
	t.Helper()
	var data []models.Product
	if err := json.Unmarshal(body["data"], &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return data
}

func seedBatch(t *testing.T, store *storage.Store, query string) models.Batch {
	t.Helper()
	batch, err := store.CreateBatch(context.Background(), query, []models.Product{
		{Name: "Milk 1L", Price: 1.20, PricePerUnit: 1.20, UnitType: models.UnitL, UnitMeasurement: 1, ShopName: models.ShopTesco},
		{Name: "Milk 2L", Price: 2.10, PricePerUnit: 1.05, UnitType: models.UnitL, UnitMeasurement: 2, ShopName: models.ShopAldi},
		{Name: "Milk Chocolate", Price: 1.00, PricePerUnit: 10.00, UnitType: models.UnitKG, UnitMeasurement: 0.1, ShopName: models.ShopSuperValu},
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	return batch
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status string
	_ = json.Unmarshal(body["status"], &status)
	if status != "OK" {
		t.Errorf("status field = %q, want OK", status)
	}
}

func TestProductsRequiresQuery(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.get(t, "/api/products")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProductsRejectsMalformedRange(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.get(t, "/api/products?query=milk&price_range=cheap")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProductsFirstTimeSearchDispatches(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/api/products?query=Quinoa")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	meta := decodeMetadata(t, body)
	if meta.IsFullMetadata || !meta.FirstTimeSearch || !meta.IsUpdateNeeded {
		t.Errorf("metadata = %+v, want partial first-time flags", meta)
	}
	if meta.EstimatedWaitSeconds <= 0 {
		t.Errorf("estimated_wait_seconds = %d, want positive", meta.EstimatedWaitSeconds)
	}
	if f.queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", f.queue.count())
	}
	// The queried term is normalized before everything else.
	f.queue.mu.Lock()
	defer f.queue.mu.Unlock()
	if f.queue.queries[0] != "quinoa" {
		t.Errorf("dispatched query = %q, want normalized form", f.queue.queries[0])
	}
}

func TestProductsFreshBatchServedWithoutDispatch(t *testing.T) {
	f := newFixture(t, nil)
	seedBatch(t, f.store, "milk")

	resp, body := f.get(t, "/api/products?query=milk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	meta := decodeMetadata(t, body)
	if !meta.IsFullMetadata || meta.IsUpdateNeeded {
		t.Errorf("metadata = %+v, want full metadata without update", meta)
	}
	if meta.TotalResults != 3 || meta.TotalPages != 1 {
		t.Errorf("total_results = %d total_pages = %d, want 3 and 1", meta.TotalResults, meta.TotalPages)
	}
	if meta.PriceRangeInfo.Min != 1.00 || meta.PriceRangeInfo.Max != 2.10 {
		t.Errorf("price_range_info = %+v", meta.PriceRangeInfo)
	}
	if len(meta.UnitsRangeList) != 2 {
		t.Errorf("units_range_list = %+v, want 2 unit facets", meta.UnitsRangeList)
	}
	data := decodeData(t, body)
	if len(data) != 3 {
		t.Fatalf("data = %d products, want 3", len(data))
	}
	// Default ordering is ascending price.
	if data[0].Name != "Milk Chocolate" {
		t.Errorf("first product = %q, want cheapest", data[0].Name)
	}
	if f.queue.count() != 0 {
		t.Errorf("dispatched %d jobs for fresh data, want 0", f.queue.count())
	}
}

func TestProductsFiltersApply(t *testing.T) {
	f := newFixture(t, nil)
	seedBatch(t, f.store, "milk")

	resp, body := f.get(t, "/api/products?query=milk&unit_type=L&unit_measurement_range=,1.5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeData(t, body)
	if len(data) != 1 || data[0].Name != "Milk 1L" {
		t.Errorf("data = %+v, want only Milk 1L", data)
	}
	meta := decodeMetadata(t, body)
	if meta.TotalResults != 1 {
		t.Errorf("total_results = %d, want 1", meta.TotalResults)
	}
}

func TestProductsStaleBatchServedAndRefreshed(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		// A zero-day expiry makes every stored batch immediately stale.
		cfg.ResultsExpiryDays = 0
	})
	seedBatch(t, f.store, "milk")

	resp, body := f.get(t, "/api/products?query=milk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	meta := decodeMetadata(t, body)
	if !meta.IsFullMetadata || !meta.IsUpdateNeeded {
		t.Errorf("metadata = %+v, want stale full metadata", meta)
	}
	if len(decodeData(t, body)) != 3 {
		t.Error("stale data was not served while refreshing")
	}
	if f.queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", f.queue.count())
	}
}

func TestProductsRateLimitDeniesFirstTimeSearch(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RateLimit = 1
	})

	if resp, _ := f.get(t, "/api/products?query=first"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", resp.StatusCode)
	}
	resp, _ := f.get(t, "/api/products?query=second")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}
	if f.queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1", f.queue.count())
	}
}

func TestProductsRateLimitStillServesStaleData(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.ResultsExpiryDays = 0
		cfg.RateLimit = 1
	})
	seedBatch(t, f.store, "milk")

	if resp, _ := f.get(t, "/api/products?query=other"); resp.StatusCode != http.StatusOK {
		t.Fatalf("budget-spending request status = %d, want 200", resp.StatusCode)
	}

	resp, body := f.get(t, "/api/products?query=milk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with stale data", resp.StatusCode)
	}
	if len(decodeData(t, body)) != 3 {
		t.Error("stale data not served after rate limit denial")
	}
	if f.queue.count() != 1 {
		t.Errorf("dispatched %d jobs, want 1 (denied refresh must not dispatch)", f.queue.count())
	}
}

func TestProductUpdatesDeliversCompletionEvent(t *testing.T) {
	f := newFixture(t, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		f.events.Publish("milk", notifier.StatusCompleted)
	}()

	resp, _ := f.get(t, "/api/products/updates?query=Milk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProductUpdatesTimesOut(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.WaitTimeout = 50 * time.Millisecond
	})

	resp, _ := f.get(t, "/api/products/updates?query=milk")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestProductUpdatesRequiresQuery(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.get(t, "/api/products/updates")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
