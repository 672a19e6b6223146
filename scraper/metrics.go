package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chavrod/shopwiz/models"
)

// Metrics bundles Prometheus collectors for the scraping core.
type Metrics struct {
	Registry         *prometheus.Registry
	ProductsScraped  *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchFaults      *prometheus.CounterVec
	PagesVisited     *prometheus.CounterVec
	BatchesPersisted prometheus.Counter
	RecordsDropped   prometheus.Counter
	JobsDispatched   prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopwiz_products_scraped_total",
			Help: "Total product records emitted by adapters.",
		},
		[]string{"shop"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopwiz_fetch_duration_seconds",
			Help:    "Wall time of one adapter fetch, success or not.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
		[]string{"shop"},
	)
	faults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopwiz_fetch_faults_total",
			Help: "Adapter faults by category. Faults degrade to partial results.",
		},
		[]string{"shop", "category"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopwiz_pages_visited_total",
			Help: "Result pages visited per shop.",
		},
		[]string{"shop"},
	)
	batches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopwiz_batches_persisted_total",
			Help: "Completed scrape batches committed to storage.",
		},
	)
	dropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopwiz_records_dropped_total",
			Help: "Scraped records dropped by validation before persistence.",
		},
	)
	jobs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopwiz_scrape_jobs_dispatched_total",
			Help: "Scrape jobs enqueued after a cache miss.",
		},
	)

	registry.MustRegister(products, fetchDuration, faults, pages, batches, dropped, jobs)

	return &Metrics{
		Registry:         registry,
		ProductsScraped:  products,
		FetchDuration:    fetchDuration,
		FetchFaults:      faults,
		PagesVisited:     pages,
		BatchesPersisted: batches,
		RecordsDropped:   dropped,
		JobsDispatched:   jobs,
	}
}

// AddProducts increments the scraped-products counter for a shop.
func (m *Metrics) AddProducts(shop models.ShopName, n int) {
	if m == nil {
		return
	}
	m.ProductsScraped.WithLabelValues(string(shop)).Add(float64(n))
}

// ObserveFetch records one adapter fetch duration.
func (m *Metrics) ObserveFetch(shop models.ShopName, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(string(shop)).Observe(d.Seconds())
}

// IncFault increments the fault counter for a shop and category.
func (m *Metrics) IncFault(shop models.ShopName, category string) {
	if m == nil {
		return
	}
	m.FetchFaults.WithLabelValues(string(shop), category).Inc()
}

// IncPage increments the visited-pages counter for a shop.
func (m *Metrics) IncPage(shop models.ShopName) {
	if m == nil {
		return
	}
	m.PagesVisited.WithLabelValues(string(shop)).Inc()
}

// IncBatch increments the persisted-batches counter.
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.BatchesPersisted.Inc()
}

// AddDropped counts records rejected by validation.
func (m *Metrics) AddDropped(n int) {
	if m == nil {
		return
	}
	m.RecordsDropped.Add(float64(n))
}

// IncJob counts a dispatched scrape job.
func (m *Metrics) IncJob() {
	if m == nil {
		return
	}
	m.JobsDispatched.Inc()
}
