// Package models defines data structures shared across the scraping core.
package models

import "time"

// ShopName identifies a supported retailer.
type ShopName string

const (
	ShopTesco     ShopName = "TESCO"
	ShopSuperValu ShopName = "SUPERVALU"
	ShopAldi      ShopName = "ALDI"
)

// PageSize is the number of items each retailer lists per result page. It is
// used to derive the page count from the advertised total item count.
var PageSize = map[ShopName]int{
	ShopTesco:     48,
	ShopSuperValu: 30,
	ShopAldi:      36,
}

// UnitType is the canonical unit a price-per-unit figure is expressed in.
type UnitType string

const (
	UnitKG            UnitType = "KG"
	UnitL             UnitType = "L"
	UnitM             UnitType = "M"
	UnitM2            UnitType = "M2"
	UnitEach          UnitType = "EACH"
	UnitHundredSheets UnitType = "HUNDRED_SHEETS"
)

// UnitTypes lists all canonical units in display order.
var UnitTypes = []UnitType{UnitKG, UnitL, UnitM, UnitM2, UnitEach, UnitHundredSheets}

// Product is one scraped item, normalized to canonical units.
type Product struct {
	ID              int64    `db:"id" json:"-"`
	BatchID         string   `db:"batch_id" json:"-"`
	Name            string   `db:"name" json:"name" validate:"required"`
	Price           float64  `db:"price" json:"price" validate:"gt=0"`
	PricePerUnit    float64  `db:"price_per_unit" json:"price_per_unit" validate:"gt=0"`
	UnitType        UnitType `db:"unit_type" json:"unit_type" validate:"required"`
	UnitMeasurement float64  `db:"unit_measurement" json:"unit_measurement" validate:"gt=0"`
	ImgSrc          string   `db:"img_src" json:"img_src,omitempty"`
	ProductURL      string   `db:"product_url" json:"product_url,omitempty"`
	ShopName        ShopName `db:"shop_name" json:"shop_name" validate:"required"`
}

// Batch is one completed scrape run for a normalized query. Only the most
// recent batch per query is authoritative for freshness decisions.
type Batch struct {
	ID        string    `db:"id" json:"id"`
	Query     string    `db:"query" json:"query"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ShopSummary records per-adapter execution metadata for a fetch.
type ShopSummary struct {
	ShopName ShopName `json:"shop_name"`
	Count    int      `json:"count"`
	Elapsed  float64  `json:"exec_time"`
}

// FetchResult is what an adapter hands back to the orchestrator. Emptiness is
// not an error; a blocked or timed-out fetch degrades to partial results.
type FetchResult struct {
	Products []Product
	Summary  ShopSummary
}

// ScrapeResult aggregates one orchestrator run across all adapters.
type ScrapeResult struct {
	Query      string        `json:"query"`
	Summaries  []ShopSummary `json:"summary_per_shop"`
	TotalCount int           `json:"total_count"`
	Dropped    int           `json:"dropped"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
}
