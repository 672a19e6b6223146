// Package storage persists scrape batches, product records, and rate-limit
// counters in sqlite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/chavrod/shopwiz/models"
)

// Store wraps the sqlite connection.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database and bootstraps the schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS batches(
  id TEXT PRIMARY KEY,
  query TEXT NOT NULL CHECK (query <> ''),
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_query_created ON batches(query, created_at DESC);

CREATE TABLE IF NOT EXISTS products(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
  name TEXT NOT NULL CHECK (name <> ''),
  price NUMERIC NOT NULL CHECK (price > 0),
  price_per_unit NUMERIC NOT NULL CHECK (price_per_unit > 0),
  unit_type TEXT NOT NULL CHECK (unit_type <> ''),
  unit_measurement NUMERIC NOT NULL CHECK (unit_measurement > 0),
  img_src TEXT NOT NULL DEFAULT '',
  product_url TEXT NOT NULL DEFAULT '',
  shop_name TEXT NOT NULL CHECK (shop_name <> '')
);
CREATE INDEX IF NOT EXISTS idx_products_batch_unit ON products(batch_id, unit_type);

CREATE TABLE IF NOT EXISTS rate_limits(
  identity TEXT NOT NULL,
  action TEXT NOT NULL,
  request_count INTEGER NOT NULL DEFAULT 0,
  updated_at TIMESTAMP NOT NULL,
  PRIMARY KEY (identity, action)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBatch persists one completed scrape run. Batch creation and record
// insertion happen in a single transaction; a partial batch is never
// observable.
func (s *Store) CreateBatch(ctx context.Context, query string, products []models.Product) (models.Batch, error) {
	batch := models.Batch{
		ID:        uuid.NewString(),
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Batch{}, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, query, created_at) VALUES (?, ?, ?)`,
		batch.ID, batch.Query, batch.CreatedAt,
	); err != nil {
		return models.Batch{}, fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO products (batch_id, name, price, price_per_unit, unit_type, unit_measurement, img_src, product_url, shop_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return models.Batch{}, fmt.Errorf("prepare product insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.ExecContext(ctx,
			batch.ID, p.Name, p.Price, p.PricePerUnit, p.UnitType, p.UnitMeasurement, p.ImgSrc, p.ProductURL, p.ShopName,
		); err != nil {
			return models.Batch{}, fmt.Errorf("insert product %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Batch{}, fmt.Errorf("commit batch: %w", err)
	}
	return batch, nil
}

// MostRecentBatch returns the newest batch for a query, or nil when the query
// has never been scraped.
func (s *Store) MostRecentBatch(ctx context.Context, query string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.GetContext(ctx, &batch,
		`SELECT id, query, created_at FROM batches WHERE query = ? ORDER BY created_at DESC LIMIT 1`, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent batch: %w", err)
	}
	return &batch, nil
}

// ProductParams filter, order, and paginate a batch's records.
type ProductParams struct {
	Page     int
	PageSize int
	OrderBy  string // price | price_per_unit | unit_measurement, "-" prefix for descending
	PriceMin *float64
	PriceMax *float64
	UnitType models.UnitType
	UnitMin  *float64
	UnitMax  *float64
}

var orderColumns = map[string]string{
	"price":            "price",
	"price_per_unit":   "price_per_unit",
	"unit_measurement": "unit_measurement",
}

// BatchProducts returns one page of a batch's records plus the total count of
// records matching the filters.
func (s *Store) BatchProducts(ctx context.Context, batchID string, params ProductParams) ([]models.Product, int, error) {
	conditions := []string{"batch_id = ?"}
	args := []interface{}{batchID}

	if params.PriceMin != nil {
		conditions = append(conditions, "price >= ?")
		args = append(args, *params.PriceMin)
	}
	if params.PriceMax != nil {
		conditions = append(conditions, "price <= ?")
		args = append(args, *params.PriceMax)
	}
	if params.UnitType != "" {
		conditions = append(conditions, "unit_type = ?")
		args = append(args, params.UnitType)
	}
	if params.UnitMin != nil {
		conditions = append(conditions, "unit_measurement >= ?")
		args = append(args, *params.UnitMin)
	}
	if params.UnitMax != nil {
		conditions = append(conditions, "unit_measurement <= ?")
		args = append(args, *params.UnitMax)
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM products WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	order := "price ASC"
	if params.OrderBy != "" {
		direction := "ASC"
		column := params.OrderBy
		if strings.HasPrefix(column, "-") {
			direction = "DESC"
			column = column[1:]
		}
		if mapped, ok := orderColumns[column]; ok {
			order = mapped + " " + direction
		}
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	size := params.PageSize
	if size < 1 {
		size = 20
	}

	query := fmt.Sprintf(
		"SELECT id, batch_id, name, price, price_per_unit, unit_type, unit_measurement, img_src, product_url, shop_name FROM products WHERE %s ORDER BY %s, id ASC LIMIT ? OFFSET ?",
		where, order)
	args = append(args, size, (page-1)*size)

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, fmt.Errorf("select products: %w", err)
	}
	return products, total, nil
}

// PriceRange returns the min and max record price within a batch.
func (s *Store) PriceRange(ctx context.Context, batchID string) (float64, float64, error) {
	var row struct {
		Min sql.NullFloat64 `db:"min_price"`
		Max sql.NullFloat64 `db:"max_price"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT MIN(price) AS min_price, MAX(price) AS max_price FROM products WHERE batch_id = ?`, batchID)
	if err != nil {
		return 0, 0, fmt.Errorf("price range: %w", err)
	}
	return row.Min.Float64, row.Max.Float64, nil
}

// UnitFacet summarizes one unit type present in a batch.
type UnitFacet struct {
	UnitType models.UnitType `db:"unit_type" json:"name"`
	Count    int             `db:"total" json:"count"`
	Max      float64         `db:"max_measurement" json:"max"`
}

// UnitFacets aggregates per-unit-type counts and measurement ceilings for a
// batch, in canonical unit order.
func (s *Store) UnitFacets(ctx context.Context, batchID string) ([]UnitFacet, error) {
	rows := []UnitFacet{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT unit_type, COUNT(*) AS total, MAX(unit_measurement) AS max_measurement
		FROM products WHERE batch_id = ? GROUP BY unit_type`, batchID)
	if err != nil {
		return nil, fmt.Errorf("unit facets: %w", err)
	}

	byType := make(map[models.UnitType]UnitFacet, len(rows))
	for _, r := range rows {
		byType[r.UnitType] = r
	}
	ordered := make([]UnitFacet, 0, len(rows))
	for _, unit := range models.UnitTypes {
		if facet, ok := byType[unit]; ok {
			ordered = append(ordered, facet)
		}
	}
	return ordered, nil
}

// DeleteBatchesBefore removes batches (and, via cascade, their records) older
// than cutoff. Used by the retention sweep.
func (s *Store) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CounterValue returns the current request count for (identity, action),
// creating the row lazily on first use.
func (s *Store) CounterValue(ctx context.Context, identity, action string) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limits (identity, action, request_count, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(identity, action) DO NOTHING`,
		identity, action, time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("ensure counter: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT request_count FROM rate_limits WHERE identity = ? AND action = ?`, identity, action); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return count, nil
}

// IncrementCounter atomically bumps the counter for (identity, action). The
// upsert form avoids lost updates under concurrent identical requests.
func (s *Store) IncrementCounter(ctx context.Context, identity, action string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limits (identity, action, request_count, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(identity, action) DO UPDATE SET request_count = request_count + 1, updated_at = excluded.updated_at`,
		identity, action, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// ResetCounters zeroes every rate-limit counter. Driven by the daily reset
// schedule, never by reads.
func (s *Store) ResetCounters(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rate_limits SET request_count = 0, updated_at = ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}
