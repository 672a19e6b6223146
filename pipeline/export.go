package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chavrod/shopwiz/models"
)

// Exporter writes scraped records to a local file. Used by the one-shot CLI;
// the server path persists through storage instead.
type Exporter interface {
	Write(products []models.Product) error
	Close() error
}

// NewExporter picks an exporter by format name.
func NewExporter(format, filename string) (Exporter, error) {
	switch format {
	case "csv":
		return newCSVExporter(filename)
	case "json":
		return newJSONExporter(filename)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

type csvExporter struct {
	file   *os.File
	writer *csv.Writer
}

func newCSVExporter(filename string) (*csvExporter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"name", "price", "price_per_unit", "unit_type", "unit_measurement", "shop", "url"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return &csvExporter{file: f, writer: writer}, nil
}

func (e *csvExporter) Write(products []models.Product) error {
	for _, p := range products {
		record := []string{
			p.Name,
			strconv.FormatFloat(p.Price, 'f', 2, 64),
			strconv.FormatFloat(p.PricePerUnit, 'f', 2, 64),
			string(p.UnitType),
			strconv.FormatFloat(p.UnitMeasurement, 'f', -1, 64),
			string(p.ShopName),
			p.ProductURL,
		}
		if err := e.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	e.writer.Flush()
	if err := e.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (e *csvExporter) Close() error {
	e.writer.Flush()
	if err := e.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return e.file.Close()
}

type jsonExporter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

func newJSONExporter(filename string) (*jsonExporter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}
	buffer := bufio.NewWriter(f)
	return &jsonExporter{file: f, writer: buffer, encoder: json.NewEncoder(buffer)}, nil
}

// Write appends records in JSONL format, one product per line.
func (e *jsonExporter) Write(products []models.Product) error {
	for _, p := range products {
		if err := e.encoder.Encode(p); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

func (e *jsonExporter) Close() error {
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return e.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
