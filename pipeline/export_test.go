package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chavrod/shopwiz/models"
)

func TestCSVExporterWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "products.csv")
	exp, err := NewExporter("csv", path)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	products := []models.Product{
		validProduct("Milk 1L", models.ShopTesco),
		validProduct("Milk 2L", models.ShopAldi),
	}
	if err := exp.Write(products); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 records", len(rows))
	}
	if rows[0][0] != "name" {
		t.Errorf("header starts with %q, want name", rows[0][0])
	}
	if rows[1][0] != "Milk 1L" || rows[1][5] != "TESCO" {
		t.Errorf("first record = %v", rows[1])
	}
}

func TestJSONExporterWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	exp, err := NewExporter("json", path)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	if err := exp.Write([]models.Product{validProduct("Butter", models.ShopSuperValu)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}

	var decoded models.Product
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if decoded.Name != "Butter" || decoded.ShopName != models.ShopSuperValu {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNewExporterRejectsUnknownFormat(t *testing.T) {
	if _, err := NewExporter("xml", "out.xml"); err == nil {
		t.Fatal("NewExporter() error = nil, want unknown format")
	}
}
