package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ominous-one/Lotview-sub007/models"
)

// CSVWriter dumps the raw (pre-dedup) records of an aggregation run to a CSV
// file for auditing. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"source", "rank", "listing_url", "vin", "year", "make", "model", "trim",
		"price", "mileage", "seller_name", "confidence", "posted_date",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends raw records to the audit file.
func (c *CSVWriter) WriteRaw(records []*models.RawListingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		posted := ""
		if !r.PostedDate.IsZero() {
			posted = r.PostedDate.Format(time.RFC3339)
		}
		row := []string{
			r.Source,
			strconv.Itoa(r.DataSourceRank),
			r.ListingURL,
			r.VIN,
			strconv.Itoa(r.Year),
			r.Make,
			r.Model,
			r.Trim,
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			strconv.Itoa(r.Mileage),
			r.SellerName,
			strconv.Itoa(r.SourceConfidence),
			posted,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
