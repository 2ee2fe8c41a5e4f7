package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"listing-harvester/models"
)

var (
	listingHeader = []string{
		"external_id", "title", "url", "category", "property_type", "monetization", "size_category",
		"asking_price", "monthly_revenue", "monthly_profit", "profit_margin", "revenue_multiple", "profit_multiple",
		"traffic_verified", "revenue_verified", "manually_vetted",
		"quality_score", "extraction_confidence", "low_confidence", "warnings",
		"first_seen_at", "last_seen_at",
	}
	failureHeader = []string{"unit", "class", "attempts", "reason", "at"}
)

// CSVWriter writes listings or run failures to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewListingCSV creates (or truncates) a listing export at path.
func NewListingCSV(path string) (*CSVWriter, error) {
	return newCSVWriter(path, listingHeader)
}

// NewFailureCSV creates (or truncates) a failure export at path.
func NewFailureCSV(path string) (*CSVWriter, error) {
	return newCSVWriter(path, failureHeader)
}

// newCSVWriter creates the file and writes the header row. Intermediate
// directories are created automatically.
func newCSVWriter(path string, header []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteListings appends one row per listing.
func (c *CSVWriter) WriteListings(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			l.ExternalID,
			l.Title,
			l.URL,
			l.Category,
			l.PropertyType,
			l.Monetization,
			l.SizeCategory,
			formatFloat(l.AskingPrice),
			formatFloat(l.MonthlyRevenue),
			formatFloat(l.MonthlyProfit),
			formatFloat(l.ProfitMargin),
			formatFloat(l.RevenueMultiple),
			formatFloat(l.ProfitMultiple),
			strconv.FormatBool(l.Verification.TrafficVerified),
			strconv.FormatBool(l.Verification.RevenueVerified),
			strconv.FormatBool(l.Verification.ManuallyVetted),
			strconv.Itoa(l.QualityScore),
			strconv.FormatFloat(l.ExtractionConfidence, 'f', 3, 64),
			strconv.FormatBool(l.LowConfidence),
			strings.Join(l.Warnings, " | "),
			formatTime(l.FirstSeenAt),
			formatTime(l.LastSeenAt),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// WriteFailures appends one row per failure.
func (c *CSVWriter) WriteFailures(failures []models.Failure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range failures {
		row := []string{f.Unit, string(f.Class), strconv.Itoa(f.Attempts), f.Reason, formatTime(f.At)}
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

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
