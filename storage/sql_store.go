package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// Dialect selects placeholder and column-type syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqliteConstraint is SQLITE_CONSTRAINT; extended codes keep it in the low byte.
const sqliteConstraint = 19

var listingColumns = []string{
	"external_id", "title", "url", "description",
	"asking_price", "monthly_revenue", "monthly_profit", "annual_revenue", "annual_profit",
	"profit_margin", "revenue_multiple", "profit_multiple", "reported_multiple",
	"category", "property_type", "monetization", "size_category",
	"traffic_verified", "revenue_verified", "manually_vetted",
	"quality_score", "extraction_confidence", "low_confidence", "warnings",
	"raw_source", "first_seen_at", "last_seen_at",
}

// SQLStore persists listings through database/sql, on PostgreSQL (lib/pq) or
// SQLite (modernc).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	upsert  string
	logger  *utils.Logger
}

// OpenPostgres connects to PostgreSQL, waits for it to accept pings and
// creates the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *utils.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return newSQLStore(ctx, db, DialectPostgres, logger)
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *utils.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer at a time; sqlite serialises anyway
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, DialectSQLite, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, logger *utils.Logger) (*SQLStore, error) {
	retry := &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Logger: logger}
	err := retry.Do(ctx, string(dialect)+"-ping", func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect, logger: logger}
	s.upsert = s.buildUpsert()
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", dialect, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// schemaStatements returns the listings DDL. Money and multiple columns carry
// CHECK constraints so the database rejects negative values per row.
func schemaStatements(dialect Dialect) []string {
	num, boolean, ts := "DOUBLE PRECISION", "BOOLEAN", "TIMESTAMPTZ"
	if dialect == DialectSQLite {
		num, ts = "REAL", "TIMESTAMP"
	}
	money := func(col string) string {
		return fmt.Sprintf("%s %s CHECK (%s IS NULL OR %s >= 0)", col, num, col, col)
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS listings (
			external_id           TEXT PRIMARY KEY,
			title                 TEXT NOT NULL DEFAULT '',
			url                   TEXT NOT NULL DEFAULT '',
			description           TEXT NOT NULL DEFAULT '',
			` + money("asking_price") + `,
			` + money("monthly_revenue") + `,
			` + money("monthly_profit") + `,
			` + money("annual_revenue") + `,
			` + money("annual_profit") + `,
			profit_margin         ` + num + `,
			` + money("revenue_multiple") + `,
			` + money("profit_multiple") + `,
			reported_multiple     ` + num + `,
			category              TEXT NOT NULL DEFAULT '',
			property_type         TEXT NOT NULL DEFAULT '',
			monetization          TEXT NOT NULL DEFAULT '',
			size_category         TEXT NOT NULL DEFAULT '',
			traffic_verified      ` + boolean + ` NOT NULL DEFAULT FALSE,
			revenue_verified      ` + boolean + ` NOT NULL DEFAULT FALSE,
			manually_vetted       ` + boolean + ` NOT NULL DEFAULT FALSE,
			quality_score         INTEGER NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
			extraction_confidence ` + num + ` NOT NULL DEFAULT 0,
			low_confidence        ` + boolean + ` NOT NULL DEFAULT FALSE,
			warnings              TEXT NOT NULL DEFAULT '[]',
			raw_source            TEXT NOT NULL DEFAULT '',
			first_seen_at         ` + ts + ` NOT NULL,
			last_seen_at          ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(asking_price)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_quality ON listings(quality_score)`,
	}
}

func (s *SQLStore) placeholder(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *SQLStore) buildUpsert() string {
	ph := make([]string, len(listingColumns))
	var set []string
	for i, c := range listingColumns {
		ph[i] = s.placeholder(i + 1)
		if c == "external_id" || c == "first_seen_at" {
			continue
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`INSERT INTO listings (%s) VALUES (%s)
		ON CONFLICT (external_id) DO UPDATE SET %s`,
		strings.Join(listingColumns, ", "), strings.Join(ph, ", "), strings.Join(set, ", "))
}

func listingArgs(l *models.Listing) ([]any, error) {
	warnings, err := json.Marshal(nonNilStrings(l.Warnings))
	if err != nil {
		return nil, err
	}
	return []any{
		l.ExternalID, l.Title, l.URL, l.Description,
		l.AskingPrice, l.MonthlyRevenue, l.MonthlyProfit,
		l.AnnualRevenue, l.AnnualProfit,
		l.ProfitMargin, l.RevenueMultiple, l.ProfitMultiple, l.ReportedMultiple,
		l.Category, l.PropertyType, l.Monetization, l.SizeCategory,
		l.Verification.TrafficVerified, l.Verification.RevenueVerified, l.Verification.ManuallyVetted,
		l.QualityScore, l.ExtractionConfidence, l.LowConfidence, string(warnings),
		l.RawSource, l.FirstSeenAt.UTC(), l.LastSeenAt.UTC(),
	}, nil
}

// UpsertBatch writes listings in one transaction. A row the database rejects
// rolls the batch back and is reported as a *RecordError.
func (s *SQLStore) UpsertBatch(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return fmt.Errorf("%s: prepare upsert: %w", s.dialect, err)
	}
	defer stmt.Close()

	for i, l := range listings {
		args, err := listingArgs(l)
		if err != nil {
			return &RecordError{Index: i, Err: err}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			if isConstraintViolation(err) {
				return &RecordError{Index: i, Err: err}
			}
			return fmt.Errorf("%s: upsert %q: %w", s.dialect, l.ExternalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect, err)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		return class == "23" || class == "22"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint
	}
	return false
}

func (s *SQLStore) ListKnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_id FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("%s: list ids: %w", s.dialect, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan id: %w", s.dialect, err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// FetchAll retrieves all stored listings, used by the summary report.
func (s *SQLStore) FetchAll(ctx context.Context) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM listings ORDER BY external_id`, strings.Join(listingColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("%s: fetch all: %w", s.dialect, err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var price, rev, profit, annRev, annProfit, margin, revMul, profMul, repMul sql.NullFloat64
		var warnings string
		if err := rows.Scan(
			&l.ExternalID, &l.Title, &l.URL, &l.Description,
			&price, &rev, &profit, &annRev, &annProfit,
			&margin, &revMul, &profMul, &repMul,
			&l.Category, &l.PropertyType, &l.Monetization, &l.SizeCategory,
			&l.Verification.TrafficVerified, &l.Verification.RevenueVerified, &l.Verification.ManuallyVetted,
			&l.QualityScore, &l.ExtractionConfidence, &l.LowConfidence, &warnings,
			&l.RawSource, &l.FirstSeenAt, &l.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", s.dialect, err)
		}
		l.AskingPrice, l.MonthlyRevenue, l.MonthlyProfit = floatPtr(price), floatPtr(rev), floatPtr(profit)
		l.AnnualRevenue, l.AnnualProfit, l.ProfitMargin = floatPtr(annRev), floatPtr(annProfit), floatPtr(margin)
		l.RevenueMultiple, l.ProfitMultiple, l.ReportedMultiple = floatPtr(revMul), floatPtr(profMul), floatPtr(repMul)
		if err := json.Unmarshal([]byte(warnings), &l.Warnings); err != nil {
			s.logger.Warn("[%s] Bad warnings column for %s: %v", s.dialect, l.ExternalID, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
