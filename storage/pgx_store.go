package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// PgxStore persists listings to PostgreSQL with pgx batches, one round trip
// per UpsertBatch.
type PgxStore struct {
	pool   *pgxpool.Pool
	upsert string
	logger *utils.Logger
}

// OpenPgx connects a pool to dsn and creates the schema. viaBouncer switches
// to the simple protocol, which transaction-mode poolers require.
func OpenPgx(ctx context.Context, dsn string, maxConns int, viaBouncer bool, logger *utils.Logger) (*PgxStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgx: connect: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Logger: logger}
	if err := retry.Do(ctx, "pgx-ping", func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping: %w", err)
	}

	for _, stmt := range schemaStatements(DialectPostgres) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgx: migrate: %w", err)
		}
	}

	ph := make([]string, len(listingColumns))
	var set []string
	for i, c := range listingColumns {
		ph[i] = fmt.Sprintf("$%d", i+1)
		if c != "external_id" && c != "first_seen_at" {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	upsert := fmt.Sprintf(`INSERT INTO listings (%s) VALUES (%s)
		ON CONFLICT (external_id) DO UPDATE SET %s`,
		strings.Join(listingColumns, ", "), strings.Join(ph, ", "), strings.Join(set, ", "))

	return &PgxStore{pool: pool, upsert: upsert, logger: logger}, nil
}

// UpsertBatch queues every listing on one batch inside a transaction. The
// first rejected row rolls the batch back and comes back as a *RecordError.
func (p *PgxStore) UpsertBatch(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgx: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	for i, l := range listings {
		args, err := listingArgs(l)
		if err != nil {
			return &RecordError{Index: i, Err: err}
		}
		b.Queue(p.upsert, args...)
	}

	br := tx.SendBatch(ctx, b)
	for i := range listings {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")) {
				return &RecordError{Index: i, Err: err}
			}
			return fmt.Errorf("pgx: upsert %q: %w", listings[i].ExternalID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("pgx: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgx: commit: %w", err)
	}
	return nil
}

func (p *PgxStore) ListKnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, `SELECT external_id FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("pgx: list ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgx: scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// FetchAll retrieves all stored listings, used by the summary report.
func (p *PgxStore) FetchAll(ctx context.Context) ([]*models.Listing, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM listings ORDER BY external_id`, strings.Join(listingColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("pgx: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var warnings string
		if err := rows.Scan(
			&l.ExternalID, &l.Title, &l.URL, &l.Description,
			&l.AskingPrice, &l.MonthlyRevenue, &l.MonthlyProfit, &l.AnnualRevenue, &l.AnnualProfit,
			&l.ProfitMargin, &l.RevenueMultiple, &l.ProfitMultiple, &l.ReportedMultiple,
			&l.Category, &l.PropertyType, &l.Monetization, &l.SizeCategory,
			&l.Verification.TrafficVerified, &l.Verification.RevenueVerified, &l.Verification.ManuallyVetted,
			&l.QualityScore, &l.ExtractionConfidence, &l.LowConfidence, &warnings,
			&l.RawSource, &l.FirstSeenAt, &l.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("pgx: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &l.Warnings); err != nil {
			p.logger.Warn("[pgx] Bad warnings column for %s: %v", l.ExternalID, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (p *PgxStore) Close() error {
	p.pool.Close()
	return nil
}
