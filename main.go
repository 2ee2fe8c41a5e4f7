package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"listing-harvester/config"
	"listing-harvester/models"
	"listing-harvester/scraper"
	"listing-harvester/services"
	"listing-harvester/storage"
	"listing-harvester/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(utils.ParseLevel(cfg.LogLevel))

	logger.Info("=== Listing Harvester starting ===")
	logger.Info("Config — source: %s | store: %s | concurrency: %d | batch: %d | retries: %d | rate: %v",
		cfg.SourceKind, cfg.StoreDriver, cfg.Concurrency, cfg.BatchSize, cfg.RetryBudget, cfg.RateLimit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreDriver, err)
		os.Exit(1)
	}
	defer store.Close()

	source, closeSource, err := openSource(cfg, logger)
	if err != nil {
		logger.Error("Failed to set up source: %v", err)
		os.Exit(1)
	}
	defer closeSource()

	specs := services.DefaultFieldSpecs()
	if cfg.FieldSpecsPath != "" {
		specs, err = config.LoadFieldSpecs(cfg.FieldSpecsPath)
		if err != nil {
			logger.Error("Failed to load field specs: %v", err)
			os.Exit(1)
		}
		logger.Info("Loaded %d field specs from %s", len(specs), cfg.FieldSpecsPath)
	}
	extractor, err := services.NewExtractor(specs)
	if err != nil {
		logger.Error("Invalid field specs: %v", err)
		os.Exit(1)
	}

	dedup := services.NewDeduplicator()
	if cfg.SeedKnownIDs {
		ids, err := store.ListKnownIDs(ctx)
		if err != nil {
			logger.Warn("Could not seed known ids, treating every listing as new: %v", err)
		} else {
			dedup.Seed(ids)
			logger.Info("Seeded %d known listing ids", len(ids))
		}
	}

	gateway := storage.NewGateway(store, cfg.BatchSize, cfg.BatchTimeout, logger)
	healer := services.NewHealer(cfg.RetryBudget, cfg.BackoffBase(), logger)
	orch := services.NewOrchestrator(services.OrchestratorConfig{
		Concurrency:  cfg.Concurrency,
		FetchTimeout: cfg.FetchTimeout,
		RateLimit:    cfg.RateLimit,
		MaxPages:     cfg.MaxPages,
	}, extractor, dedup, gateway, healer, logger)

	job := models.Job{Category: cfg.JobCategory, FirstPage: cfg.FirstPage, LastPage: cfg.LastPage}
	report, runErr := orch.RunPass(ctx, source, job)
	switch {
	case errors.Is(runErr, storage.ErrStoreUnavailable):
		logger.Error("Pass aborted: %v", runErr)
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Pass interrupted — partial report follows")
	case runErr != nil:
		logger.Error("Pass failed: %v", runErr)
	}

	insightSvc := services.NewInsightService(logger)
	insightSvc.PrintRun(report)

	writeFailures(cfg.CSVOutputPath, report.Failures, logger)

	stored := exportListings(store, cfg.CSVOutputPath, logger)
	if stored != nil {
		insightSvc.Print(insightSvc.Generate(stored))
	}

	fmt.Printf("  Done. Listings → %s store | CSV → %s\n\n", cfg.StoreDriver, cfg.CSVOutputPath)
	if errors.Is(runErr, storage.ErrStoreUnavailable) {
		os.Exit(2)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DSN(), logger)
	case "pgx":
		return storage.OpenPgx(ctx, cfg.DSN(), cfg.Concurrency+1, cfg.PgBouncer, logger)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, err
		}
		return storage.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case "mongo":
		return storage.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection, logger)
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func openSource(cfg *config.Config, logger *utils.Logger) (scraper.Source, func(), error) {
	if cfg.SourceURL == "" {
		return nil, nil, errors.New("SOURCE_URL is required")
	}
	switch cfg.SourceKind {
	case "api":
		return scraper.NewAPISource(cfg.SourceURL, cfg.UserAgent, cfg.FetchTimeout, logger), func() {}, nil
	case "html":
		return scraper.NewHTMLSource(scraper.HTMLConfig{
			IndexURL:           cfg.SourceURL,
			DetailLinkSelector: cfg.DetailLinkSelector,
			UserAgent:          cfg.UserAgent,
			Timeout:            cfg.FetchTimeout,
			Parallelism:        cfg.Concurrency,
			Delay:              cfg.RateLimit,
		}, logger), func() {}, nil
	case "browser":
		src := scraper.NewBrowserSource(scraper.BrowserConfig{
			IndexURL:           cfg.SourceURL,
			DetailLinkSelector: cfg.DetailLinkSelector,
			ReadySelector:      cfg.ReadySelector,
			UserAgent:          cfg.UserAgent,
			ChromeBin:          cfg.ChromeBin,
		}, logger)
		return src, src.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown SOURCE_KIND %q", cfg.SourceKind)
}

// exportListings writes everything the store holds to the listing CSV and
// returns it for the summary. Stores that cannot list their rows yield nil.
func exportListings(store storage.Store, path string, logger *utils.Logger) []*models.Listing {
	reader, ok := store.(storage.ListingReader)
	if !ok {
		logger.Warn("Store cannot list its rows — skipping CSV export and summary")
		return nil
	}
	// the pass context may be cancelled by now
	listings, err := reader.FetchAll(context.Background())
	if err != nil {
		logger.Error("Failed to fetch listings for export: %v", err)
		return nil
	}

	w, err := storage.NewListingCSV(path)
	if err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
		return listings
	}
	defer w.Close()
	if err := w.WriteListings(listings); err != nil {
		logger.Error("CSV write failed: %v", err)
	} else {
		logger.Info("%d listings saved to %s", len(listings), path)
	}
	return listings
}

func writeFailures(listingPath string, failures []models.Failure, logger *utils.Logger) {
	if len(failures) == 0 {
		return
	}
	path := strings.TrimSuffix(listingPath, filepath.Ext(listingPath)) + "_failures.csv"
	w, err := storage.NewFailureCSV(path)
	if err != nil {
		logger.Error("Failed to create failure CSV: %v", err)
		return
	}
	defer w.Close()
	if err := w.WriteFailures(failures); err != nil {
		logger.Error("Failure CSV write failed: %v", err)
		return
	}
	logger.Info("%d failures saved to %s", len(failures), path)
}
