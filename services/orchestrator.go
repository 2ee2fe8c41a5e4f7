package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"listing-harvester/models"
	"listing-harvester/scraper"
	"listing-harvester/storage"
	"listing-harvester/utils"
)

const (
	defaultConcurrency  = 3
	defaultMaxPages     = 50
	defaultFetchTimeout = 60 * time.Second
	// flushGrace bounds the best-effort flush after cancellation.
	flushGrace = 30 * time.Second
)

// OrchestratorConfig tunes a pass.
type OrchestratorConfig struct {
	Concurrency  int
	FetchTimeout time.Duration
	RateLimit    time.Duration // minimum spacing between page fetches
	MaxPages     int           // page cap when the job leaves LastPage open
}

// Orchestrator runs extraction passes: fetch pages, extract and normalize
// each unit, score, deduplicate and persist in batches.
type Orchestrator struct {
	cfg        OrchestratorConfig
	extractor  *Extractor
	normalizer *Normalizer
	dedup      *Deduplicator
	gateway    *storage.Gateway
	healer     *Healer
	logger     *utils.Logger
	now        func() time.Time
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(cfg OrchestratorConfig, extractor *Extractor, dedup *Deduplicator,
	gateway *storage.Gateway, healer *Healer, logger *utils.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Orchestrator{
		cfg:        cfg,
		extractor:  extractor,
		normalizer: NewNormalizer(logger),
		dedup:      dedup,
		gateway:    gateway,
		healer:     healer,
		logger:     logger,
		now:        time.Now,
	}
}

// unitEvent is what a worker hands the aggregator for one unit or one failed
// page fetch.
type unitEvent struct {
	unit     *models.RawContentUnit
	results  []models.FieldExtractionResult
	listing  *models.Listing
	sighting Sighting
	outcome  Outcome

	page     int
	pageFail bool
}

// RunUnits runs a pass over already fetched units.
func (o *Orchestrator) RunUnits(ctx context.Context, units []*models.RawContentUnit) (*models.RunReport, error) {
	perPage := (len(units) + o.cfg.Concurrency - 1) / o.cfg.Concurrency
	src := scraper.NewStaticSource(units, perPage)
	return o.RunPass(ctx, src, models.Job{FirstPage: 1, LastPage: len(src.Pages)})
}

// RunPass processes the pages of job from source. Per-unit failures are
// recorded in the report and never stop the pass. Cancelling ctx stops
// dispatch between units; what is buffered is flushed before the partial
// report is returned together with ctx's error. A store outage aborts the pass
// with an error wrapping storage.ErrStoreUnavailable.
func (o *Orchestrator) RunPass(ctx context.Context, source scraper.Source, job models.Job) (*models.RunReport, error) {
	report := models.NewRunReport(uuid.NewString(), job, o.now())

	first := job.FirstPage
	if first < 1 {
		first = 1
	}
	last := job.LastPage
	if last == 0 {
		last = first + o.cfg.MaxPages - 1
	}
	o.logger.Info("[orchestrator] Run %s — pages %d..%d, concurrency %d", report.RunID, first, last, o.cfg.Concurrency)

	passCtx, cancelPass := context.WithCancel(ctx)
	defer cancelPass()

	events := make(chan unitEvent, o.cfg.Concurrency*4)
	agg := newAggregator(o, report, cancelPass)
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.run(passCtx, events)
	}()

	pool := utils.NewWorkerPool(o.cfg.Concurrency, o.cfg.RateLimit)
	var exhausted atomic.Bool
	for page := first; page <= last; page++ {
		if exhausted.Load() || passCtx.Err() != nil {
			break
		}
		p := page
		if err := pool.Submit(passCtx, func() {
			if exhausted.Load() {
				return
			}
			o.processPage(passCtx, source, job, p, events, &exhausted)
		}); err != nil {
			break
		}
	}
	pool.Wait()
	close(events)
	<-aggDone

	// best-effort flush of whatever is still buffered
	flushCtx := passCtx
	if passCtx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), flushGrace)
		defer cancel()
	}
	agg.flush(flushCtx)

	report.Canceled = ctx.Err() != nil
	report.Aborted = agg.aborted
	report.Persisted = len(agg.persisted)
	report.Finalize(o.now())

	o.logger.Info("[orchestrator] Run %s done — seen %d, extracted %d, dedup %d, persisted %d, failed %d in %v",
		report.RunID, report.Seen, report.Extracted, report.Deduplicated, report.Persisted, report.Failed,
		report.Elapsed.Round(time.Millisecond))

	switch {
	case agg.aborted:
		return report, fmt.Errorf("orchestrator: pass aborted: %w", agg.abortErr)
	case report.Canceled:
		return report, ctx.Err()
	}
	return report, nil
}

func (o *Orchestrator) processPage(ctx context.Context, source scraper.Source, job models.Job, page int,
	events chan<- unitEvent, exhausted *atomic.Bool) {
	var units []*models.RawContentUnit
	out := o.healer.Run(ctx, fmt.Sprintf("page %d", page), func(ctx context.Context, _ Attempt) error {
		fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
		us, err := source.Fetch(fctx, job, page)
		if err != nil {
			return err
		}
		units = us
		return nil
	})

	if out.State != StateSucceeded {
		switch {
		case errors.Is(out.Err, scraper.ErrExhausted):
			o.logger.Debug("[orchestrator] Source exhausted at page %d", page)
			exhausted.Store(true)
		case ctx.Err() != nil:
		default:
			events <- unitEvent{page: page, pageFail: true, outcome: out}
		}
		return
	}
	if len(units) == 0 {
		o.logger.Info("[orchestrator] Page %d returned 0 units — stopping", page)
		exhausted.Store(true)
		return
	}

	for _, u := range units {
		if ctx.Err() != nil {
			return
		}
		if u.Page == 0 {
			u.Page = page
		}
		events <- o.processUnit(ctx, u)
	}
}

// processUnit runs Extract → Normalize → Score → Observe under the healer.
func (o *Orchestrator) processUnit(ctx context.Context, u *models.RawContentUnit) unitEvent {
	ev := unitEvent{unit: u, page: u.Page}
	var listing *models.Listing

	ev.outcome = o.healer.Run(ctx, u.Label(), func(_ context.Context, a Attempt) error {
		ev.results = o.extractor.Extract(u, a.Mode)
		if contentHits(ev.results) == 0 {
			return ErrZeroFields
		}
		l, err := o.normalizer.Normalize(ev.results, u)
		if err != nil {
			return err
		}
		listing = l
		return nil
	})
	if ev.outcome.State != StateSucceeded {
		return ev
	}

	listing.QualityScore = Score(listing)
	now := o.now()
	ev.sighting = o.dedup.Observe(listing.ExternalID, now)
	listing.FirstSeenAt = ev.sighting.FirstSeenAt
	listing.LastSeenAt = ev.sighting.LastSeenAt
	ev.listing = listing
	return ev
}

// contentHits counts found fields other than identity fields.
func contentHits(results []models.FieldExtractionResult) int {
	n := 0
	for _, r := range results {
		if r.Found() && !idAttribute(lookupAttribute(r.Field)) {
			n++
		}
	}
	return n
}
