package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-harvester/models"
	"listing-harvester/storage"
)

// bufferedListing is a listing waiting to be written plus what decides which
// of two sightings of the same id is newer.
type bufferedListing struct {
	listing *models.Listing
	pos     int64 // source position: page, then sequence
	seq     uint64
}

func (b bufferedListing) newerThan(o bufferedListing) bool {
	if b.pos != o.pos {
		return b.pos > o.pos
	}
	return b.seq > o.seq
}

func sourcePosition(u *models.RawContentUnit) int64 {
	return int64(u.Page)<<32 | int64(uint32(u.Sequence))
}

// aggregator folds unit events into the report and owns the write buffer.
// Only the goroutine running run touches it until run returns.
type aggregator struct {
	o          *Orchestrator
	report     *models.RunReport
	cancelPass context.CancelFunc

	buffer    map[string]*bufferedListing
	order     []string
	flushed   map[string]bufferedListing
	persisted map[string]struct{}

	aborted  bool
	abortErr error
}

func newAggregator(o *Orchestrator, report *models.RunReport, cancelPass context.CancelFunc) *aggregator {
	return &aggregator{
		o:          o,
		report:     report,
		cancelPass: cancelPass,
		buffer:     make(map[string]*bufferedListing),
		flushed:    make(map[string]bufferedListing),
		persisted:  make(map[string]struct{}),
	}
}

func (a *aggregator) run(ctx context.Context, events <-chan unitEvent) {
	for ev := range events {
		a.fold(ev)
		if len(a.buffer) >= a.o.gateway.BatchSize() {
			a.flush(ctx)
		}
	}
}

func (a *aggregator) fold(ev unitEvent) {
	if ev.pageFail {
		a.fail(fmt.Sprintf("page %d", ev.page), ev.outcome)
		return
	}

	a.report.Seen++
	for _, r := range ev.results {
		if r.Found() {
			a.report.FieldHits[r.Field]++
		}
	}
	if ev.listing == nil {
		a.fail(ev.unit.Label(), ev.outcome)
		return
	}

	a.report.Extracted++
	if !ev.sighting.First {
		a.report.Deduplicated++
	}
	a.report.ConsistencyWarnings += len(ev.listing.Warnings)

	if a.aborted {
		a.report.AddFailure(models.Failure{
			Unit:   "listing " + ev.listing.ExternalID,
			Class:  models.FailurePersistence,
			Reason: "not written: " + a.abortErr.Error(),
			At:     a.o.now(),
		})
		return
	}
	a.add(bufferedListing{listing: ev.listing, pos: sourcePosition(ev.unit), seq: ev.sighting.Seq})
}

func (a *aggregator) fail(label string, out Outcome) {
	reason := "unknown error"
	if out.Err != nil {
		reason = out.Err.Error()
	}
	a.report.AddFailure(models.Failure{
		Unit:     label,
		Class:    out.Class,
		Reason:   reason,
		Attempts: out.Attempts,
		At:       a.o.now(),
	})
}

// add buffers b, merging with an earlier sighting of the same id. The newer
// sighting wins, keeping the earliest first-seen and the latest last-seen
// time of both. A sighting older than what was already written only moves
// the written row's last-seen time forward.
func (a *aggregator) add(b bufferedListing) {
	id := b.listing.ExternalID
	cur, buffered := a.buffer[id]
	if f, ok := a.flushed[id]; ok && !b.newerThan(f) {
		switch {
		case buffered:
			cur.listing.LastSeenAt = latest(cur.listing.LastSeenAt, b.listing.LastSeenAt)
		case b.listing.LastSeenAt.After(f.listing.LastSeenAt):
			refreshed := *f.listing
			refreshed.LastSeenAt = b.listing.LastSeenAt
			f.listing = &refreshed
			a.buffer[id] = &f
			a.order = append(a.order, id)
		default:
			a.o.logger.Debug("[aggregator] Dropping stale sighting of %s", id)
		}
		return
	}
	if !buffered {
		a.buffer[id] = &b
		a.order = append(a.order, id)
		return
	}
	first := cur.listing.FirstSeenAt
	last := latest(cur.listing.LastSeenAt, b.listing.LastSeenAt)
	if !b.newerThan(*cur) {
		b = *cur
	}
	if !first.IsZero() && (b.listing.FirstSeenAt.IsZero() || first.Before(b.listing.FirstSeenAt)) {
		b.listing.FirstSeenAt = first
	}
	b.listing.LastSeenAt = last
	*cur = b
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// flush writes the buffer through the gateway. With ctx already done the
// buffer is kept for the final flush.
func (a *aggregator) flush(ctx context.Context) {
	if len(a.order) == 0 {
		return
	}
	pending := make([]bufferedListing, 0, len(a.order))
	for _, id := range a.order {
		pending = append(pending, *a.buffer[id])
	}

	if a.aborted {
		for _, b := range pending {
			a.report.AddFailure(models.Failure{
				Unit:   "listing " + b.listing.ExternalID,
				Class:  models.FailurePersistence,
				Reason: "not written: " + a.abortErr.Error(),
				At:     a.o.now(),
			})
		}
		a.reset()
		return
	}
	if ctx.Err() != nil {
		return
	}

	batch := make([]*models.Listing, len(pending))
	for i, b := range pending {
		batch[i] = b.listing
	}
	res, err := a.o.gateway.Persist(ctx, batch)
	a.reset()

	for _, l := range res.Succeeded {
		a.persisted[l.ExternalID] = struct{}{}
	}
	for _, b := range pending {
		if _, ok := a.persisted[b.listing.ExternalID]; ok {
			a.flushed[b.listing.ExternalID] = b
		}
	}
	for _, f := range res.Failed {
		if ctx.Err() != nil && f.Err != nil && errors.Is(f.Err, ctx.Err()) {
			// interrupted, not rejected: keep it for the final flush
			a.add(pending[f.Index])
			continue
		}
		a.report.AddFailure(models.Failure{
			Unit:     "listing " + batch[f.Index].ExternalID,
			Class:    models.FailurePersistence,
			Reason:   f.Reason,
			Attempts: 1,
			At:       a.o.now(),
		})
	}

	if err != nil && errors.Is(err, storage.ErrStoreUnavailable) {
		a.o.logger.Error("[aggregator] Store unavailable, aborting pass: %v", err)
		a.aborted = true
		a.abortErr = err
		a.cancelPass()
		a.flush(ctx)
		return
	}
	if err != nil {
		a.o.logger.Warn("[aggregator] Flush interrupted: %v", err)
	}
}

func (a *aggregator) reset() {
	a.buffer = make(map[string]*bufferedListing)
	a.order = a.order[:0]
}
