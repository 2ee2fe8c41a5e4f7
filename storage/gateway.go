package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-harvester/models"
	"listing-harvester/utils"
)

const (
	DefaultBatchSize    = 200
	DefaultBatchTimeout = 30 * time.Second
	// unavailableAfter consecutive non-rejection singleton failures mean the
	// store itself is down.
	unavailableAfter = 3
)

// FailedListing is a record the gateway could not write.
type FailedListing struct {
	Listing *models.Listing
	Index   int // position in the slice passed to Persist
	Reason  string
	Err     error
}

// PersistResult partitions the input of one Persist call.
type PersistResult struct {
	Succeeded []*models.Listing
	Failed    []FailedListing
}

// Gateway writes listings to a Store in batches and degrades to smaller
// writes when a batch fails.
type Gateway struct {
	store        Store
	batchSize    int
	batchTimeout time.Duration
	logger       *utils.Logger
}

// NewGateway wraps store. Zero batchSize or batchTimeout select the defaults.
func NewGateway(store Store, batchSize int, batchTimeout time.Duration, logger *utils.Logger) *Gateway {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Gateway{store: store, batchSize: batchSize, batchTimeout: batchTimeout, logger: logger}
}

// BatchSize returns the configured batch size.
func (g *Gateway) BatchSize() int { return g.batchSize }

type indexed struct {
	idx int
	l   *models.Listing
}

// Persist writes listings and reports, for every input, whether it was
// written. Invalid records are rejected up front with a reason naming their
// position (counting from 1) and external id. A batch that fails is retried
// without the record the store blamed, then record by record. If singleton writes keep failing for
// non-record reasons the call stops with ErrStoreUnavailable; the records not
// written are still listed in Failed.
func (g *Gateway) Persist(ctx context.Context, listings []*models.Listing) (PersistResult, error) {
	var res PersistResult
	valid := make([]indexed, 0, len(listings))

	for i, l := range listings {
		if l == nil {
			res.Failed = append(res.Failed, FailedListing{Index: i, Reason: fmt.Sprintf("record %d: nil listing", i+1)})
			continue
		}
		if err := l.Validate(); err != nil {
			res.Failed = append(res.Failed, FailedListing{
				Listing: l,
				Index:   i,
				Reason:  fmt.Sprintf("record %d (external_id %q): %v", i+1, l.ExternalID, err),
				Err:     err,
			})
			continue
		}
		valid = append(valid, indexed{idx: i, l: l})
	}

	w := &batchWriter{g: g, res: &res}
	for start := 0; start < len(valid); start += g.batchSize {
		end := start + g.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := w.writeBatch(ctx, valid[start:end], true); err != nil {
			w.failRest(valid[end:], err)
			return res, err
		}
	}

	g.logger.Debug("[gateway] Persisted %d, failed %d of %d", len(res.Succeeded), len(res.Failed), len(listings))
	return res, nil
}

type batchWriter struct {
	g           *Gateway
	res         *PersistResult
	consecutive int
}

func (w *batchWriter) upsert(ctx context.Context, batch []indexed) error {
	ctx, cancel := context.WithTimeout(ctx, w.g.batchTimeout)
	defer cancel()
	ls := make([]*models.Listing, len(batch))
	for i, b := range batch {
		ls[i] = b.l
	}
	return w.g.store.UpsertBatch(ctx, ls)
}

func (w *batchWriter) succeed(batch []indexed) {
	for _, b := range batch {
		w.res.Succeeded = append(w.res.Succeeded, b.l)
	}
}

func (w *batchWriter) fail(b indexed, err error) {
	w.res.Failed = append(w.res.Failed, FailedListing{
		Listing: b.l,
		Index:   b.idx,
		Reason:  fmt.Sprintf("record %d (external_id %q): %v", b.idx+1, b.l.ExternalID, err),
		Err:     err,
	})
}

func (w *batchWriter) failRest(rest []indexed, err error) {
	for _, b := range rest {
		w.fail(b, err)
	}
}

// writeBatch writes batch, degrading on failure. retry allows one more
// batch-level attempt after a RecordError; after that it goes to singletons.
func (w *batchWriter) writeBatch(ctx context.Context, batch []indexed, retry bool) error {
	if len(batch) == 0 {
		return nil
	}
	err := w.upsert(ctx, batch)
	if err == nil {
		w.consecutive = 0
		w.succeed(batch)
		return nil
	}

	var recErr *RecordError
	var partErr *PartialError
	switch {
	case errors.As(err, &partErr):
		w.consecutive = 0
		for i, b := range batch {
			if ferr, bad := partErr.Failed[i]; bad {
				w.fail(b, ferr)
			} else {
				w.res.Succeeded = append(w.res.Succeeded, b.l)
			}
		}
		return nil

	case errors.As(err, &recErr) && recErr.Index >= 0 && recErr.Index < len(batch) && retry:
		w.consecutive = 0
		w.g.logger.Warn("[gateway] Batch of %d rejected at record %d (%s), retrying without it",
			len(batch), batch[recErr.Index].idx+1, batch[recErr.Index].l.ExternalID)
		w.fail(batch[recErr.Index], recErr.Err)
		rest := make([]indexed, 0, len(batch)-1)
		rest = append(rest, batch[:recErr.Index]...)
		rest = append(rest, batch[recErr.Index+1:]...)
		return w.writeBatch(ctx, rest, false)
	}

	w.g.logger.Warn("[gateway] Batch of %d failed: %v, degrading to single writes", len(batch), err)
	return w.writeSingles(ctx, batch)
}

func (w *batchWriter) writeSingles(ctx context.Context, batch []indexed) error {
	for i, b := range batch {
		if ctx.Err() != nil {
			w.failRest(batch[i:], ctx.Err())
			return ctx.Err()
		}
		err := w.upsert(ctx, []indexed{b})
		if err == nil {
			w.consecutive = 0
			w.res.Succeeded = append(w.res.Succeeded, b.l)
			continue
		}

		var recErr *RecordError
		if errors.As(err, &recErr) {
			err = recErr.Err
		}
		w.fail(b, err)

		if IsRejection(err) || recErr != nil {
			w.consecutive = 0
			continue
		}
		w.consecutive++
		if w.consecutive >= unavailableAfter {
			w.failRest(batch[i+1:], ErrStoreUnavailable)
			return fmt.Errorf("gateway: %d consecutive write failures, last: %v: %w", w.consecutive, err, ErrStoreUnavailable)
		}
	}
	return nil
}
