package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"listing-harvester/models"
)

// ErrStoreUnavailable means the store kept failing for reasons unrelated to
// the records themselves. The pass that hits it should stop.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the upsert-by-key backend behind the persistence gateway.
//
// UpsertBatch writes listings keyed by ExternalID. An existing row keeps its
// first_seen_at and gets every other column replaced. Implementations report
// record-level problems with *RecordError (batch rolled back) or
// *PartialError (the rest committed); any other error is treated as
// transient.
type Store interface {
	UpsertBatch(ctx context.Context, listings []*models.Listing) error
	ListKnownIDs(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

// ListingReader is implemented by stores that can return what they hold.
type ListingReader interface {
	FetchAll(ctx context.Context) ([]*models.Listing, error)
}

// RecordError identifies the one record that made a batch fail. Nothing in
// the batch was written.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d rejected: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// PartialError lists the records that failed while the rest of the batch was
// committed. Keys are indices into the batch.
type PartialError struct {
	Failed map[int]error
}

func (e *PartialError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("%d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("%d record(s) failed: %s", len(idx), strings.Join(parts, "; "))
}

// IsRejection reports whether err blames specific records rather than the
// store itself.
func IsRejection(err error) bool {
	var re *RecordError
	var pe *PartialError
	return errors.As(err, &re) || errors.As(err, &pe)
}
