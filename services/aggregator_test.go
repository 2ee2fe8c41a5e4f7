package services

import (
	"context"
	"testing"
	"time"

	"listing-harvester/models"
	"listing-harvester/storage"
)

func newTestAggregator(t *testing.T, store storage.Store) *aggregator {
	t.Helper()
	o := newTestOrchestrator(t, store, 10, 1)
	report := models.NewRunReport("run", models.Job{}, o.now())
	return newAggregator(o, report, func() {})
}

func bufferedSighting(page int, price float64, first, last time.Time) bufferedListing {
	return bufferedListing{
		listing: &models.Listing{ExternalID: "777", Title: "Store", AskingPrice: &price, FirstSeenAt: first, LastSeenAt: last},
		pos:     sourcePosition(&models.RawContentUnit{Page: page, Sequence: 1}),
	}
}

func TestAggregatorMergeKeepsLatestSighting(t *testing.T) {
	a := newTestAggregator(t, storage.NewMemoryStore())
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	// page 2 is newer by position but was observed before page 1
	a.add(bufferedSighting(2, 150, t0, t0.Add(time.Second)))
	a.add(bufferedSighting(1, 100, t0.Add(2*time.Second), t0.Add(5*time.Second)))

	got := a.buffer["777"].listing
	if *got.AskingPrice != 150 {
		t.Errorf("AskingPrice = %v, want the page 2 value", *got.AskingPrice)
	}
	if !got.LastSeenAt.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("LastSeenAt = %v, want the latest sighting", got.LastSeenAt)
	}
	if !got.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt = %v, want the earliest sighting", got.FirstSeenAt)
	}
}

func TestAggregatorStaleSightingRefreshesWrittenRow(t *testing.T) {
	store := storage.NewMemoryStore()
	a := newTestAggregator(t, store)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	a.add(bufferedSighting(2, 150, t0, t0.Add(time.Second)))
	a.flush(ctx)

	a.add(bufferedSighting(1, 100, t0, t0.Add(5*time.Second)))
	if len(a.buffer) != 1 {
		t.Fatalf("buffered %d rows, want the refreshed row", len(a.buffer))
	}
	a.flush(ctx)

	l, ok := store.Get("777")
	if !ok {
		t.Fatal("listing not stored")
	}
	if *l.AskingPrice != 150 {
		t.Errorf("AskingPrice = %v, the stale sighting must not overwrite fields", *l.AskingPrice)
	}
	if !l.LastSeenAt.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("LastSeenAt = %v, want %v", l.LastSeenAt, t0.Add(5*time.Second))
	}

	// nothing newer to record: dropped
	a.add(bufferedSighting(1, 100, t0, t0.Add(3*time.Second)))
	if len(a.buffer) != 0 {
		t.Errorf("buffered %d rows for a sighting with nothing new", len(a.buffer))
	}
}
