package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"listing-harvester/models"
)

func TestMemoryStoreUpsertKeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := listing("x", 100)
	if err := s.UpsertBatch(ctx, []*models.Listing{first}); err != nil {
		t.Fatal(err)
	}
	again := listing("x", 150)
	again.FirstSeenAt = first.FirstSeenAt.Add(48 * time.Hour)
	again.LastSeenAt = again.FirstSeenAt
	if err := s.UpsertBatch(ctx, []*models.Listing{again}); err != nil {
		t.Fatal(err)
	}

	got, ok := s.Get("x")
	if !ok {
		t.Fatal("listing missing")
	}
	if *got.AskingPrice != 150 {
		t.Errorf("AskingPrice = %v", *got.AskingPrice)
	}
	if !got.FirstSeenAt.Equal(first.FirstSeenAt) {
		t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, first.FirstSeenAt)
	}
	if !got.LastSeenAt.Equal(again.LastSeenAt) {
		t.Errorf("LastSeenAt = %v", got.LastSeenAt)
	}
}

func TestMemoryStoreRejectsWholeBatch(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpsertBatch(context.Background(), []*models.Listing{listing("ok", 1), listing("neg", -1)})
	var re *RecordError
	if !errors.As(err, &re) || re.Index != 1 {
		t.Fatalf("err = %v, want RecordError at 1", err)
	}
	if s.Len() != 0 {
		t.Errorf("stored %d listings from a rejected batch", s.Len())
	}
}

func TestMemoryStoreReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.UpsertBatch(ctx, []*models.Listing{listing("b", 1), listing("a", 2)}); err != nil {
		t.Fatal(err)
	}
	all, err := s.FetchAll(ctx)
	if err != nil || ids(all) != "a,b" {
		t.Errorf("FetchAll = %s, %v", ids(all), err)
	}
	known, err := s.ListKnownIDs(ctx)
	if err != nil || len(known) != 2 {
		t.Errorf("ListKnownIDs = %v, %v", known, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.UpsertBatch(ctx, []*models.Listing{listing("c", 1)}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
