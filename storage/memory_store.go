package storage

import (
	"context"
	"sort"
	"sync"

	"listing-harvester/models"
)

// MemoryStore keeps listings in a map. It enforces the same constraints as
// the SQL schema and rejects a whole batch on the first invalid record, like
// a transaction would. Used for dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*models.Listing

	// FailWith, when set, is consulted before every batch; a non-nil result
	// fails the call without writing anything.
	FailWith func(batch []*models.Listing) error

	Calls int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*models.Listing)}
}

func (m *MemoryStore) UpsertBatch(ctx context.Context, listings []*models.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if m.FailWith != nil {
		if err := m.FailWith(listings); err != nil {
			return err
		}
	}
	for i, l := range listings {
		if err := l.Validate(); err != nil {
			return &RecordError{Index: i, Err: err}
		}
	}
	for _, l := range listings {
		cp := *l
		if prev, ok := m.rows[l.ExternalID]; ok && !prev.FirstSeenAt.IsZero() {
			cp.FirstSeenAt = prev.FirstSeenAt
		}
		m.rows[l.ExternalID] = &cp
	}
	return nil
}

func (m *MemoryStore) ListKnownIDs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]struct{}, len(m.rows))
	for id := range m.rows {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// FetchAll returns copies of every stored listing ordered by external id.
func (m *MemoryStore) FetchAll(ctx context.Context) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Listing, 0, len(m.rows))
	for _, l := range m.rows {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// Get returns a copy of the listing stored under id.
func (m *MemoryStore) Get(id string) (*models.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	cp := *l
	return &cp, true
}

// Len returns the number of stored listings.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemoryStore) Close() error { return nil }
