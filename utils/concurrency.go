package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool manages a bounded pool of goroutines with rate limiting.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	limiter    *rate.Limiter
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency and minimum
// interval between job starts. A zero interval disables pacing.
func NewWorkerPool(maxWorkers int, interval time.Duration) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Size returns the configured concurrency.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// Submit blocks until a worker slot is free, then runs job in its own
// goroutine once the rate limiter allows it. It returns ctx.Err() without
// running job if ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if err := wp.limiter.Wait(ctx); err != nil {
			return
		}
		job()
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// IDSet is a thread-safe set of string keys (URLs, listing ids).
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *IDSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the key is present.
func (s *IDSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
