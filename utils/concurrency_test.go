package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestIDSetNoDuplicates(t *testing.T) {
	s := NewIDSet()

	added := s.Add("listing-1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("listing-1")
	if added {
		t.Error("second Add of same key should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
	if !s.Contains("listing-1") {
		t.Error("Contains should report an added key")
	}
}

func TestIDSetConcurrency(t *testing.T) {
	s := NewIDSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		if err := pool.Submit(context.Background(), func() {
			if s.Add("same") {
				atomic.AddInt64(&added, 1)
			}
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	interval := 100 * time.Millisecond
	pool := NewWorkerPool(1, interval)

	var (
		mu         sync.Mutex
		timestamps []time.Time
	)
	for i := 0; i < 3; i++ {
		_ = pool.Submit(context.Background(), func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	if len(timestamps) != 3 {
		t.Fatalf("ran %d jobs, want 3", len(timestamps))
	}
	slack := 15 * time.Millisecond
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < interval-slack {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, interval)
		}
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(3, 0)
	var inflight, peak int64

	for i := 0; i < 20; i++ {
		_ = pool.Submit(context.Background(), func() {
			n := atomic.AddInt64(&inflight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
		})
	}
	pool.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds pool size 3", peak)
	}
}

func TestWorkerPoolSubmitAfterCancel(t *testing.T) {
	pool := NewWorkerPool(1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	_ = pool.Submit(ctx, func() { <-block })
	cancel()

	ran := false
	err := pool.Submit(ctx, func() { ran = true })
	close(block)
	pool.Wait()

	if err == nil {
		t.Error("Submit on a full pool with a canceled context should fail")
	}
	if ran {
		t.Error("job submitted after cancel should not run")
	}
}
