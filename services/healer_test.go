package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"syscall"
	"testing"
	"time"

	"listing-harvester/models"
	"listing-harvester/scraper"
	"listing-harvester/storage"
	"listing-harvester/utils"
)

// newTestHealer returns a healer whose sleeps are recorded instead of waited.
func newTestHealer(budget int, base time.Duration) (*Healer, *[]time.Duration) {
	h := NewHealer(budget, base, utils.NewDiscardLogger())
	var delays []time.Duration
	h.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return h, &delays
}

func TestHealerSucceedsFirstTry(t *testing.T) {
	h, delays := newTestHealer(3, time.Second)
	out := h.Run(context.Background(), "unit", func(context.Context, Attempt) error { return nil })

	if out.State != StateSucceeded || out.Attempts != 1 || out.Err != nil {
		t.Errorf("outcome = %+v", out)
	}
	want := []HealState{StatePending, StateAttempting, StateSucceeded}
	if !reflect.DeepEqual(out.Trace, want) {
		t.Errorf("trace = %v, want %v", out.Trace, want)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %v", *delays)
	}
}

func TestHealerRetriesTransient(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		name       string
		err        error
		class      models.FailureClass
		wantDelays []time.Duration
	}{
		{"network", &scraper.FetchError{URL: "u", StatusCode: 502}, models.FailureNetwork,
			[]time.Duration{base, 2 * base}},
		{"rate limit doubles", &scraper.FetchError{URL: "u", StatusCode: 429}, models.FailureRateLimit,
			[]time.Duration{2 * base, 4 * base}},
		{"selector miss", fmt.Errorf("render: %w", scraper.ErrSelectorMiss), models.FailureSelectorMiss,
			[]time.Duration{base, 2 * base}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, delays := newTestHealer(3, base)
			calls := 0
			out := h.Run(context.Background(), "page 1", func(context.Context, Attempt) error {
				calls++
				return tt.err
			})
			if out.State != StateAbandoned || out.Class != tt.class {
				t.Errorf("outcome = %s/%s", out.State, out.Class)
			}
			if calls != 3 || out.Attempts != 3 {
				t.Errorf("calls = %d, attempts = %d, want 3", calls, out.Attempts)
			}
			if !reflect.DeepEqual(*delays, tt.wantDelays) {
				t.Errorf("delays = %v, want %v", *delays, tt.wantDelays)
			}
			want := []HealState{
				StatePending, StateAttempting, StateFailed,
				StatePending, StateAttempting, StateFailed,
				StatePending, StateAttempting, StateFailed, StateAbandoned,
			}
			if !reflect.DeepEqual(out.Trace, want) {
				t.Errorf("trace = %v", out.Trace)
			}
		})
	}
}

func TestHealerRecoversAfterTransient(t *testing.T) {
	h, delays := newTestHealer(3, time.Second)
	calls := 0
	out := h.Run(context.Background(), "page 2", func(context.Context, Attempt) error {
		calls++
		if calls == 1 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if out.State != StateSucceeded || out.Attempts != 2 || out.Class != "" {
		t.Errorf("outcome = %+v", out)
	}
	if len(*delays) != 1 || (*delays)[0] != time.Second {
		t.Errorf("delays = %v", *delays)
	}
}

func TestHealerStructuralFallsBack(t *testing.T) {
	t.Run("fallback succeeds", func(t *testing.T) {
		h, delays := newTestHealer(3, time.Second)
		var modes []ExtractMode
		out := h.Run(context.Background(), "unit", func(_ context.Context, a Attempt) error {
			modes = append(modes, a.Mode)
			if a.Mode == ModePrimary {
				return ErrZeroFields
			}
			return nil
		})
		if out.State != StateSucceeded || out.Attempts != 2 {
			t.Errorf("outcome = %+v", out)
		}
		if !reflect.DeepEqual(modes, []ExtractMode{ModePrimary, ModeFallback}) {
			t.Errorf("modes = %v", modes)
		}
		if len(*delays) != 0 {
			t.Errorf("fallback retry should be immediate, slept %v", *delays)
		}
	})

	t.Run("fallback also misses", func(t *testing.T) {
		h, _ := newTestHealer(5, time.Second)
		calls := 0
		out := h.Run(context.Background(), "unit", func(context.Context, Attempt) error {
			calls++
			return ErrZeroFields
		})
		if out.State != StateAbandoned || out.Class != models.FailureStructural || calls != 2 {
			t.Errorf("outcome = %s/%s after %d calls", out.State, out.Class, calls)
		}
	})
}

func TestHealerAbandonsNonTransient(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class models.FailureClass
	}{
		{"not found", &scraper.FetchError{URL: "u", StatusCode: 404}, models.FailureHTTPClient},
		{"robots", &scraper.FetchError{URL: "u", StatusCode: 403, Err: scraper.ErrDisallowed}, models.FailureHTTPClient},
		{"normalization", &NormalizationError{Field: FieldExternalID, Reason: "none"}, models.FailureNormalization},
		{"unknown", errors.New("boom"), models.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, delays := newTestHealer(5, time.Second)
			calls := 0
			out := h.Run(context.Background(), "unit", func(context.Context, Attempt) error {
				calls++
				return tt.err
			})
			if calls != 1 || out.State != StateAbandoned || out.Class != tt.class {
				t.Errorf("calls = %d, outcome = %s/%s", calls, out.State, out.Class)
			}
			if !errors.Is(out.Err, tt.err) {
				t.Errorf("Err = %v", out.Err)
			}
			if len(*delays) != 0 {
				t.Errorf("slept %v", *delays)
			}
		})
	}
}

func TestHealerStopsOnCancel(t *testing.T) {
	h, _ := newTestHealer(5, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	out := h.Run(ctx, "unit", func(context.Context, Attempt) error {
		calls++
		cancel()
		return io.EOF
	})
	if calls != 1 || out.State != StateAbandoned {
		t.Errorf("calls = %d, state = %s", calls, out.State)
	}
}

func TestHealerDelayIsCapped(t *testing.T) {
	h := NewHealer(10, 10*time.Second, utils.NewDiscardLogger())
	if d := h.Delay(models.FailureNetwork, 6); d != defaultMaxBackoff {
		t.Errorf("Delay = %v, want cap %v", d, defaultMaxBackoff)
	}
	if d := h.Delay(models.FailureRateLimit, 2); d != defaultMaxBackoff {
		t.Errorf("rate-limit Delay = %v, want cap %v", d, defaultMaxBackoff)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.FailureClass
	}{
		{"nil", nil, ""},
		{"zero fields", fmt.Errorf("unit 3: %w", ErrZeroFields), models.FailureStructural},
		{"selector miss", scraper.ErrSelectorMiss, models.FailureSelectorMiss},
		{"blocked", scraper.ErrBlocked, models.FailureRateLimit},
		{"normalization", fmt.Errorf("x: %w", &NormalizationError{Field: "external_id"}), models.FailureNormalization},
		{"store down", fmt.Errorf("flush: %w", storage.ErrStoreUnavailable), models.FailurePersistence},
		{"429", &scraper.FetchError{StatusCode: 429}, models.FailureRateLimit},
		{"503", &scraper.FetchError{StatusCode: 503}, models.FailureRateLimit},
		{"500", &scraper.FetchError{StatusCode: 500}, models.FailureNetwork},
		{"408", &scraper.FetchError{StatusCode: 408}, models.FailureTimeout},
		{"404", &scraper.FetchError{StatusCode: 404}, models.FailureHTTPClient},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), models.FailureTimeout},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, models.FailureNetwork},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), models.FailureNetwork},
		{"eof", io.EOF, models.FailureNetwork},
		{"rate limit text", errors.New("upstream said: Too Many Requests"), models.FailureRateLimit},
		{"dns text", errors.New("lookup x.test: no such host"), models.FailureNetwork},
		{"other", errors.New("something odd"), models.FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
