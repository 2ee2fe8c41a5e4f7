package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"listing-harvester/models"
	"listing-harvester/scraper"
	"listing-harvester/storage"
	"listing-harvester/utils"
)

// ErrZeroFields means a unit yielded no content fields at all, which usually
// means the page layout changed under the field specs.
var ErrZeroFields = errors.New("no fields extracted")

const defaultMaxBackoff = 30 * time.Second

// HealState is a step of the retry state machine.
type HealState int

const (
	StatePending HealState = iota
	StateAttempting
	StateSucceeded
	StateFailed
	StateAbandoned
)

func (s HealState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Attempt is handed to each try. Mode switches to ModeFallback after a
// structural miss.
type Attempt struct {
	Number int
	Mode   ExtractMode
}

// Outcome is the terminal result of a healed operation.
type Outcome struct {
	State    HealState
	Class    models.FailureClass
	Attempts int
	Err      error
	Trace    []HealState
}

// Healer retries failed operations according to their failure class.
type Healer struct {
	budget   int
	base     time.Duration
	maxDelay time.Duration
	logger   *utils.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewHealer creates a Healer allowing budget attempts per operation with
// exponential backoff from base.
func NewHealer(budget int, base time.Duration, logger *utils.Logger) *Healer {
	if budget < 1 {
		budget = 1
	}
	return &Healer{
		budget:   budget,
		base:     base,
		maxDelay: defaultMaxBackoff,
		logger:   logger,
		sleep:    utils.Sleep,
	}
}

// Delay returns the wait before retry n of an operation that failed with class.
func (h *Healer) Delay(class models.FailureClass, n int) time.Duration {
	d := utils.Backoff(h.base, n, h.maxDelay)
	if class == models.FailureRateLimit {
		d *= 2
		if d > h.maxDelay {
			d = h.maxDelay
		}
	}
	return d
}

// Run drives fn through the state machine until it succeeds, is abandoned, or
// ctx ends. Transient classes are retried with backoff while budget remains; a
// structural miss gets one immediate retry in fallback mode; everything else
// is abandoned at once.
func (h *Healer) Run(ctx context.Context, name string, fn func(ctx context.Context, a Attempt) error) Outcome {
	out := Outcome{Trace: []HealState{StatePending}}
	attempt := Attempt{Mode: ModePrimary}
	fellBack := false

	for {
		attempt.Number++
		out.Attempts = attempt.Number
		out.Trace = append(out.Trace, StateAttempting)

		err := fn(ctx, attempt)
		if err == nil {
			out.State = StateSucceeded
			out.Trace = append(out.Trace, StateSucceeded)
			out.Class, out.Err = "", nil
			return out
		}

		out.Trace = append(out.Trace, StateFailed)
		out.Class = Classify(err)
		out.Err = err

		if ctx.Err() != nil {
			return h.abandon(out)
		}

		switch {
		case out.Class == models.FailureStructural && !fellBack:
			fellBack = true
			attempt.Mode = ModeFallback
			h.logger.Warn("[healer] %s: %v, retrying with fallback strategies", name, err)
			out.Trace = append(out.Trace, StatePending)
			continue

		case out.Class.Transient() && attempt.Number < h.budget:
			delay := h.Delay(out.Class, attempt.Number)
			h.logger.Warn("[healer] %s failed (%s, attempt %d/%d): %v, retrying in %v",
				name, out.Class, attempt.Number, h.budget, err, delay)
			out.Trace = append(out.Trace, StatePending)
			if serr := h.sleep(ctx, delay); serr != nil {
				return h.abandon(out)
			}
			continue
		}

		h.logger.Debug("[healer] %s abandoned after %d attempt(s): %s", name, attempt.Number, out.Class)
		return h.abandon(out)
	}
}

func (h *Healer) abandon(out Outcome) Outcome {
	out.State = StateAbandoned
	out.Trace = append(out.Trace, StateAbandoned)
	return out
}

var (
	rateLimitPhrases = []string{"rate limit", "too many requests", "captcha", "throttl"}
	networkPhrases   = []string{"connection refused", "connection reset", "no such host", "broken pipe", "unexpected eof"}
)

// Classify maps an error onto a failure class. Typed errors are checked
// before falling back to message text.
func Classify(err error) models.FailureClass {
	if err == nil {
		return ""
	}

	var normErr *NormalizationError
	var fetchErr *scraper.FetchError
	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.Is(err, ErrZeroFields):
		return models.FailureStructural
	case errors.Is(err, scraper.ErrSelectorMiss):
		return models.FailureSelectorMiss
	case errors.Is(err, scraper.ErrBlocked):
		return models.FailureRateLimit
	case errors.As(err, &normErr):
		return models.FailureNormalization
	case errors.Is(err, storage.ErrStoreUnavailable):
		return models.FailurePersistence
	case errors.As(err, &fetchErr) && fetchErr.StatusCode > 0:
		return classifyStatus(fetchErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return models.FailureTimeout
	case errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return models.FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return models.FailureRateLimit
		}
	}
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return models.FailureNetwork
		}
	}
	return models.FailureUnknown
}

func classifyStatus(code int) models.FailureClass {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		return models.FailureRateLimit
	case code >= 500:
		return models.FailureNetwork
	case code == http.StatusRequestTimeout:
		return models.FailureTimeout
	case code >= 400:
		return models.FailureHTTPClient
	}
	return models.FailureUnknown
}
