package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 16 << 20

// payloadKeys are the wrapper keys under which listing APIs return their
// array of objects.
var payloadKeys = []string{"listings", "results", "data", "items"}

// APISource fetches listing objects from a paginated JSON endpoint.
type APISource struct {
	urlTemplate string
	userAgent   string
	client      *http.Client
	robots      *robotsGate
	logger      *utils.Logger
	now         func() time.Time
}

// NewAPISource creates a source for urlTemplate (see PageURL).
func NewAPISource(urlTemplate, userAgent string, timeout time.Duration, logger *utils.Logger) *APISource {
	client := &http.Client{Timeout: timeout}
	return &APISource{
		urlTemplate: urlTemplate,
		userAgent:   userAgent,
		client:      client,
		robots:      newRobotsGate(client, userAgent, logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Fetch requests one page and turns every JSON object in it into a unit.
// An empty array means the source is exhausted and yields no units.
func (s *APISource) Fetch(ctx context.Context, job models.Job, page int) ([]*models.RawContentUnit, error) {
	pageURL := PageURL(s.urlTemplate, job, page)
	if !s.robots.Allowed(ctx, pageURL) {
		return nil, &FetchError{URL: pageURL, StatusCode: http.StatusForbidden, Err: ErrDisallowed}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	objects, err := decodeListings(body)
	if err != nil {
		if DetectBlock(string(body)) {
			return nil, ErrBlocked
		}
		return nil, fmt.Errorf("decode %s: %w", pageURL, err)
	}

	fetchedAt := s.now()
	units := make([]*models.RawContentUnit, 0, len(objects))
	for i, obj := range objects {
		units = append(units, &models.RawContentUnit{
			Kind:      models.SourceAPI,
			JSON:      obj,
			Sequence:  i + 1,
			Page:      page,
			URL:       pageURL,
			FetchedAt: fetchedAt,
		})
	}
	s.logger.Debug("[api] Page %d: %d objects from %s", page, len(units), pageURL)
	return units, nil
}

// readBody reads a response body, converting it to UTF-8 when the
// Content-Type names another charset.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if utf8Reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type")); err == nil {
		r = utf8Reader
	}
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}

// decodeListings accepts a bare array of objects or an object wrapping one
// under a known key. Array elements that are not objects are skipped.
func decodeListings(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var items []any
	switch v := payload.(type) {
	case []any:
		items = v
	case map[string]any:
		found := false
		for _, key := range payloadKeys {
			if arr, ok := v[key].([]any); ok {
				items, found = arr, true
				break
			}
		}
		if !found {
			// a single listing object
			return []map[string]any{v}, nil
		}
	default:
		return nil, fmt.Errorf("unexpected payload type %T", payload)
	}

	objects := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}
