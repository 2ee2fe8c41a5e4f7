package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listing-harvester/models"
	"listing-harvester/utils"
)

var (
	// ErrExhausted means the source has no more pages for the job.
	ErrExhausted = errors.New("source exhausted")
	// ErrSelectorMiss means the page loaded but the element we wait for never
	// appeared.
	ErrSelectorMiss = errors.New("selector did not match")
	// ErrBlocked means the response was a captcha or bot-check page.
	ErrBlocked = errors.New("blocked by bot protection")
	// ErrDisallowed means robots.txt forbids the URL for our user agent.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// Source produces raw content units for one page of a job.
type Source interface {
	Fetch(ctx context.Context, job models.Job, page int) ([]*models.RawContentUnit, error)
}

// FetchError carries the HTTP status of a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	if e.StatusCode > 0 {
		msg += " " + http.StatusText(e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// PageURL expands a listing index URL template for one page of job.
// "{page}" and "{category}" are substituted; a template without "{page}"
// gets a page query parameter instead.
func PageURL(template string, job models.Job, page int) string {
	out := strings.ReplaceAll(template, "{category}", url.PathEscape(job.Category))
	if strings.Contains(out, "{page}") {
		return strings.ReplaceAll(out, "{page}", strconv.Itoa(page))
	}
	u, err := url.Parse(out)
	if err != nil {
		return out
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// blockMarkers are phrases bot-check interstitials show the visitor.
var blockMarkers = []string{
	"captcha",
	"are you a robot",
	"unusual traffic",
	"verify you are human",
	"checking your browser",
	"access denied",
}

// challengeSelector matches the challenge forms of common bot-check vendors.
const challengeSelector = "#challenge-form, #cf-challenge-running, .cf-browser-verification, #px-captcha"

// maxInterstitialText caps the visible text of a bot-check page. Longer pages
// that mention a marker are content with an embedded captcha widget.
const maxInterstitialText = 1500

// DetectBlock reports whether body looks like a bot-check page rather than
// content. Only what a visitor sees counts: scripts, styles and attributes
// such as a reCAPTCHA widget's class are ignored.
func DetectBlock(body string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return hasBlockMarker(body)
	}
	if doc.Find(challengeSelector).Length() > 0 {
		return true
	}
	if hasBlockMarker(doc.Find("title").First().Text()) {
		return true
	}
	doc.Find("script, style, noscript, template").Remove()
	text := utils.NormaliseText(doc.Find("body").Text())
	return len(text) <= maxInterstitialText && hasBlockMarker(text)
}

func hasBlockMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// StaticSource serves pre-fetched units, one slice per page.
type StaticSource struct {
	Pages [][]*models.RawContentUnit
}

// NewStaticSource splits units into pages of size perPage (all on one page
// when perPage <= 0).
func NewStaticSource(units []*models.RawContentUnit, perPage int) *StaticSource {
	if perPage <= 0 {
		perPage = len(units)
	}
	s := &StaticSource{}
	for start := 0; start < len(units); start += perPage {
		end := start + perPage
		if end > len(units) {
			end = len(units)
		}
		s.Pages = append(s.Pages, units[start:end])
	}
	return s
}

// Fetch returns page (1-based) or ErrExhausted past the last one.
func (s *StaticSource) Fetch(ctx context.Context, _ models.Job, page int) ([]*models.RawContentUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 || page > len(s.Pages) {
		return nil, ErrExhausted
	}
	units := s.Pages[page-1]
	for i, u := range units {
		if u.Page == 0 {
			u.Page = page
		}
		if u.Sequence == 0 {
			u.Sequence = i + 1
		}
	}
	return units, nil
}
