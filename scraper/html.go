package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// HTMLConfig controls a static-HTML source.
type HTMLConfig struct {
	IndexURL           string // listing index URL template, see PageURL
	DetailLinkSelector string // empty: the index page itself is the unit
	UserAgent          string
	Timeout            time.Duration
	Parallelism        int
	Delay              time.Duration
}

// HTMLSource crawls server-rendered listing pages without a browser.
type HTMLSource struct {
	cfg     HTMLConfig
	base    *colly.Collector
	visited *utils.IDSet
	logger  *utils.Logger
}

// NewHTMLSource builds the shared collector. Robots rules are honoured.
func NewHTMLSource(cfg HTMLConfig, logger *utils.Logger) *HTMLSource {
	opts := []func(*colly.Collector){colly.AllowURLRevisit()}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = false
	c.DetectCharset = true
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
	}); err != nil {
		logger.Warn("[html] Ignoring limit rule: %v", err)
	}

	return &HTMLSource{
		cfg:     cfg,
		base:    c,
		visited: utils.NewIDSet(),
		logger:  logger,
	}
}

// Fetch visits the index page for page and then every unseen detail link.
// A detail page that fails is logged and skipped.
func (h *HTMLSource) Fetch(ctx context.Context, job models.Job, page int) ([]*models.RawContentUnit, error) {
	indexURL := PageURL(h.cfg.IndexURL, job, page)

	c := h.base.Clone()
	var links []string
	var body string
	status := 0
	if h.cfg.DetailLinkSelector != "" {
		c.OnHTML(h.cfg.DetailLinkSelector, func(e *colly.HTMLElement) {
			if href := e.Request.AbsoluteURL(e.Attr("href")); href != "" {
				links = append(links, href)
			}
		})
	}
	c.OnResponse(func(r *colly.Response) { body = string(r.Body) })
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Visit(indexURL); err != nil {
		return nil, visitError(indexURL, status, err)
	}
	if DetectBlock(body) {
		return nil, ErrBlocked
	}

	if h.cfg.DetailLinkSelector == "" {
		return []*models.RawContentUnit{domUnit(indexURL, body, page, 1)}, nil
	}
	h.logger.Debug("[html] Page %d: %d detail links", page, len(links))

	var units []*models.RawContentUnit
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return units, err
		}
		if !h.visited.Add(utils.NormalizeURL(link)) {
			continue
		}
		detail, err := h.visit(link)
		if err != nil {
			h.logger.Warn("[html] Detail page failed for %s: %v", link, err)
			continue
		}
		units = append(units, domUnit(link, detail, page, len(units)+1))
	}
	return units, nil
}

func (h *HTMLSource) visit(pageURL string) (string, error) {
	c := h.base.Clone()
	var body string
	status := 0
	c.OnResponse(func(r *colly.Response) { body = string(r.Body) })
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})
	if err := c.Visit(pageURL); err != nil {
		return "", visitError(pageURL, status, err)
	}
	if DetectBlock(body) {
		return "", ErrBlocked
	}
	return body, nil
}

func visitError(pageURL string, status int, err error) error {
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return &FetchError{URL: pageURL, StatusCode: http.StatusForbidden, Err: ErrDisallowed}
	}
	if status > 0 {
		return &FetchError{URL: pageURL, StatusCode: status}
	}
	return fmt.Errorf("visit %s: %w", pageURL, err)
}

func domUnit(pageURL, body string, page, seq int) *models.RawContentUnit {
	return &models.RawContentUnit{
		Kind:      models.SourceDOM,
		Text:      body,
		Sequence:  seq,
		Page:      page,
		URL:       pageURL,
		FetchedAt: time.Now(),
	}
}
