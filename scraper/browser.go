package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"listing-harvester/models"
	"listing-harvester/utils"
)

const (
	defaultReadyTimeout = 20 * time.Second
	scrollSettle        = 1500 * time.Millisecond
)

// BrowserConfig controls a headless-browser source.
type BrowserConfig struct {
	IndexURL           string // listing index URL template, see PageURL
	DetailLinkSelector string // empty: the index page itself is the unit
	ReadySelector      string
	ReadyTimeout       time.Duration
	UserAgent          string
	ChromeBin          string
}

// BrowserSource renders listing pages in headless Chrome. Each Fetch loads
// one index page, collects detail links and captures every detail page's
// rendered HTML as a DOM unit.
type BrowserSource struct {
	cfg     BrowserConfig
	logger  *utils.Logger
	visited *utils.IDSet

	browserCtx context.Context
	cancel     context.CancelFunc
}

// NewBrowserSource starts the browser allocator. Call Close when done.
func NewBrowserSource(cfg BrowserConfig, logger *utils.Logger) *BrowserSource {
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = "body"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	chromeBin := findChromeBinary(cfg.ChromeBin)
	logger.Info("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))

	return &BrowserSource{
		cfg:        cfg,
		logger:     logger,
		visited:    utils.NewIDSet(),
		browserCtx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}
}

// Close shuts the browser down.
func (b *BrowserSource) Close() {
	b.cancel()
}

// Fetch loads page of job and returns one unit per unseen detail page.
func (b *BrowserSource) Fetch(ctx context.Context, job models.Job, page int) ([]*models.RawContentUnit, error) {
	indexURL := PageURL(b.cfg.IndexURL, job, page)

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	indexHTML, err := b.render(ctx, tabCtx, indexURL)
	if err != nil {
		return nil, err
	}

	if b.cfg.DetailLinkSelector == "" {
		return []*models.RawContentUnit{domUnit(indexURL, indexHTML, page, 1)}, nil
	}

	var links []string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(linkScript(b.cfg.DetailLinkSelector), &links)); err != nil {
		return nil, fmt.Errorf("collect links on %s: %w", indexURL, err)
	}
	b.logger.Debug("[browser] Page %d: %d detail links", page, len(links))
	if len(links) == 0 {
		return nil, nil
	}

	var units []*models.RawContentUnit
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return units, err
		}
		if !b.visited.Add(utils.NormalizeURL(link)) {
			b.logger.Debug("[browser] Skipping duplicate: %s", link)
			continue
		}
		body, err := b.render(ctx, tabCtx, link)
		if err != nil {
			if ctx.Err() != nil {
				return units, ctx.Err()
			}
			b.logger.Warn("[browser] Detail page failed for %s: %v", link, err)
			continue
		}
		units = append(units, domUnit(link, body, page, len(units)+1))
	}
	return units, nil
}

// render navigates to pageURL, waits for the ready selector and returns the
// rendered document.
func (b *BrowserSource) render(ctx, tabCtx context.Context, pageURL string) (string, error) {
	if err := chromedp.Run(tabCtx, chromedp.Navigate(pageURL)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	waitCtx, cancel := context.WithTimeout(tabCtx, b.cfg.ReadyTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(b.cfg.ReadySelector, chromedp.ByQuery))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var body string
		if chromedp.Run(tabCtx, chromedp.OuterHTML("html", &body, chromedp.ByQuery)) == nil && DetectBlock(body) {
			return "", ErrBlocked
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s on %s: %w", b.cfg.ReadySelector, pageURL, ErrSelectorMiss)
		}
		return "", fmt.Errorf("wait for %s: %w", b.cfg.ReadySelector, err)
	}

	var body string
	err = chromedp.Run(tabCtx,
		// Scroll to load lazy content
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(scrollSettle),
		chromedp.OuterHTML("html", &body, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", pageURL, err)
	}
	if DetectBlock(body) {
		return "", ErrBlocked
	}
	return body, nil
}

// linkScript returns JS collecting the unique absolute hrefs matched by
// selector.
func linkScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`
		(function() {
			var seen = {};
			var out = [];
			var nodes = document.querySelectorAll(%s);
			for (var i = 0; i < nodes.length; i++) {
				var href = nodes[i].href;
				if (!href || seen[href]) continue;
				seen[href] = true;
				out.push(href);
			}
			return out;
		})()
	`, quoted)
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
