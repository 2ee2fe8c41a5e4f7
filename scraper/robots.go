package scraper

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"

	"listing-harvester/utils"
)

// robotsGate answers whether a URL may be fetched, loading each host's
// robots.txt once. Hosts whose robots.txt cannot be loaded are allowed.
type robotsGate struct {
	client    *http.Client
	userAgent string
	logger    *utils.Logger

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsGate(client *http.Client, userAgent string, logger *utils.Logger) *robotsGate {
	return &robotsGate{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		groups:    make(map[string]*robotstxt.Group),
	}
}

func (g *robotsGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	group := g.group(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (g *robotsGate) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	host := u.Scheme + "://" + u.Host

	g.mu.Lock()
	group, ok := g.groups[host]
	g.mu.Unlock()
	if ok {
		return group
	}

	group = g.load(ctx, host)

	g.mu.Lock()
	g.groups[host] = group
	g.mu.Unlock()
	return group
}

func (g *robotsGate) load(ctx context.Context, host string) *robotstxt.Group {
	robotsURL := host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("[robots] Could not load %s (ignoring): %v", robotsURL, err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		g.logger.Warn("[robots] Could not parse %s: %v", robotsURL, err)
		return nil
	}
	g.logger.Debug("[robots] Loaded %s", robotsURL)
	return data.FindGroup(g.userAgent)
}
