package discover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// collectHrefs returns the absolute href of every anchor on the page; the
// browser has already resolved relative URLs.
const collectHrefs = `() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`

// PortalConfig configures the browser-backed discoverer.
type PortalConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url" json:"remote_url"`

	// PageTimeout bounds navigation plus script settling per page.
	// Default: 45s.
	PageTimeout time.Duration `yaml:"page_timeout" json:"page_timeout"`

	// SettleDelay is the wait after load for late script-inserted links.
	// Default: 2s.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

func (c *PortalConfig) defaults() {
	if c.PageTimeout <= 0 {
		c.PageTimeout = 45 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
}

// Portal discovers report links by driving a stealth browser over the
// portal pages, so links inserted by scripts are seen too.
type Portal struct {
	roots  []string
	filter LinkFilter
	cfg    PortalConfig
	logger *slog.Logger
}

// NewPortal creates a Portal discoverer over the given root pages.
func NewPortal(roots []string, filter LinkFilter, cfg PortalConfig, logger *slog.Logger) (*Portal, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("discover: no root pages")
	}
	if err := filter.defaults(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Portal{roots: roots, filter: filter, cfg: cfg, logger: logger}, nil
}

// Discover launches (or connects to) Chrome, crawls every root page plus
// matching sub-pages one level deep, and returns the deduplicated report
// file links. The browser is torn down before returning.
func (p *Portal) Discover(ctx context.Context) ([]string, error) {
	browser, cleanup, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var files []string
	rootsOK := 0
	for _, root := range p.roots {
		links, err := p.pageLinks(ctx, browser, root)
		if err != nil {
			p.logger.Warn("root page failed", "url", root, "error", err)
			continue
		}
		rootsOK++

		var subPages []string
		for _, link := range links {
			switch {
			case p.filter.KeepFile(link):
				files = append(files, link)
			case p.filter.KeepPage(link):
				subPages = append(subPages, link)
			}
		}

		for _, page := range dedup(subPages) {
			subLinks, err := p.pageLinks(ctx, browser, page)
			if err != nil {
				p.logger.Warn("sub-page failed", "url", page, "error", err)
				continue
			}
			for _, link := range subLinks {
				if p.filter.KeepFile(link) {
					files = append(files, link)
				}
			}
		}
	}

	if rootsOK == 0 {
		return nil, fmt.Errorf("discover: all %d root pages failed", len(p.roots))
	}
	files = dedup(files)
	p.logger.Info("discovery complete", "roots", rootsOK, "files", len(files))
	return files, nil
}

func (p *Portal) connect() (*rod.Browser, func(), error) {
	wsURL := p.cfg.RemoteURL
	var lnch *launcher.Launcher
	if wsURL == "" {
		lnch = launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("discover: launch chrome: %w", err)
		}
		wsURL = u
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, nil, fmt.Errorf("discover: connect browser: %w", err)
	}

	cleanup := func() {
		browser.Close()
		if lnch != nil {
			lnch.Cleanup()
		}
	}
	return browser, cleanup, nil
}

func (p *Portal) pageLinks(ctx context.Context, browser *rod.Browser, pageURL string) ([]string, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	pageCtx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		p.logger.Warn("wait load timeout", "url", pageURL, "error", err)
	}

	// Late link injection is common on the portal's report pages.
	select {
	case <-time.After(p.cfg.SettleDelay):
	case <-pageCtx.Done():
		return nil, pageCtx.Err()
	}

	res, err := page.Eval(collectHrefs)
	if err != nil {
		return nil, fmt.Errorf("collect hrefs: %w", err)
	}
	var links []string
	for _, v := range res.Value.Arr() {
		if href := v.Str(); !skipAnchor(href) {
			links = append(links, href)
		}
	}
	return links, nil
}
