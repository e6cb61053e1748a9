package discover

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html"

	"github.com/civichub/reportwatch/websafe"
)

// Static discovers report links by fetching pages over plain HTTP and
// parsing the HTML. It misses script-rendered content; use Portal for
// portals that build their link lists in the browser.
type Static struct {
	roots  []string
	filter LinkFilter
	client *http.Client
	logger *slog.Logger
}

// NewStatic creates a Static discoverer over the given root pages.
func NewStatic(roots []string, filter LinkFilter, logger *slog.Logger) (*Static, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("discover: no root pages")
	}
	if err := filter.defaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{
		roots:  roots,
		filter: filter,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// Discover crawls every root page plus matching sub-pages one level deep
// and returns the deduplicated report file links, in discovery order.
// Individual page failures are logged and skipped; Discover fails only when
// every root is unreachable.
func (s *Static) Discover(ctx context.Context) ([]string, error) {
	var files []string
	rootsOK := 0

	for _, root := range s.roots {
		links, err := s.pageLinks(ctx, root)
		if err != nil {
			s.logger.Warn("root page failed", "url", root, "error", err)
			continue
		}
		rootsOK++

		var subPages []string
		for _, link := range links {
			switch {
			case s.filter.KeepFile(link):
				files = append(files, link)
			case s.filter.KeepPage(link):
				subPages = append(subPages, link)
			}
		}

		for _, page := range dedup(subPages) {
			subLinks, err := s.pageLinks(ctx, page)
			if err != nil {
				s.logger.Warn("sub-page failed", "url", page, "error", err)
				continue
			}
			for _, link := range subLinks {
				if s.filter.KeepFile(link) {
					files = append(files, link)
				}
			}
		}
	}

	if rootsOK == 0 {
		return nil, fmt.Errorf("discover: all %d root pages failed", len(s.roots))
	}
	files = dedup(files)
	s.logger.Info("discovery complete", "roots", rootsOK, "files", len(files))
	return files, nil
}

func (s *Static) pageLinks(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "reportwatch/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := websafe.LimitedReadAll(resp.Body, websafe.MaxResponseBody)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	return extractAnchors(base, body)
}

// extractAnchors parses doc and returns every a[href], resolved against
// base so relative portal links become absolute locators.
func extractAnchors(base *url.URL, doc []byte) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if skipAnchor(attr.Val) {
					break
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					break
				}
				links = append(links, base.ResolveReference(ref).String())
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links, nil
}
