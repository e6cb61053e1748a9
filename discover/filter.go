// Package discover finds spreadsheet report links on a public data portal.
//
// Two implementations share one LinkFilter: Portal drives a real browser
// (rod + stealth) for script-rendered pages, Static parses fetched HTML and
// serves plain pages and tests. Both return candidate locator URLs; the
// harvest pipeline does its own validation, so discovery only has to be a
// good net, not a perfect one.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Discoverer produces candidate report URLs.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

var yearRe = regexp.MustCompile(`20\d{2}`)

// LinkFilter decides which anchors on a portal page are worth following.
type LinkFilter struct {
	// Extensions is the spreadsheet extension allow-list (with dots).
	Extensions []string `yaml:"extensions" json:"extensions"`

	// MinYear keeps only links whose URL embeds a year token at or above
	// this value. Links without any year token are skipped: the portal
	// dates every report file, so an undated link is navigation, not data.
	MinYear int `yaml:"min_year" json:"min_year"`

	// Exclude drops links containing any of these substrings.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// SubPagePattern selects report sub-pages to crawl one level deep.
	SubPagePattern string `yaml:"sub_page_pattern" json:"sub_page_pattern"`

	subPageRe *regexp.Regexp
}

// DefaultFilter returns the filter tuned for the NYC InfoHub portal.
func DefaultFilter() LinkFilter {
	return LinkFilter{
		Extensions: []string{".xls", ".xlsx", ".xlsb"},
		MinYear:    2018,
		Exclude: []string{
			"signin", "signout", "login", "logout",
			"quality-review", "nyc-school-survey",
		},
		SubPagePattern: `(?i)report`,
	}
}

func (f *LinkFilter) defaults() error {
	if len(f.Extensions) == 0 {
		f.Extensions = DefaultFilter().Extensions
	}
	if f.MinYear == 0 {
		f.MinYear = DefaultFilter().MinYear
	}
	if f.SubPagePattern == "" {
		f.SubPagePattern = DefaultFilter().SubPagePattern
	}
	re, err := regexp.Compile(f.SubPagePattern)
	if err != nil {
		return fmt.Errorf("discover: sub_page_pattern: %w", err)
	}
	f.subPageRe = re
	return nil
}

func (f *LinkFilter) excluded(link string) bool {
	lower := strings.ToLower(link)
	for _, pat := range f.Exclude {
		if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// KeepFile reports whether link is a report file worth harvesting:
// allow-listed extension, no excluded substring, and a year token at or
// above MinYear somewhere in the URL.
func (f *LinkFilter) KeepFile(link string) bool {
	if skipAnchor(link) || f.excluded(link) {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	lowerPath := strings.ToLower(u.Path)
	matched := false
	for _, ext := range f.Extensions {
		if strings.HasSuffix(lowerPath, strings.ToLower(ext)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, tok := range yearRe.FindAllString(link, -1) {
		if year, err := strconv.Atoi(tok); err == nil && year >= f.MinYear {
			return true
		}
	}
	return false
}

// KeepPage reports whether link is a sub-page worth crawling one level
// deeper.
func (f *LinkFilter) KeepPage(link string) bool {
	if skipAnchor(link) || f.excluded(link) {
		return false
	}
	return f.subPageRe != nil && f.subPageRe.MatchString(link)
}

// skipAnchor drops fragment-only and javascript pseudo-links.
func skipAnchor(link string) bool {
	return link == "" || strings.HasPrefix(link, "#") ||
		strings.HasPrefix(strings.ToLower(link), "javascript:")
}

// dedup keeps first occurrence, preserving discovery order.
func dedup(links []string) []string {
	seen := make(map[string]bool, len(links))
	out := links[:0]
	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}
