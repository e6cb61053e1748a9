package discover

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Snapshot persists the URL set of the previous discovery, one URL per
// line. It lets a run report which links are new on the portal without
// fetching anything.
type Snapshot struct {
	path string
}

// NewSnapshot creates a Snapshot backed by path.
func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

// Load returns the previously saved URL set. A missing file is an empty
// set, not an error.
func (s *Snapshot) Load() (map[string]bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			set[line] = true
		}
	}
	return set, nil
}

// Save replaces the snapshot with the given URLs, sorted for stable diffs.
func (s *Snapshot) Save(urls []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)
	return os.WriteFile(s.path, []byte(strings.Join(sorted, "\n")+"\n"), 0o644)
}

// NewSince returns the URLs in current that were absent from the previous
// snapshot, preserving current's order.
func (s *Snapshot) NewSince(current []string) ([]string, error) {
	prev, err := s.Load()
	if err != nil {
		return nil, err
	}
	var fresh []string
	for _, u := range current {
		if !prev[u] {
			fresh = append(fresh, u)
		}
	}
	return fresh, nil
}
