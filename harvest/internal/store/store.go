// Package store persists accepted artifacts and their digest records.
//
// Layout is two parallel trees keyed by category:
//
//	{dataDir}/{category}/{name}       — artifact content
//	{hashDir}/{category}/{name}.hash  — raw hex digest, entire file content
//
// This layout is durable state shared across runs (and with monitoring
// processes), so it must stay stable for a restarted process to resume
// change detection.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/civichub/reportwatch/websafe"
)

// Key identifies an artifact within the archive.
type Key struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

func (k Key) String() string {
	return k.Category + "/" + k.Name
}

// Store is the archive: content tree, hash tree, and the per-key commit
// locks that keep aliased locators from tearing a content/digest pair.
type Store struct {
	dataDir string
	hashDir string

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// New creates a Store rooted at the two trees, creating them if needed.
func New(dataDir, hashDir string) (*Store, error) {
	if dataDir == "" || hashDir == "" {
		return nil, errors.New("store: dataDir and hashDir are required")
	}
	for _, dir := range []string{dataDir, hashDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	return &Store{
		dataDir: dataDir,
		hashDir: hashDir,
		locks:   make(map[Key]*sync.Mutex),
	}, nil
}

// Lookup returns the last committed digest for key. A key never committed
// returns ok=false, which callers must treat as "changed".
func (s *Store) Lookup(key Key) (digest string, ok bool, err error) {
	p, err := s.hashPath(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read digest %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Commit persists content and then its digest record, serialized per key.
//
// Ordering is load-bearing: the content write is durable (fsynced and
// renamed into place) before the digest write begins. A crash between the
// two leaves a stale digest next to new content, which the next run detects
// as a change and re-commits — idempotent. The reverse order could mask a
// genuine future change and is therefore forbidden.
func (s *Store) Commit(key Key, content []byte, digest string) error {
	if digest == "" {
		return fmt.Errorf("store: empty digest for %s", key)
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	contentPath, err := s.contentPath(key)
	if err != nil {
		return err
	}
	hashPath, err := s.hashPath(key)
	if err != nil {
		return err
	}

	if err := writeAtomic(contentPath, content); err != nil {
		return fmt.Errorf("store: commit content %s: %w", key, err)
	}
	if err := writeAtomic(hashPath, []byte(digest)); err != nil {
		return fmt.Errorf("store: commit digest %s: %w", key, err)
	}
	return nil
}

// ContentPath returns the final content location for key.
func (s *Store) ContentPath(key Key) (string, error) {
	return s.contentPath(key)
}

func (s *Store) contentPath(key Key) (string, error) {
	return safeJoin(s.dataDir, key.Category, key.Name)
}

func (s *Store) hashPath(key Key) (string, error) {
	return safeJoin(s.hashDir, key.Category, key.Name+".hash")
}

// safeJoin builds base/category/name, rejecting traversal in either
// component. Category comes from configuration and name from a sanitized
// locator, so a failure here indicates a programming error upstream — but
// the archive root is the last line of defense.
func safeJoin(base, categoryName, fileName string) (string, error) {
	p, err := websafe.SafePath(base, filepath.Join(categoryName, fileName))
	if err != nil {
		return "", fmt.Errorf("store: %s/%s: %w", categoryName, fileName, err)
	}
	return p, nil
}

func (s *Store) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// writeAtomic writes data to path via a temp file in the same directory:
// write, fsync, rename. Readers either see the old file or the complete new
// one, never a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
