// Package digest computes content fingerprints for change detection.
//
// The digest is SHA-256 over the raw bytes, rendered as lowercase hex.
// Digest equality is the sole "unchanged" criterion in the pipeline — never
// substitute size or mtime comparisons.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
)

// Sum returns the lowercase hex SHA-256 of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Pool bounds concurrent fingerprinting to the machine's compute
// parallelism, independently of the fetch concurrency cap. Hashing is
// CPU-bound; letting every fetch worker hash at once would oversubscribe
// cores while the network slots sit idle.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a Pool with the given parallelism. Values < 1 default to
// runtime.GOMAXPROCS(0).
func NewPool(parallelism int) *Pool {
	if parallelism < 1 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: make(chan struct{}, parallelism)}
}

// Sum computes the fingerprint of data under the pool's CPU cap. It returns
// ctx.Err() if cancellation wins the race for a slot.
func (p *Pool) Sum(ctx context.Context, data []byte) (string, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()
	return Sum(data), nil
}
