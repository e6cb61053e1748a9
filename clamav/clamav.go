// Package clamav is a minimal clamd client covering what the validation
// stage needs: stream a byte buffer to the daemon and read its verdict.
//
// The client speaks the null-delimited command protocol (zINSTREAM/zPING)
// over TCP. It holds no persistent connection; each scan dials fresh, which
// keeps the client safe for concurrent use across fetch workers.
package clamav

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultChunkSize is the INSTREAM chunk size. clamd's default stream
// buffer accepts far larger chunks; 64 KiB keeps memory behavior flat.
const DefaultChunkSize = 64 * 1024

// Client talks to a clamd instance.
type Client struct {
	addr    string
	timeout time.Duration
	chunk   int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-scan I/O deadline. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithChunkSize overrides the INSTREAM chunk size.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunk = n
		}
	}
}

// New creates a Client for the given TCP address (host:port).
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:    addr,
		timeout: 30 * time.Second,
		chunk:   DefaultChunkSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Scan streams data to clamd and returns the malware signature name, or ""
// when the content is clean. Any connectivity or protocol failure returns a
// non-nil error; callers treat that as "scanner unavailable", never as a
// pass.
func (c *Client) Scan(ctx context.Context, data []byte) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("clamav: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return "", fmt.Errorf("clamav: send command: %w", err)
	}

	// Length-prefixed chunks, zero-length chunk terminates the stream.
	var size [4]byte
	for off := 0; off < len(data); off += c.chunk {
		end := off + c.chunk
		if end > len(data) {
			end = len(data)
		}
		binary.BigEndian.PutUint32(size[:], uint32(end-off))
		if _, err := conn.Write(size[:]); err != nil {
			return "", fmt.Errorf("clamav: send chunk size: %w", err)
		}
		if _, err := conn.Write(data[off:end]); err != nil {
			return "", fmt.Errorf("clamav: send chunk: %w", err)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := conn.Write(size[:]); err != nil {
		return "", fmt.Errorf("clamav: terminate stream: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return "", fmt.Errorf("clamav: read reply: %w", err)
	}
	return parseVerdict(reply)
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("clamav: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("clamav: send ping: %w", err)
	}
	reply, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("clamav: read pong: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("clamav: unexpected ping reply %q", reply)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)
	return conn, nil
}

func readReply(conn net.Conn) (string, error) {
	r := bufio.NewReader(conn)
	reply, err := r.ReadString('\x00')
	if err != nil && reply == "" {
		return "", err
	}
	return strings.TrimRight(strings.TrimSpace(reply), "\x00"), nil
}

// parseVerdict interprets a z-command reply line:
//
//	stream: OK
//	stream: Eicar-Test-Signature FOUND
//	INSTREAM size limit exceeded. ERROR
func parseVerdict(reply string) (string, error) {
	switch {
	case strings.HasSuffix(reply, "OK"):
		return "", nil
	case strings.HasSuffix(reply, "FOUND"):
		sig := strings.TrimSuffix(reply, " FOUND")
		if i := strings.Index(sig, ": "); i >= 0 {
			sig = sig[i+2:]
		}
		return sig, nil
	default:
		return "", fmt.Errorf("clamav: scan failed: %s", reply)
	}
}
