package harvest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/civichub/reportwatch/sniff"
)

// scriptScanner drives scan verdicts from the payload content.
type scriptScanner struct {
	fn func(data []byte) (string, error)
}

func (s scriptScanner) Scan(_ context.Context, data []byte) (string, error) {
	if s.fn == nil {
		return "", nil
	}
	return s.fn(data)
}

func cleanScanner() Scanner { return scriptScanner{} }

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	return Config{
		DataDir: filepath.Join(root, "data"),
		HashDir: filepath.Join(root, "hashes"),
		Timeout: 2 * time.Second,
		Retry:   RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond},
	}
}

// newTestService builds a Service that accepts anything format-wise and
// allows loopback URLs, so tests control verdicts through the scanner.
func newTestService(t *testing.T, cfg Config, scanner Scanner, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{
		WithURLValidator(func(string) error { return nil }),
		WithSniffer(func([]byte) string { return sniff.MimeXLSX }),
	}, opts...)
	svc, err := New(cfg, scanner, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRun_CompleteUnderPartialFailure(t *testing.T) {
	// WHAT: One timeout-ish failure, one rejection, one success still yield
	// exactly one outcome per locator.
	// WHY: A lost locator makes the whole report untrustworthy.
	mux := http.NewServeMux()
	mux.HandleFunc("/missing.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/infected.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("EICAR"))
	})
	mux.HandleFunc("/good.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("good workbook"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	scanner := scriptScanner{fn: func(data []byte) (string, error) {
		if bytes.Equal(data, []byte("EICAR")) {
			return "Eicar-Test-Signature", nil
		}
		return "", nil
	}}
	svc := newTestService(t, testConfig(t), scanner)

	locators := []string{
		srv.URL + "/missing.xlsx",
		srv.URL + "/infected.xlsx",
		srv.URL + "/good.xlsx",
	}
	report, err := svc.Run(context.Background(), locators)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("outcomes: got %d, want 3", len(report.Outcomes))
	}

	wantStatus := []Status{StatusFailed, StatusRejected, StatusSaved}
	for i, out := range report.Outcomes {
		if out.Locator != locators[i] {
			t.Errorf("outcome %d: locator %q, want %q", i, out.Locator, locators[i])
		}
		if out.Status != wantStatus[i] {
			t.Errorf("outcome %d: status %q, want %q", i, out.Status, wantStatus[i])
		}
	}
	if report.Outcomes[1].Reason != "malware-found:Eicar-Test-Signature" {
		t.Errorf("reject reason: got %q", report.Outcomes[1].Reason)
	}
	if report.Saved != 1 || report.Unchanged != 0 || report.Rejected != 1 || report.Failed != 1 {
		t.Errorf("counters: %+v", report)
	}
	if report.RunID == "" {
		t.Error("run ID missing")
	}
}

func TestRun_ChangeDetection(t *testing.T) {
	// WHAT: First sight saves, identical re-fetch is unchanged, new content
	// saves again and updates the index.
	var mu sync.Mutex
	content := []byte("version one")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Write(content)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	svc := newTestService(t, cfg, cleanScanner())
	locator := srv.URL + "/graduation-results.xlsx"

	run := func() Outcome {
		report, err := svc.Run(context.Background(), []string{locator})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return report.Outcomes[0]
	}

	first := run()
	if first.Status != StatusSaved {
		t.Fatalf("first run: %+v", first)
	}
	if first.Key.Category != "graduation" || first.Key.Name != "graduation-results.xlsx" {
		t.Errorf("key: %+v", first.Key)
	}

	second := run()
	if second.Status != StatusUnchanged {
		t.Errorf("second run: got %q, want unchanged", second.Status)
	}
	if second.Digest != first.Digest {
		t.Errorf("digest drifted on unchanged content")
	}

	mu.Lock()
	content = []byte("version two")
	mu.Unlock()

	third := run()
	if third.Status != StatusSaved {
		t.Errorf("third run: got %q, want saved", third.Status)
	}
	if third.Digest == first.Digest {
		t.Error("digest did not change with content")
	}

	stored, err := os.ReadFile(filepath.Join(cfg.DataDir, "graduation", "graduation-results.xlsx"))
	if err != nil {
		t.Fatalf("read archived content: %v", err)
	}
	if string(stored) != "version two" {
		t.Errorf("archive holds %q", stored)
	}
	indexed, err := os.ReadFile(filepath.Join(cfg.HashDir, "graduation", "graduation-results.xlsx.hash"))
	if err != nil {
		t.Fatalf("read digest record: %v", err)
	}
	if string(indexed) != third.Digest {
		t.Errorf("index holds %q, want %q", indexed, third.Digest)
	}
}

func TestRun_ScannerDownFailsClosed(t *testing.T) {
	// WHAT: A dead scanner rejects everything with scan-error and the
	// archive stays untouched.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	down := scriptScanner{fn: func([]byte) (string, error) {
		return "", errors.New("connection refused")
	}}
	svc := newTestService(t, cfg, down)

	report, err := svc.Run(context.Background(), []string{srv.URL + "/report.xlsx"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out := report.Outcomes[0]
	if out.Status != StatusRejected || out.Reason != "scan-error" {
		t.Errorf("outcome: %+v, want rejected(scan-error)", out)
	}
	entries, _ := os.ReadDir(cfg.DataDir)
	if len(entries) != 0 {
		t.Errorf("archive mutated on rejected content: %v", entries)
	}
}

func TestRun_WrongFormatRejected(t *testing.T) {
	// WHAT: Real sniffing rejects an HTML error page served where a
	// workbook should be.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html><body>Not Found</body></html>"))
	}))
	defer srv.Close()

	svc, err := New(testConfig(t), cleanScanner(),
		WithURLValidator(func(string) error { return nil }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	report, err := svc.Run(context.Background(), []string{srv.URL + "/report.xlsx"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out := report.Outcomes[0]
	if out.Status != StatusRejected || out.Reason != "wrong-format" {
		t.Errorf("outcome: %+v, want rejected(wrong-format)", out)
	}
}

func TestRun_BadConcurrency(t *testing.T) {
	cfg := testConfig(t)
	cfg.Concurrency = -1
	svc := newTestService(t, cfg, cleanScanner())
	if _, err := svc.Run(context.Background(), []string{"http://example.com/a.xlsx"}); !errors.Is(err, ErrBadConcurrency) {
		t.Fatalf("err: %v, want ErrBadConcurrency", err)
	}
}

func TestRun_Cancellation(t *testing.T) {
	// WHAT: A cancelled context still yields one failed outcome per
	// locator instead of an error or a short report.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestService(t, testConfig(t), cleanScanner())
	locators := []string{srv.URL + "/a.xlsx", srv.URL + "/b.xlsx", srv.URL + "/c.xlsx"}
	report, err := svc.Run(ctx, locators)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Outcomes) != len(locators) {
		t.Fatalf("outcomes: got %d, want %d", len(report.Outcomes), len(locators))
	}
	for i, out := range report.Outcomes {
		if out.Status != StatusFailed {
			t.Errorf("outcome %d: %+v, want failed", i, out)
		}
	}
}

func TestRun_AliasedLocators(t *testing.T) {
	// WHAT: Two URLs resolving to the same artifact name land on one key,
	// and the committed content/digest pair is never torn.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shared attendance workbook"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	svc := newTestService(t, cfg, cleanScanner())
	locators := []string{
		srv.URL + "/2024/attendance.xlsx",
		srv.URL + "/mirror/attendance.xlsx",
	}
	report, err := svc.Run(context.Background(), locators)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, out := range report.Outcomes {
		if out.Status != StatusSaved && out.Status != StatusUnchanged {
			t.Errorf("outcome %d: %+v", i, out)
		}
		if out.Key.Name != "attendance.xlsx" || out.Key.Category != "attendance" {
			t.Errorf("outcome %d key: %+v", i, out.Key)
		}
	}
	content, err := os.ReadFile(filepath.Join(cfg.DataDir, "attendance", "attendance.xlsx"))
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	indexed, err := os.ReadFile(filepath.Join(cfg.HashDir, "attendance", "attendance.xlsx.hash"))
	if err != nil {
		t.Fatalf("read digest: %v", err)
	}
	if string(indexed) != report.Outcomes[0].Digest || string(content) != "shared attendance workbook" {
		t.Errorf("torn pair: content %q digest %q", content, indexed)
	}
}

type captureRecorder struct {
	mu      sync.Mutex
	reports []*Report
}

func (c *captureRecorder) RecordRun(_ context.Context, r *Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func TestRun_RecorderReceivesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	rec := &captureRecorder{}
	svc := newTestService(t, testConfig(t), cleanScanner(), WithRecorder(rec))
	report, err := svc.Run(context.Background(), []string{srv.URL + "/demographics.xlsx"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reports) != 1 || rec.reports[0].RunID != report.RunID {
		t.Errorf("recorder: got %d reports", len(rec.reports))
	}
}

func TestNew_NilScannerRefused(t *testing.T) {
	// WHY: Running without a scanner would silently disable the fail-closed
	// gate.
	if _, err := New(testConfig(t), nil); err == nil {
		t.Fatal("nil scanner accepted")
	}
}

func TestCategorize_Defaults(t *testing.T) {
	svc := newTestService(t, testConfig(t), cleanScanner())
	cases := map[string]string{
		"graduation-rates-2023.xlsx": "graduation",
		"chronic-absenteeism.xlsx":   "attendance",
		"demographic-snapshot.xlsb":  "demographics",
		"regents-exam-results.xls":   "test_results",
		"school-quality-guide.xlsx":  "other_reports",
	}
	for name, want := range cases {
		if got := svc.Categorize(name); got != want {
			t.Errorf("Categorize(%q) = %q, want %q", name, got, want)
		}
	}
}
