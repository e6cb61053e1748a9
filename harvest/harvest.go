// Package harvest orchestrates the change-aware report pipeline: bounded
// concurrent fetch, fail-closed content validation, SHA-256 fingerprinting
// on a CPU pool, digest comparison against the persisted index, and
// categorized atomic archiving. One Run produces exactly one outcome per
// input locator; per-locator problems become outcomes, never Run errors.
package harvest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/civichub/reportwatch/harvest/internal/category"
	"github.com/civichub/reportwatch/harvest/internal/digest"
	fetchpkg "github.com/civichub/reportwatch/harvest/internal/fetch"
	"github.com/civichub/reportwatch/harvest/internal/store"
	"github.com/civichub/reportwatch/harvest/internal/validate"
	"github.com/civichub/reportwatch/idgen"
	"github.com/civichub/reportwatch/sniff"
	"github.com/civichub/reportwatch/websafe"
)

// Scanner checks content for malware. An empty signature means clean; an
// error means no verdict could be produced (the pipeline then rejects,
// fail-closed). clamav.Client satisfies this.
type Scanner = validate.Scanner

// Service is the harvest orchestrator.
type Service struct {
	fetcher   *fetchpkg.Fetcher
	validator *validate.Validator
	pool      *digest.Pool
	archive   *store.Store
	rules     category.Rules
	logger    *slog.Logger
	config    Config
	newID     idgen.Generator
	recorder  Recorder

	sniffer      validate.Sniffer
	allowedMimes []string
	urlValidator func(string) error
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) ServiceOption {
	return func(svc *Service) { svc.logger = l }
}

// WithRecorder wires a run-report sink. Recording is best-effort: a failing
// recorder is logged and the run result is unaffected.
func WithRecorder(r Recorder) ServiceOption {
	return func(svc *Service) { svc.recorder = r }
}

// WithIDGenerator overrides run ID generation (default: "run_"-prefixed
// UUIDv7, time-sortable).
func WithIDGenerator(g idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = g }
}

// WithSniffer overrides format detection (default: sniff.Detect).
func WithSniffer(s validate.Sniffer) ServiceOption {
	return func(svc *Service) { svc.sniffer = s }
}

// WithAllowedMimes overrides the accepted MIME set (default:
// sniff.SpreadsheetMimes()).
func WithAllowedMimes(mimes []string) ServiceOption {
	return func(svc *Service) { svc.allowedMimes = mimes }
}

// WithURLValidator overrides URL validation (default: websafe.ValidateURL).
// Use in tests with httptest servers that listen on loopback addresses.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(svc *Service) { svc.urlValidator = fn }
}

// New creates a harvest Service. The scanner is mandatory: running without
// malware scanning would silently open the fail-closed gate.
func New(cfg Config, scanner Scanner, opts ...ServiceOption) (*Service, error) {
	cfg.defaults()

	svc := &Service{
		config:       cfg,
		logger:       slog.Default(),
		newID:        idgen.Prefixed("run_", idgen.UUIDv7()),
		sniffer:      sniff.Detect,
		allowedMimes: sniff.SpreadsheetMimes(),
		urlValidator: websafe.ValidateURL,
	}
	for _, opt := range opts {
		opt(svc)
	}

	validator, err := validate.New(scanner, svc.sniffer, svc.allowedMimes, svc.logger)
	if err != nil {
		return nil, err
	}
	svc.validator = validator

	archive, err := store.New(cfg.DataDir, cfg.HashDir)
	if err != nil {
		return nil, err
	}
	svc.archive = archive

	fc := cfg.fetchConfig()
	fc.URLValidator = svc.urlValidator
	svc.fetcher = fetchpkg.New(fc)

	svc.pool = digest.NewPool(cfg.DigestParallelism)

	rules := cfg.Categories
	if len(rules) == 0 {
		svc.rules = category.Default()
	} else {
		svc.rules = category.New(rules, cfg.Fallback)
	}

	return svc, nil
}

// Categorize returns the archive category a file name maps to.
func (svc *Service) Categorize(fileName string) string {
	return svc.rules.Categorize(fileName)
}

// Categories lists every category the service can produce, fallback last.
func (svc *Service) Categories() []string {
	return svc.rules.Categories()
}

// Lookup returns the last committed digest for a key.
func (svc *Service) Lookup(key ArtifactKey) (string, bool, error) {
	return svc.archive.Lookup(key)
}

// Run fetches every locator under the concurrency cap and returns the
// complete report. The only fatal path is a concurrency below 1; every
// per-locator problem is absorbed into its outcome. Cancellation stops new
// attempts and resolves pending locators as failed.
func (svc *Service) Run(ctx context.Context, locators []string) (*Report, error) {
	if svc.config.Concurrency < 1 {
		return nil, ErrBadConcurrency
	}

	report := &Report{
		RunID:     svc.newID(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]Outcome, len(locators)),
	}
	logger := svc.logger.With("run_id", report.RunID)
	logger.Info("run started", "locators", len(locators), "concurrency", svc.config.Concurrency)

	sem := make(chan struct{}, svc.config.Concurrency)
	var wg sync.WaitGroup
	for i, locator := range locators {
		wg.Add(1)
		go func(i int, locator string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Never started: still owed an outcome.
				report.Outcomes[i] = Outcome{
					Locator: locator,
					Status:  StatusFailed,
					Error:   ctx.Err().Error(),
				}
				return
			}
			defer func() { <-sem }()
			report.Outcomes[i] = svc.processOne(ctx, logger, locator)
		}(i, locator)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	report.tally()
	logger.Info("run finished",
		"saved", report.Saved, "unchanged", report.Unchanged,
		"rejected", report.Rejected, "failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	svc.record(ctx, logger, report)
	return report, nil
}

// processOne runs the full pipeline for a single locator:
// fetch → validate → digest → index compare → commit if changed.
func (svc *Service) processOne(ctx context.Context, logger *slog.Logger, locator string) Outcome {
	start := time.Now()
	out := Outcome{Locator: locator}
	defer func() { out.Duration = time.Since(start) }()

	fail := func(err error) Outcome {
		out.Status = StatusFailed
		out.Error = err.Error()
		logger.Warn("locator failed", "locator", locator, "error", err, "attempts", out.Attempts)
		return out
	}

	body, attempts, err := svc.fetcher.Fetch(ctx, locator, svc.config.fetchPolicy())
	out.Attempts = attempts
	if err != nil {
		return fail(err)
	}

	if verdict := svc.validator.Validate(ctx, body); !verdict.OK {
		out.Status = StatusRejected
		out.Reason = verdict.Reason
		logger.Warn("locator rejected", "locator", locator, "reason", verdict.Reason)
		return out
	}

	dg, err := svc.pool.Sum(ctx, body)
	if err != nil {
		return fail(err)
	}
	out.Digest = dg

	name, err := websafe.ArtifactName(locator)
	if err != nil {
		return fail(err)
	}
	out.Key = ArtifactKey{Category: svc.rules.Categorize(name), Name: name}

	prev, known, err := svc.archive.Lookup(out.Key)
	if err != nil {
		return fail(err)
	}
	if known && prev == dg {
		out.Status = StatusUnchanged
		logger.Debug("unchanged", "key", out.Key.String())
		return out
	}

	if err := svc.archive.Commit(out.Key, body, dg); err != nil {
		return fail(err)
	}
	out.Status = StatusSaved
	logger.Info("saved", "key", out.Key.String(), "digest", dg, "bytes", len(body))
	return out
}

// record pushes the report to the recorder, if any. A cancelled run context
// must not lose the report, so recording gets its own short deadline.
func (svc *Service) record(ctx context.Context, logger *slog.Logger, report *Report) {
	if svc.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := svc.recorder.RecordRun(recCtx, report); err != nil {
		logger.Warn("run report not recorded", "error", err)
	}
}
