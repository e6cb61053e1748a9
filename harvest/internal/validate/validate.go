// Package validate gates fetched bytes before they can touch the archive:
// a malware scan followed by a content-based format check. The posture is
// fail-closed — when the scanner cannot answer, the content is rejected,
// never waved through.
package validate

import (
	"context"
	"errors"
	"log/slog"
)

// Reject reasons surfaced in run reports. The malware reason carries the
// signature name after the prefix.
const (
	ReasonMalwarePrefix = "malware-found:"
	ReasonScanError     = "scan-error"
	ReasonWrongFormat   = "wrong-format"
)

// Scanner checks content for malware. An empty signature means clean; a
// non-nil error means the scanner could not produce a verdict.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (signature string, err error)
}

// Sniffer classifies raw bytes into a MIME type.
type Sniffer func(data []byte) string

// Verdict is the validator's decision for one piece of content.
type Verdict struct {
	OK     bool
	Reason string
}

func accept() Verdict              { return Verdict{OK: true} }
func reject(reason string) Verdict { return Verdict{Reason: reason} }

// Validator runs the scan-then-sniff gate.
type Validator struct {
	scanner Scanner
	sniffer Sniffer
	allowed map[string]bool
	logger  *slog.Logger
}

// New creates a Validator. All three collaborators are mandatory: the
// fail-closed posture extends to wiring, so a missing scanner is a
// configuration error rather than a silently open gate.
func New(scanner Scanner, sniffer Sniffer, allowedMimes []string, logger *slog.Logger) (*Validator, error) {
	if scanner == nil {
		return nil, errors.New("validate: scanner is required")
	}
	if sniffer == nil {
		return nil, errors.New("validate: sniffer is required")
	}
	if len(allowedMimes) == 0 {
		return nil, errors.New("validate: allowed MIME set is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(allowedMimes))
	for _, m := range allowedMimes {
		allowed[m] = true
	}
	return &Validator{scanner: scanner, sniffer: sniffer, allowed: allowed, logger: logger}, nil
}

// Validate decides accept or reject for data. Scan runs before the format
// check so an infected payload is reported as malware even when it also has
// the wrong format. There is no retry at this layer.
func (v *Validator) Validate(ctx context.Context, data []byte) Verdict {
	sig, err := v.scanner.Scan(ctx, data)
	if err != nil {
		v.logger.Warn("scanner unavailable, rejecting", "error", err)
		return reject(ReasonScanError)
	}
	if sig != "" {
		v.logger.Warn("malware detected", "signature", sig)
		return reject(ReasonMalwarePrefix + sig)
	}

	mime := v.sniffer(data)
	if !v.allowed[mime] {
		v.logger.Debug("format rejected", "mime", mime)
		return reject(ReasonWrongFormat)
	}
	return accept()
}
