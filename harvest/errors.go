package harvest

import "errors"

// ErrBadConcurrency is returned by Run when the configured concurrency is
// below 1. It is the only error Run can return: everything per-locator is
// absorbed into the report.
var ErrBadConcurrency = errors.New("harvest: concurrency must be at least 1")
