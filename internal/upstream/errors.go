package upstream

import "errors"

// Error classes for upstream calls. Callers pick a retry or discard policy
// with errors.Is.
var (
	// ErrTransport covers dial failures, timeouts, 5xx, 429 and an open breaker.
	ErrTransport = errors.New("upstream: transport failure")
	// ErrMalformed means the body was not a JSON object.
	ErrMalformed = errors.New("upstream: malformed payload")
	// ErrNotFound means the source answered but had no record.
	ErrNotFound = errors.New("upstream: record not found")
)

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Class returns a short label for metrics and logs.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
