// Package errs defines the error taxonomy used across adapters and the
// control loop: callers check the kind with errors.Is and apply the
// matching policy (retry, refuse, or fatal-stop).
package errs

import "errors"

var (
	// ErrTransient covers timeouts and 5xx-class broker/market-data failures;
	// adapters retry locally, callers skip the tick/cycle when exhausted.
	ErrTransient = errors.New("transient error")
	// ErrUnauthorized signals an expired session; adapters refresh and retry
	// once before surfacing as ErrTransient.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers missing orders, positions, or contracts.
	ErrNotFound = errors.New("not found")
	// ErrInvalid covers rejected input (bad config mutation, invalid order).
	ErrInvalid = errors.New("invalid")
	// ErrFatal covers state invariant violations; the owning task stops.
	ErrFatal = errors.New("fatal invariant violation")
)
