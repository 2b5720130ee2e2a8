package sentinel

import "errors"

// Sentinel errors for infrastructure and lifecycle facts. Stores and services
// return these wrapped with context so callers can test them with errors.Is
// and the HTTP layer can map them to status codes.
//
// - ErrNotFound: record does not exist in the store
// - ErrConflict: record with the same id already exists
// - ErrExhausted: no free value left in a bounded namespace
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backend temporarily unavailable
// - ErrForbidden: caller lacks the role an operation requires
// - ErrInvalidInput: request is malformed
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExhausted    = errors.New("namespace exhausted")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)
