package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404.
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCapacityExhausted signals a lost capacity reservation: the conditional
	// load increment found the volunteer already full. The router re-scores the
	// next candidate rather than surfacing this to callers.
	ErrCapacityExhausted = errors.New("volunteer capacity exhausted")

	// ErrSessionClaimed signals that a concurrent reassignment scan or live
	// route call already owns the session, so this path must back off.
	ErrSessionClaimed = errors.New("session claimed by another worker")

	// ErrInvalidTransition guards the session lifecycle: waiting -> assigned ->
	// active -> resolved, with abandonment and cancellation side exits.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrStoreUnavailable wraps persistence failures that routing degrades
	// around (queue instead of fail); hard session writes do not use it.
	ErrStoreUnavailable = errors.New("persistence store unavailable")
)
