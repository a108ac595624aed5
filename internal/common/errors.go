package common

import "errors"

// Validation errors (tier 1 in spec.md §7): fail fast, no state change.
var (
	ErrInvalidPrecision  = errors.New("invalid precision")
	ErrNilOrder          = errors.New("order must not be nil")
	ErrLevelMismatch     = errors.New("data level does not match book level")
	ErrInvalidEnum       = errors.New("invalid enum value")
	ErrUnsupportedOnBook = errors.New("operation unsupported on this book variant")
)

// Domain rejection errors (tier 2): produce a reject event, not fatal.
var (
	ErrInsufficientBalance = errors.New("insufficient free balance")
	ErrUnknownOrder        = errors.New("unknown client order id")
	ErrPostOnlyWouldMatch  = errors.New("post-only order would match immediately")
	ErrReduceOnlyWouldOpen = errors.New("reduce-only order would open a new position")
	ErrTriggerImpossible   = errors.New("stop trigger impossible relative to last top")
)
