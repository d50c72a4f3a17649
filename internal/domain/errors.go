package domain

import "errors"

var (
	// ErrNotFound is returned when a record is missing from a registry.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidLimit is returned when an AppLimit violates its invariants.
	ErrInvalidLimit = errors.New("invalid app limit")

	// ErrSourceUnavailable marks a failed or timed-out usage source query.
	ErrSourceUnavailable = errors.New("usage source unavailable")

	// ErrNoProcess is returned by a block dispatch that found nothing to interrupt.
	ErrNoProcess = errors.New("no running process")
)
