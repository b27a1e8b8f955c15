// Package services defines the business logic of the Q&A board: the
// vote/acceptance consistency engine and the thin content services around it.
// This file centralizes the service-level error taxonomy so that service
// methods return stable kinds and callers can check them with errors.Is.
//
// Errors are wrapped with context (fmt.Errorf("%w: ...", ErrNotFound)).
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrNotFound indicates that the entity is missing or soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrPermission indicates that the actor lacks the required ownership, or
	// that no authenticated actor was supplied.
	ErrPermission = errors.New("permission denied")

	// ErrValidation indicates a malformed request: an unknown vote or entity
	// kind, or a missing, blank or oversized field.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a write kept losing optimistic concurrency
	// races after the configured number of attempts.
	ErrConflict = errors.New("conflict")
)
