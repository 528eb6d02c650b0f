// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input (event, condition, request) rejected before evaluation.
	ErrValidation = errors.New("validation")

	// ErrConflict indicates two writers raced on the same derived row (serialization failure, deadlock).
	ErrConflict = errors.New("concurrency conflict")

	// ErrIntegrityDrift indicates a derived aggregate diverged from its source-of-truth recomputation.
	ErrIntegrityDrift = errors.New("integrity drift")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller without the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., an active season already exists).
	ErrAlreadyExists = errors.New("already exists")

	// ErrQueueFull indicates the background task queue rejected a task.
	ErrQueueFull = errors.New("queue full")
)
