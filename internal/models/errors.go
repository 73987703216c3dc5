package models

import "errors"

// Sentinel errors shared across the retrieval subsystem. Callers match with
// errors.Is; a serving layer maps them onto its own status codes. Generation
// failure is deliberately absent: the pipeline degrades to an extractive
// answer instead of surfacing it.
var (
	// ErrValidation covers malformed parameters, dimension mismatches and
	// exceeded bounds.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown document ids and missing persisted files.
	ErrNotFound = errors.New("not found")

	// ErrResourceExhausted covers embedding backend and model load failures.
	ErrResourceExhausted = errors.New("resource exhausted")
)
