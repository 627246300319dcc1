package store

import "errors"

// Common errors returned by store implementations.
var (
	// ErrNotFound is returned when a bot, instance, settings row or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("config conflict")
)
