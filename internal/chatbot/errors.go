package chatbot

import (
	"errors"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// ErrInvalid marks malformed management requests.
var ErrInvalid = errors.New("invalid request")

// ConflictError rejects a bot configuration that would break an instance
// constraint. It matches store.ErrConflict with errors.Is.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "config conflict: " + e.Reason }

func (e *ConflictError) Unwrap() error { return store.ErrConflict }

func conflict(reason string) error { return &ConflictError{Reason: reason} }
