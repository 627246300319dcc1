package store

import "github.com/google/uuid"

// GenNewID returns a time-ordered UUIDv7 for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
