package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Instance is a single automation endpoint (one connected messaging account)
// owning its own bots, settings and sessions.
type Instance struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url,omitempty"` // where bot replies are delivered
	CreatedAt  time.Time `json:"created_at"`
}

// InstanceStore resolves instances by name.
type InstanceStore interface {
	Create(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, id uuid.UUID) (*Instance, error)
	GetByName(ctx context.Context, name string) (*Instance, error)
	List(ctx context.Context) ([]Instance, error)
}
