package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a bot conversation.
type SessionStatus string

const (
	SessionOpened SessionStatus = "opened"
	SessionClosed SessionStatus = "closed"
	SessionPaused SessionStatus = "paused"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionOpened, SessionClosed, SessionPaused:
		return true
	}
	return false
}

// SessionTypeWebhook tags sessions created by the webhook bot executor.
const SessionTypeWebhook = "webhook"

// Session is the state of one bot conversation for (instance, remote jid, bot).
type Session struct {
	ID         uuid.UUID       `json:"id"`
	InstanceID uuid.UUID       `json:"instance_id"`
	RemoteJID  string          `json:"remote_jid"`
	BotID      *uuid.UUID      `json:"bot_id,omitempty"` // nil = non-bot session
	Status     SessionStatus   `json:"status"`
	AwaitUser  bool            `json:"await_user"`
	Type       string          `json:"type"`
	Context    json.RawMessage `json:"context,omitempty"` // executor-owned state
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SessionFilter narrows session queries. Zero fields are ignored.
// Bot-scoped queries (BotOnly) exclude sessions with a nil bot reference.
type SessionFilter struct {
	InstanceID uuid.UUID
	RemoteJID  string
	BotID      uuid.UUID
	BotOnly    bool
	Type       string
	// NotClosed excludes closed sessions.
	NotClosed bool
}

// SessionStore persists bot sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// FindCurrent returns the most recently created session matching f,
	// or (nil, nil) when there is none.
	FindCurrent(ctx context.Context, f SessionFilter) (*Session, error)
	List(ctx context.Context, f SessionFilter) ([]Session, error)
	// Update writes status, await_user and context of s.
	Update(ctx context.Context, s *Session) error
	// UpdateStatus sets the status of every session matching f.
	UpdateStatus(ctx context.Context, f SessionFilter, status SessionStatus) (int64, error)
	DeleteMany(ctx context.Context, f SessionFilter) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
