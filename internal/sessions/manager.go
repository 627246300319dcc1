// Package sessions tracks per-conversation bot session state on top of store.SessionStore.
package sessions

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// Manager handles bot session lifecycle and lookup.
type Manager struct {
	store store.SessionStore
}

func NewManager(s store.SessionStore) *Manager {
	return &Manager{store: s}
}

func currentFilter(instanceID uuid.UUID, remoteJID string) store.SessionFilter {
	return store.SessionFilter{
		InstanceID: instanceID,
		RemoteJID:  remoteJID,
		BotOnly:    true,
		NotClosed:  true,
	}
}

// FindCurrent returns the most recent non-closed bot session of the
// conversation, or nil when there is none.
func (m *Manager) FindCurrent(ctx context.Context, instanceID uuid.UUID, remoteJID string) (*store.Session, error) {
	sess, err := m.store.FindCurrent(ctx, currentFilter(instanceID, remoteJID))
	if err != nil {
		return nil, fmt.Errorf("find current session: %w", err)
	}
	return sess, nil
}

// FindCurrentForBot is FindCurrent scoped to one bot.
func (m *Manager) FindCurrentForBot(ctx context.Context, instanceID uuid.UUID, remoteJID string, botID uuid.UUID) (*store.Session, error) {
	f := currentFilter(instanceID, remoteJID)
	f.BotID = botID
	sess, err := m.store.FindCurrent(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find current session for bot: %w", err)
	}
	return sess, nil
}

// Open returns the bot's current session for the conversation, creating an
// opened one (not yet awaiting the user) if none exists.
func (m *Manager) Open(ctx context.Context, instanceID uuid.UUID, remoteJID string, botID uuid.UUID) (*store.Session, error) {
	if sess, err := m.FindCurrentForBot(ctx, instanceID, remoteJID, botID); err != nil || sess != nil {
		return sess, err
	}
	sess := &store.Session{
		InstanceID: instanceID,
		RemoteJID:  remoteJID,
		BotID:      &botID,
		Status:     store.SessionOpened,
		Type:       store.SessionTypeWebhook,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// SetStatus applies status to every bot session of the conversation.
// Closing soft-closes when keepOpen is set and deletes the sessions otherwise.
// It returns the number of affected sessions.
func (m *Manager) SetStatus(ctx context.Context, instanceID uuid.UUID, remoteJID string, status store.SessionStatus, keepOpen bool) (int64, error) {
	f := store.SessionFilter{InstanceID: instanceID, RemoteJID: remoteJID, BotOnly: true}

	var (
		n   int64
		err error
	)
	switch status {
	case store.SessionClosed:
		if keepOpen {
			n, err = m.store.UpdateStatus(ctx, f, store.SessionClosed)
		} else {
			n, err = m.store.DeleteMany(ctx, f)
		}
	case store.SessionOpened, store.SessionPaused:
		n, err = m.store.UpdateStatus(ctx, f, status)
	default:
		return 0, fmt.Errorf("unknown session status %q", status)
	}
	if err != nil {
		return 0, fmt.Errorf("set session status %s: %w", status, err)
	}
	return n, nil
}

// Close ends one session, deleting it unless keepOpen is set.
func (m *Manager) Close(ctx context.Context, sess *store.Session, keepOpen bool) error {
	if !keepOpen {
		return m.store.Delete(ctx, sess.ID)
	}
	sess.Status = store.SessionClosed
	sess.AwaitUser = false
	return m.store.Update(ctx, sess)
}

// Pause marks a single session paused.
func (m *Manager) Pause(ctx context.Context, sess *store.Session) error {
	sess.Status = store.SessionPaused
	if err := m.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}
	return nil
}

// Save persists status, await flag and context of sess.
func (m *Manager) Save(ctx context.Context, sess *store.Session) error {
	return m.store.Update(ctx, sess)
}

// DeleteAll removes every bot session of the conversation.
func (m *Manager) DeleteAll(ctx context.Context, instanceID uuid.UUID, remoteJID string) (int64, error) {
	n, err := m.store.DeleteMany(ctx, store.SessionFilter{InstanceID: instanceID, RemoteJID: remoteJID, BotOnly: true})
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return n, nil
}

// DeleteByBot removes every session of a bot.
func (m *Manager) DeleteByBot(ctx context.Context, botID uuid.UUID) (int64, error) {
	n, err := m.store.DeleteMany(ctx, store.SessionFilter{BotID: botID})
	if err != nil {
		return 0, fmt.Errorf("delete bot sessions: %w", err)
	}
	return n, nil
}

// List returns sessions matching f, newest first.
func (m *Manager) List(ctx context.Context, f store.SessionFilter) ([]store.Session, error) {
	return m.store.List(ctx, f)
}

// Eligible reports whether a new message may be handed to the bot.
// A session that is not awaiting the user still has a bot turn in flight.
func Eligible(sess *store.Session) bool {
	return sess == nil || sess.AwaitUser
}
