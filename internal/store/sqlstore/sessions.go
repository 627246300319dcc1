package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// SessionStore implements store.SessionStore.
type SessionStore struct{ *conn }

const sessionSelectCols = `id, instance_id, remote_jid, bot_id, status, await_user, type, context, created_at, updated_at`

func (s *SessionStore) Create(ctx context.Context, sess *store.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = store.GenNewID()
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = store.SessionOpened
	}
	_, err := s.exec(ctx,
		`INSERT INTO bot_sessions (id, instance_id, remote_jid, bot_id, status, await_user, type, context, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.InstanceID, sess.RemoteJID, nilUUID(sess.BotID), string(sess.Status),
		sess.AwaitUser, sess.Type, contextArg(sess.Context), dbTime(now), dbTime(now),
	)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	return scanSession(s.queryRow(ctx, `SELECT `+sessionSelectCols+` FROM bot_sessions WHERE id = $1`, id))
}

func (s *SessionStore) FindCurrent(ctx context.Context, f store.SessionFilter) (*store.Session, error) {
	w := sessionWhere(f)
	sess, err := scanSession(s.queryRow(ctx,
		`SELECT `+sessionSelectCols+` FROM bot_sessions`+w.String()+` ORDER BY created_at DESC, id DESC LIMIT 1`,
		w.args...))
	if err == store.ErrNotFound {
		return nil, nil
	}
	return sess, err
}

func (s *SessionStore) List(ctx context.Context, f store.SessionFilter) ([]store.Session, error) {
	w := sessionWhere(f)
	rows, err := s.query(ctx,
		`SELECT `+sessionSelectCols+` FROM bot_sessions`+w.String()+` ORDER BY created_at DESC, id DESC`,
		w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

func (s *SessionStore) Update(ctx context.Context, sess *store.Session) error {
	sess.UpdatedAt = time.Now()
	res, err := s.exec(ctx,
		`UPDATE bot_sessions SET status = $1, await_user = $2, context = $3, updated_at = $4 WHERE id = $5`,
		string(sess.Status), sess.AwaitUser, contextArg(sess.Context), dbTime(sess.UpdatedAt), sess.ID,
	)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SessionStore) UpdateStatus(ctx context.Context, f store.SessionFilter, status store.SessionStatus) (int64, error) {
	// SET placeholders come first so they keep ascending order.
	w := &whereBuilder{args: []any{string(status), dbTime(time.Now())}}
	appendSessionConds(w, f)
	res, err := s.exec(ctx, `UPDATE bot_sessions SET status = $1, updated_at = $2`+w.String(), w.args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (s *SessionStore) DeleteMany(ctx context.Context, f store.SessionFilter) (int64, error) {
	w := sessionWhere(f)
	res, err := s.exec(ctx, `DELETE FROM bot_sessions`+w.String(), w.args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.exec(ctx, `DELETE FROM bot_sessions WHERE id = $1`, id)
	return err
}

func sessionWhere(f store.SessionFilter) *whereBuilder {
	w := &whereBuilder{}
	appendSessionConds(w, f)
	return w
}

func appendSessionConds(w *whereBuilder, f store.SessionFilter) {
	if f.InstanceID != uuid.Nil {
		w.add("instance_id = %s", f.InstanceID)
	}
	if f.RemoteJID != "" {
		w.add("remote_jid = %s", f.RemoteJID)
	}
	if f.BotID != uuid.Nil {
		w.add("bot_id = %s", f.BotID)
	} else if f.BotOnly {
		w.raw("bot_id IS NOT NULL")
	}
	if f.Type != "" {
		w.add("type = %s", f.Type)
	}
	if f.NotClosed {
		w.add("status <> %s", string(store.SessionClosed))
	}
}

func contextArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanSession(row rowScanner) (*store.Session, error) {
	var sess store.Session
	var status string
	var ctxJSON sql.NullString
	err := row.Scan(
		&sess.ID, &sess.InstanceID, &sess.RemoteJID, &sess.BotID, &status, &sess.AwaitUser,
		&sess.Type, &ctxJSON, scanTime(&sess.CreatedAt), scanTime(&sess.UpdatedAt),
	)
	if err != nil {
		return nil, notFound(err)
	}
	sess.Status = store.SessionStatus(status)
	if ctxJSON.Valid && ctxJSON.String != "" {
		sess.Context = json.RawMessage(ctxJSON.String)
	}
	return &sess, nil
}
