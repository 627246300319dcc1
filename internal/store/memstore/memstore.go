// Package memstore is an in-process implementation of the store interfaces.
// It backs "memory" mode and is the fixture for package tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// db is the shared state of one in-memory backend.
type db struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]store.Instance
	bots      map[uuid.UUID]store.Bot
	settings  map[uuid.UUID]store.InstanceSettings // keyed by instance id
	sessions  map[uuid.UUID]store.Session
	// seq orders records created within the same clock tick.
	seq     int64
	created map[uuid.UUID]int64
}

// New returns an empty in-memory store set.
func New() *store.Stores {
	d := &db{
		instances: make(map[uuid.UUID]store.Instance),
		bots:      make(map[uuid.UUID]store.Bot),
		settings:  make(map[uuid.UUID]store.InstanceSettings),
		sessions:  make(map[uuid.UUID]store.Session),
		created:   make(map[uuid.UUID]int64),
	}
	return &store.Stores{
		Instances: &InstanceStore{d},
		Bots:      &BotStore{d},
		Settings:  &SettingsStore{d},
		Sessions:  &SessionStore{d},
		Close:     func() error { return nil },
	}
}

func (d *db) stamp(id uuid.UUID) {
	d.seq++
	d.created[id] = d.seq
}

// ---- instances ----

type InstanceStore struct{ *db }

func (s *InstanceStore) Create(_ context.Context, inst *store.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.Name == inst.Name {
			return fmt.Errorf("instance %q already exists: %w", inst.Name, store.ErrConflict)
		}
	}
	if inst.ID == uuid.Nil {
		inst.ID = store.GenNewID()
	}
	inst.CreatedAt = time.Now()
	s.instances[inst.ID] = *inst
	s.stamp(inst.ID)
	return nil
}

func (s *InstanceStore) Get(_ context.Context, id uuid.UUID) (*store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inst, nil
}

func (s *InstanceStore) GetByName(_ context.Context, name string) (*store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		if inst.Name == name {
			return &inst, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *InstanceStore) List(_ context.Context) ([]store.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]store.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ---- bots ----

type BotStore struct{ *db }

func cloneBot(b store.Bot) store.Bot {
	b.IgnoreJIDs = slices.Clone(b.IgnoreJIDs)
	return b
}

func (s *BotStore) Create(_ context.Context, b *store.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[b.InstanceID]; !ok {
		return fmt.Errorf("create bot: instance %s: %w", b.InstanceID, store.ErrNotFound)
	}
	if b.ID == uuid.Nil {
		b.ID = store.GenNewID()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bots[b.ID] = cloneBot(*b)
	s.stamp(b.ID)
	return nil
}

func (s *BotStore) Get(_ context.Context, id uuid.UUID) (*store.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	b = cloneBot(b)
	return &b, nil
}

func (s *BotStore) Update(_ context.Context, b *store.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.bots[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	b.InstanceID = old.InstanceID
	b.CreatedAt = old.CreatedAt
	b.UpdatedAt = time.Now()
	s.bots[b.ID] = cloneBot(*b)
	return nil
}

// Delete mirrors the SQL foreign keys: sessions of the bot are removed and
// a fallback reference is cleared.
func (s *BotStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
	delete(s.created, id)
	for sid, sess := range s.sessions {
		if sess.BotID != nil && *sess.BotID == id {
			delete(s.sessions, sid)
			delete(s.created, sid)
		}
	}
	for k, st := range s.settings {
		if st.FallbackBotID != nil && *st.FallbackBotID == id {
			st.FallbackBotID = nil
			s.settings[k] = st
		}
	}
	return nil
}

// sorted returns matching bots in creation order. Caller holds the lock.
func (s *BotStore) sorted(match func(store.Bot) bool) []store.Bot {
	var result []store.Bot
	for _, b := range s.bots {
		if match(b) {
			result = append(result, cloneBot(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return s.created[result[i].ID] < s.created[result[j].ID] })
	return result
}

func (s *BotStore) ListByInstance(_ context.Context, instanceID uuid.UUID) ([]store.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(b store.Bot) bool { return b.InstanceID == instanceID }), nil
}

func (s *BotStore) ListEnabled(_ context.Context, instanceID uuid.UUID) ([]store.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(b store.Bot) bool { return b.InstanceID == instanceID && b.Enabled }), nil
}

func (s *BotStore) findFirst(instanceID, excludeID uuid.UUID, match func(store.Bot) bool) *store.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.sorted(func(b store.Bot) bool {
		return b.InstanceID == instanceID && b.ID != excludeID && match(b)
	})
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

func (s *BotStore) FindEnabledTriggerAll(_ context.Context, instanceID, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(instanceID, excludeID, func(b store.Bot) bool {
		return b.Enabled && b.Type == store.TriggerAll
	}), nil
}

func (s *BotStore) FindDuplicateTrigger(_ context.Context, instanceID uuid.UUID, op store.TriggerOperator, value string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(instanceID, excludeID, func(b store.Bot) bool {
		return b.Type == store.TriggerKeyword && b.Operator == op && b.Value == value
	}), nil
}

func (s *BotStore) FindDuplicateAdvanced(_ context.Context, instanceID uuid.UUID, value string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(instanceID, excludeID, func(b store.Bot) bool {
		return b.Type == store.TriggerAdvanced && b.Value == value
	}), nil
}

func (s *BotStore) FindDuplicateEndpoint(_ context.Context, instanceID uuid.UUID, apiURL, apiKey string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(instanceID, excludeID, func(b store.Bot) bool {
		return b.APIURL == apiURL && b.APIKey == apiKey
	}), nil
}

// ---- settings ----

type SettingsStore struct{ *db }

func cloneSettings(st store.InstanceSettings) store.InstanceSettings {
	st.IgnoreJIDs = slices.Clone(st.IgnoreJIDs)
	if st.FallbackBotID != nil {
		id := *st.FallbackBotID
		st.FallbackBotID = &id
	}
	return st
}

func (s *SettingsStore) Get(_ context.Context, instanceID uuid.UUID) (*store.InstanceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[instanceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	st = cloneSettings(st)
	return &st, nil
}

func (s *SettingsStore) Upsert(_ context.Context, st *store.InstanceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if old, ok := s.settings[st.InstanceID]; ok {
		st.ID = old.ID
		st.CreatedAt = old.CreatedAt
	} else {
		if st.ID == uuid.Nil {
			st.ID = store.GenNewID()
		}
		st.CreatedAt = now
	}
	if st.IgnoreJIDs == nil {
		st.IgnoreJIDs = []string{}
	}
	st.UpdatedAt = now
	s.settings[st.InstanceID] = cloneSettings(*st)
	return nil
}

func (s *SettingsStore) SetIgnoreJIDs(_ context.Context, instanceID uuid.UUID, jids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[instanceID]
	if !ok {
		return store.ErrNotFound
	}
	if jids == nil {
		jids = []string{}
	}
	st.IgnoreJIDs = slices.Clone(jids)
	st.UpdatedAt = time.Now()
	s.settings[instanceID] = st
	return nil
}

func (s *SettingsStore) ClearFallback(_ context.Context, botID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, st := range s.settings {
		if st.FallbackBotID != nil && *st.FallbackBotID == botID {
			st.FallbackBotID = nil
			st.UpdatedAt = time.Now()
			s.settings[k] = st
		}
	}
	return nil
}

// ---- sessions ----

type SessionStore struct{ *db }

func cloneSession(sess store.Session) store.Session {
	sess.Context = slices.Clone(sess.Context)
	if sess.BotID != nil {
		id := *sess.BotID
		sess.BotID = &id
	}
	return sess
}

func matchSession(sess store.Session, f store.SessionFilter) bool {
	if f.InstanceID != uuid.Nil && sess.InstanceID != f.InstanceID {
		return false
	}
	if f.RemoteJID != "" && sess.RemoteJID != f.RemoteJID {
		return false
	}
	if f.BotID != uuid.Nil {
		if sess.BotID == nil || *sess.BotID != f.BotID {
			return false
		}
	} else if f.BotOnly && sess.BotID == nil {
		return false
	}
	if f.Type != "" && sess.Type != f.Type {
		return false
	}
	if f.NotClosed && sess.Status == store.SessionClosed {
		return false
	}
	return true
}

func (s *SessionStore) Create(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.BotID != nil {
		if _, ok := s.bots[*sess.BotID]; !ok {
			return fmt.Errorf("create session: bot %s: %w", *sess.BotID, store.ErrNotFound)
		}
	}
	if sess.ID == uuid.Nil {
		sess.ID = store.GenNewID()
	}
	if sess.Status == "" {
		sess.Status = store.SessionOpened
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = cloneSession(*sess)
	s.stamp(sess.ID)
	return nil
}

func (s *SessionStore) Get(_ context.Context, id uuid.UUID) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sess = cloneSession(sess)
	return &sess, nil
}

// newestFirst returns matching sessions, most recently created first. Caller holds the lock.
func (s *SessionStore) newestFirst(f store.SessionFilter) []store.Session {
	var result []store.Session
	for _, sess := range s.sessions {
		if matchSession(sess, f) {
			result = append(result, cloneSession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return s.created[result[i].ID] > s.created[result[j].ID] })
	return result
}

func (s *SessionStore) FindCurrent(_ context.Context, f store.SessionFilter) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.newestFirst(f)
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *SessionStore) List(_ context.Context, f store.SessionFilter) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(f), nil
}

func (s *SessionStore) Update(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.sessions[sess.ID]
	if !ok {
		return store.ErrNotFound
	}
	old.Status = sess.Status
	old.AwaitUser = sess.AwaitUser
	old.Context = slices.Clone(sess.Context)
	old.UpdatedAt = time.Now()
	sess.UpdatedAt = old.UpdatedAt
	s.sessions[sess.ID] = old
	return nil
}

func (s *SessionStore) UpdateStatus(_ context.Context, f store.SessionFilter, status store.SessionStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for id, sess := range s.sessions {
		if matchSession(sess, f) {
			sess.Status = status
			sess.UpdatedAt = now
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) DeleteMany(_ context.Context, f store.SessionFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if matchSession(sess, f) {
			delete(s.sessions, id)
			delete(s.created, id)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.created, id)
	return nil
}

// Touch rewrites a session's UpdatedAt. Tests use it to age sessions.
func (s *SessionStore) Touch(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.UpdatedAt = at
		s.sessions[id] = sess
	}
}
