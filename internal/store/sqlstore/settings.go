package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// SettingsStore implements store.SettingsStore.
type SettingsStore struct{ *conn }

const settingsSelectCols = `id, instance_id, expire, keyword_finish, delay_message, unknown_message,
	listening_from_me, stop_bot_from_me, keep_open, debounce_time, ignore_jids, split_messages,
	time_per_char, fallback_bot_id, created_at, updated_at`

func (s *SettingsStore) Get(ctx context.Context, instanceID uuid.UUID) (*store.InstanceSettings, error) {
	var st store.InstanceSettings
	d := &st.BotDefaults
	err := s.queryRow(ctx, `SELECT `+settingsSelectCols+` FROM bot_settings WHERE instance_id = $1`, instanceID).Scan(
		&st.ID, &st.InstanceID, &d.Expire, &d.KeywordFinish, &d.DelayMessage, &d.UnknownMessage,
		&d.ListeningFromMe, &d.StopBotFromMe, &d.KeepOpen, &d.DebounceTime, s.d.scanStringArray(&d.IgnoreJIDs),
		&d.SplitMessages, &d.TimePerChar, &st.FallbackBotID, scanTime(&st.CreatedAt), scanTime(&st.UpdatedAt),
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// Upsert keys on instance_id; the row id is kept stable across updates.
func (s *SettingsStore) Upsert(ctx context.Context, st *store.InstanceSettings) error {
	if st.ID == uuid.Nil {
		st.ID = store.GenNewID()
	}
	now := time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	jids := st.IgnoreJIDs
	if jids == nil {
		jids = []string{}
	}
	d := st.BotDefaults
	_, err := s.exec(ctx,
		`INSERT INTO bot_settings (id, instance_id, expire, keyword_finish, delay_message, unknown_message,
		 listening_from_me, stop_bot_from_me, keep_open, debounce_time, ignore_jids, split_messages,
		 time_per_char, fallback_bot_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (instance_id) DO UPDATE SET
		   expire = EXCLUDED.expire,
		   keyword_finish = EXCLUDED.keyword_finish,
		   delay_message = EXCLUDED.delay_message,
		   unknown_message = EXCLUDED.unknown_message,
		   listening_from_me = EXCLUDED.listening_from_me,
		   stop_bot_from_me = EXCLUDED.stop_bot_from_me,
		   keep_open = EXCLUDED.keep_open,
		   debounce_time = EXCLUDED.debounce_time,
		   ignore_jids = EXCLUDED.ignore_jids,
		   split_messages = EXCLUDED.split_messages,
		   time_per_char = EXCLUDED.time_per_char,
		   fallback_bot_id = EXCLUDED.fallback_bot_id,
		   updated_at = EXCLUDED.updated_at`,
		st.ID, st.InstanceID, d.Expire, d.KeywordFinish, d.DelayMessage, d.UnknownMessage,
		d.ListeningFromMe, d.StopBotFromMe, d.KeepOpen, d.DebounceTime, s.d.stringArray(jids), d.SplitMessages,
		d.TimePerChar, nilUUID(st.FallbackBotID), dbTime(st.CreatedAt), dbTime(now),
	)
	return err
}

func (s *SettingsStore) SetIgnoreJIDs(ctx context.Context, instanceID uuid.UUID, jids []string) error {
	if jids == nil {
		jids = []string{}
	}
	res, err := s.exec(ctx,
		`UPDATE bot_settings SET ignore_jids = $1, updated_at = $2 WHERE instance_id = $3`,
		s.d.stringArray(jids), dbTime(time.Now()), instanceID,
	)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SettingsStore) ClearFallback(ctx context.Context, botID uuid.UUID) error {
	_, err := s.exec(ctx,
		`UPDATE bot_settings SET fallback_bot_id = NULL, updated_at = $1 WHERE fallback_bot_id = $2`,
		dbTime(time.Now()), botID,
	)
	return err
}
