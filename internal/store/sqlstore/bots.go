package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// BotStore implements store.BotStore.
type BotStore struct{ *conn }

const botSelectCols = `id, instance_id, enabled, description, api_url, api_key,
	trigger_type, trigger_operator, trigger_value,
	expire, keyword_finish, delay_message, unknown_message, listening_from_me, stop_bot_from_me,
	keep_open, debounce_time, ignore_jids, split_messages, time_per_char,
	created_at, updated_at`

func (s *BotStore) Create(ctx context.Context, b *store.Bot) error {
	if b.ID == uuid.Nil {
		b.ID = store.GenNewID()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	o := b.BotOverrides
	_, err := s.exec(ctx,
		`INSERT INTO bots (id, instance_id, enabled, description, api_url, api_key,
		 trigger_type, trigger_operator, trigger_value,
		 expire, keyword_finish, delay_message, unknown_message, listening_from_me, stop_bot_from_me,
		 keep_open, debounce_time, ignore_jids, split_messages, time_per_char, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		b.ID, b.InstanceID, b.Enabled, b.Description, b.APIURL, b.APIKey,
		string(b.Type), string(b.Operator), b.Value,
		o.Expire, o.KeywordFinish, o.DelayMessage, o.UnknownMessage, o.ListeningFromMe, o.StopBotFromMe,
		o.KeepOpen, o.DebounceTime, s.d.stringArray(o.IgnoreJIDs), o.SplitMessages, o.TimePerChar,
		dbTime(now), dbTime(now),
	)
	return err
}

func (s *BotStore) Get(ctx context.Context, id uuid.UUID) (*store.Bot, error) {
	return s.scanBot(s.queryRow(ctx, `SELECT `+botSelectCols+` FROM bots WHERE id = $1`, id))
}

func (s *BotStore) Update(ctx context.Context, b *store.Bot) error {
	b.UpdatedAt = time.Now()
	o := b.BotOverrides
	res, err := s.exec(ctx,
		`UPDATE bots SET enabled = $1, description = $2, api_url = $3, api_key = $4,
		 trigger_type = $5, trigger_operator = $6, trigger_value = $7,
		 expire = $8, keyword_finish = $9, delay_message = $10, unknown_message = $11,
		 listening_from_me = $12, stop_bot_from_me = $13, keep_open = $14, debounce_time = $15,
		 ignore_jids = $16, split_messages = $17, time_per_char = $18, updated_at = $19
		 WHERE id = $20`,
		b.Enabled, b.Description, b.APIURL, b.APIKey,
		string(b.Type), string(b.Operator), b.Value,
		o.Expire, o.KeywordFinish, o.DelayMessage, o.UnknownMessage,
		o.ListeningFromMe, o.StopBotFromMe, o.KeepOpen, o.DebounceTime,
		s.d.stringArray(o.IgnoreJIDs), o.SplitMessages, o.TimePerChar, dbTime(b.UpdatedAt),
		b.ID,
	)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *BotStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	return err
}

func (s *BotStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]store.Bot, error) {
	return s.list(ctx, `SELECT `+botSelectCols+` FROM bots WHERE instance_id = $1 ORDER BY created_at, id`, instanceID)
}

func (s *BotStore) ListEnabled(ctx context.Context, instanceID uuid.UUID) ([]store.Bot, error) {
	return s.list(ctx, `SELECT `+botSelectCols+` FROM bots WHERE instance_id = $1 AND enabled = $2 ORDER BY created_at, id`, instanceID, true)
}

func (s *BotStore) FindEnabledTriggerAll(ctx context.Context, instanceID, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(ctx,
		`SELECT `+botSelectCols+` FROM bots
		 WHERE instance_id = $1 AND enabled = $2 AND trigger_type = $3 AND id <> $4
		 ORDER BY created_at LIMIT 1`,
		instanceID, true, string(store.TriggerAll), excludeID)
}

func (s *BotStore) FindDuplicateTrigger(ctx context.Context, instanceID uuid.UUID, op store.TriggerOperator, value string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(ctx,
		`SELECT `+botSelectCols+` FROM bots
		 WHERE instance_id = $1 AND trigger_operator = $2 AND trigger_value = $3 AND id <> $4
		 ORDER BY created_at LIMIT 1`,
		instanceID, string(op), value, excludeID)
}

func (s *BotStore) FindDuplicateAdvanced(ctx context.Context, instanceID uuid.UUID, value string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(ctx,
		`SELECT `+botSelectCols+` FROM bots
		 WHERE instance_id = $1 AND trigger_type = $2 AND trigger_value = $3 AND id <> $4
		 ORDER BY created_at LIMIT 1`,
		instanceID, string(store.TriggerAdvanced), value, excludeID)
}

func (s *BotStore) FindDuplicateEndpoint(ctx context.Context, instanceID uuid.UUID, apiURL, apiKey string, excludeID uuid.UUID) (*store.Bot, error) {
	return s.findFirst(ctx,
		`SELECT `+botSelectCols+` FROM bots
		 WHERE instance_id = $1 AND api_url = $2 AND api_key = $3 AND id <> $4
		 ORDER BY created_at LIMIT 1`,
		instanceID, apiURL, apiKey, excludeID)
}

func (s *BotStore) findFirst(ctx context.Context, q string, args ...any) (*store.Bot, error) {
	b, err := s.scanBot(s.queryRow(ctx, q, args...))
	if err == store.ErrNotFound {
		return nil, nil
	}
	return b, err
}

func (s *BotStore) list(ctx context.Context, q string, args ...any) ([]store.Bot, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Bot
	for rows.Next() {
		b, err := s.scanBot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (s *BotStore) scanBot(row rowScanner) (*store.Bot, error) {
	var b store.Bot
	var trigType, trigOp string
	o := &b.BotOverrides
	err := row.Scan(
		&b.ID, &b.InstanceID, &b.Enabled, &b.Description, &b.APIURL, &b.APIKey,
		&trigType, &trigOp, &b.Value,
		&o.Expire, &o.KeywordFinish, &o.DelayMessage, &o.UnknownMessage, &o.ListeningFromMe, &o.StopBotFromMe,
		&o.KeepOpen, &o.DebounceTime, s.d.scanStringArray(&o.IgnoreJIDs), &o.SplitMessages, &o.TimePerChar,
		scanTime(&b.CreatedAt), scanTime(&b.UpdatedAt),
	)
	if err != nil {
		return nil, notFound(err)
	}
	b.Type = store.TriggerType(trigType)
	b.Operator = store.TriggerOperator(trigOp)
	return &b, nil
}
