package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BotDefaults holds concrete instance-level values for every overridable bot setting.
type BotDefaults struct {
	Expire          int      `json:"expire"`
	KeywordFinish   string   `json:"keyword_finish"`
	DelayMessage    int      `json:"delay_message"`
	UnknownMessage  string   `json:"unknown_message"`
	ListeningFromMe bool     `json:"listening_from_me"`
	StopBotFromMe   bool     `json:"stop_bot_from_me"`
	KeepOpen        bool     `json:"keep_open"`
	DebounceTime    int      `json:"debounce_time"`
	IgnoreJIDs      []string `json:"ignore_jids"`
	SplitMessages   bool     `json:"split_messages"`
	TimePerChar     int      `json:"time_per_char"`
}

// InstanceSettings are the per-instance defaults plus the fallback bot.
// At most one row exists per instance; it is created on first write.
type InstanceSettings struct {
	ID         uuid.UUID `json:"id"`
	InstanceID uuid.UUID `json:"instance_id"`
	BotDefaults
	FallbackBotID *uuid.UUID `json:"fallback_bot_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsIgnored reports whether jid is in the instance ignore list.
func (s *InstanceSettings) IsIgnored(jid string) bool {
	if s == nil {
		return false
	}
	return ContainsJID(s.IgnoreJIDs, jid)
}

// ContainsJID reports whether jid is present in list.
func ContainsJID(list []string, jid string) bool {
	for _, j := range list {
		if j == jid {
			return true
		}
	}
	return false
}

// SettingsStore manages instance settings.
type SettingsStore interface {
	// Get returns ErrNotFound when the instance has no settings yet.
	Get(ctx context.Context, instanceID uuid.UUID) (*InstanceSettings, error)
	// Upsert creates or replaces the settings row of s.InstanceID.
	Upsert(ctx context.Context, s *InstanceSettings) error
	// SetIgnoreJIDs replaces only the ignore list.
	SetIgnoreJIDs(ctx context.Context, instanceID uuid.UUID, jids []string) error
	// ClearFallback unsets the fallback bot when it points at botID.
	ClearFallback(ctx context.Context, botID uuid.UUID) error
}
