package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TriggerType selects how a bot decides to start a new conversation.
type TriggerType string

const (
	TriggerAll      TriggerType = "all"      // fires on every message
	TriggerKeyword  TriggerType = "keyword"  // operator + value against message content
	TriggerAdvanced TriggerType = "advanced" // boolean query over message content
	TriggerNone     TriggerType = "none"     // never starts a conversation on its own
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerAll, TriggerKeyword, TriggerAdvanced, TriggerNone:
		return true
	}
	return false
}

// TriggerOperator is the comparison applied by keyword triggers.
type TriggerOperator string

const (
	OpEquals     TriggerOperator = "equals"
	OpContains   TriggerOperator = "contains"
	OpStartsWith TriggerOperator = "startsWith"
	OpEndsWith   TriggerOperator = "endsWith"
	OpRegex      TriggerOperator = "regex"
)

// Valid reports whether op is a known operator.
func (op TriggerOperator) Valid() bool {
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex:
		return true
	}
	return false
}

// TriggerRule is the activation rule of a bot.
type TriggerRule struct {
	Type     TriggerType     `json:"trigger_type"`
	Operator TriggerOperator `json:"trigger_operator,omitempty"`
	Value    string          `json:"trigger_value,omitempty"`
}

// BotOverrides holds the per-bot session-behaviour settings.
// A nil field (or nil IgnoreJIDs) inherits the instance default.
type BotOverrides struct {
	Expire          *int     `json:"expire,omitempty"`        // minutes of inactivity before a session expires
	KeywordFinish   *string  `json:"keyword_finish,omitempty"` // message that closes the session
	DelayMessage    *int     `json:"delay_message,omitempty"`  // ms between outgoing messages
	UnknownMessage  *string  `json:"unknown_message,omitempty"`
	ListeningFromMe *bool    `json:"listening_from_me,omitempty"`
	StopBotFromMe   *bool    `json:"stop_bot_from_me,omitempty"`
	KeepOpen        *bool    `json:"keep_open,omitempty"`
	DebounceTime    *int     `json:"debounce_time,omitempty"` // seconds
	IgnoreJIDs      []string `json:"ignore_jids,omitempty"`
	SplitMessages   *bool    `json:"split_messages,omitempty"`
	TimePerChar     *int     `json:"time_per_char,omitempty"` // ms of typing delay per character
}

// Bot is a configured webhook bot attached to an instance.
type Bot struct {
	ID          uuid.UUID `json:"id"`
	InstanceID  uuid.UUID `json:"instance_id"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	APIURL      string    `json:"api_url"`
	APIKey      string    `json:"api_key,omitempty"`
	TriggerRule
	BotOverrides
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BotStore manages bot records. Lookups return ErrNotFound when absent;
// the Find* conflict lookups return (nil, nil) when nothing matches.
type BotStore interface {
	Create(ctx context.Context, bot *Bot) error
	Get(ctx context.Context, id uuid.UUID) (*Bot, error)
	Update(ctx context.Context, bot *Bot) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByInstance returns every bot of the instance ordered by creation time.
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]Bot, error)
	// ListEnabled returns enabled bots in trigger-evaluation order (creation time).
	ListEnabled(ctx context.Context, instanceID uuid.UUID) ([]Bot, error)

	// FindEnabledTriggerAll returns an enabled "all" bot other than excludeID.
	FindEnabledTriggerAll(ctx context.Context, instanceID, excludeID uuid.UUID) (*Bot, error)
	// FindDuplicateTrigger returns a bot with the same keyword operator and value.
	FindDuplicateTrigger(ctx context.Context, instanceID uuid.UUID, op TriggerOperator, value string, excludeID uuid.UUID) (*Bot, error)
	// FindDuplicateAdvanced returns a bot with the same advanced trigger value.
	FindDuplicateAdvanced(ctx context.Context, instanceID uuid.UUID, value string, excludeID uuid.UUID) (*Bot, error)
	// FindDuplicateEndpoint returns a bot pointing at the same api url and key.
	FindDuplicateEndpoint(ctx context.Context, instanceID uuid.UUID, apiURL, apiKey string, excludeID uuid.UUID) (*Bot, error)
}
