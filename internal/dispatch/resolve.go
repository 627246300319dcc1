package dispatch

import (
	"slices"
	"strings"
	"time"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// EffectiveConfig is the per-dispatch merge of bot overrides over instance defaults.
type EffectiveConfig struct {
	Expire          int      `json:"expire"` // minutes, 0 = never
	KeywordFinish   string   `json:"keyword_finish"`
	DelayMessage    int      `json:"delay_message"` // ms
	UnknownMessage  string   `json:"unknown_message"`
	ListeningFromMe bool     `json:"listening_from_me"`
	StopBotFromMe   bool     `json:"stop_bot_from_me"`
	KeepOpen        bool     `json:"keep_open"`
	DebounceTime    int      `json:"debounce_time"` // seconds
	IgnoreJIDs      []string `json:"ignore_jids"`
	SplitMessages   bool     `json:"split_messages"`
	TimePerChar     int      `json:"time_per_char"` // ms
}

// DebounceWindow is DebounceTime as a duration.
func (c EffectiveConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceTime) * time.Second
}

// ExpireAfter is Expire as a duration; 0 disables expiry.
func (c EffectiveConfig) ExpireAfter() time.Duration {
	return time.Duration(c.Expire) * time.Minute
}

// Finishes reports whether content is the finish keyword. The match is
// case-sensitive, like keyword triggers, after trimming surrounding space.
func (c EffectiveConfig) Finishes(content string) bool {
	return c.KeywordFinish != "" && strings.TrimSpace(content) == c.KeywordFinish
}

// pick returns the override when set, else the default.
func pick[T any](override *T, def T) T {
	if override != nil {
		return *override
	}
	return def
}

// Resolve merges each field independently: the bot override when set, else
// the instance default, else the zero value. bot and settings may be nil.
func Resolve(bot *store.Bot, settings *store.InstanceSettings) EffectiveConfig {
	var def store.BotDefaults
	if settings != nil {
		def = settings.BotDefaults
	}
	var o store.BotOverrides
	if bot != nil {
		o = bot.BotOverrides
	}

	ignore := def.IgnoreJIDs
	if o.IgnoreJIDs != nil {
		ignore = o.IgnoreJIDs
	}

	return EffectiveConfig{
		Expire:          pick(o.Expire, def.Expire),
		KeywordFinish:   pick(o.KeywordFinish, def.KeywordFinish),
		DelayMessage:    pick(o.DelayMessage, def.DelayMessage),
		UnknownMessage:  pick(o.UnknownMessage, def.UnknownMessage),
		ListeningFromMe: pick(o.ListeningFromMe, def.ListeningFromMe),
		StopBotFromMe:   pick(o.StopBotFromMe, def.StopBotFromMe),
		KeepOpen:        pick(o.KeepOpen, def.KeepOpen),
		DebounceTime:    pick(o.DebounceTime, def.DebounceTime),
		IgnoreJIDs:      slices.Clone(ignore),
		SplitMessages:   pick(o.SplitMessages, def.SplitMessages),
		TimePerChar:     pick(o.TimePerChar, def.TimePerChar),
	}
}

// ExpiryPolicy adapts Resolve for the session sweeper.
func ExpiryPolicy(bot *store.Bot, settings *store.InstanceSettings) (time.Duration, bool) {
	cfg := Resolve(bot, settings)
	return cfg.ExpireAfter(), cfg.KeepOpen
}
