// Package chatbot implements the management operations for bots, instance
// settings, sessions and ignore lists.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

// BotInput is the writable part of a bot. Nil overrides inherit the
// instance default.
type BotInput struct {
	Enabled     *bool  `json:"enabled,omitempty"` // nil: true on create, unchanged on update
	Description string `json:"description"`
	APIURL      string `json:"api_url"`
	APIKey      string `json:"api_key"`
	store.TriggerRule
	store.BotOverrides
}

// SettingsInput is the writable part of instance settings.
type SettingsInput struct {
	store.BotDefaults
	FallbackBotID *uuid.UUID `json:"fallback_bot_id,omitempty"`
}

// SettingsView is returned by GetSettings. Zero values are reported when
// the instance has no settings yet.
type SettingsView struct {
	store.BotDefaults
	FallbackBotID *uuid.UUID `json:"fallback_bot_id"`
	Fallback      *store.Bot `json:"fallback"`
}

// StatusAction is a session status change request.
type StatusAction string

const (
	StatusOpened StatusAction = "opened"
	StatusClosed StatusAction = "closed"
	StatusPaused StatusAction = "paused"
	StatusDelete StatusAction = "delete"
)

func (a StatusAction) Valid() bool {
	switch a {
	case StatusOpened, StatusClosed, StatusPaused, StatusDelete:
		return true
	}
	return false
}

// IgnoreAction adds or removes a conversation from the instance ignore list.
type IgnoreAction string

const (
	IgnoreAdd    IgnoreAction = "add"
	IgnoreRemove IgnoreAction = "remove"
)

// Service implements the management operations over the stores.
type Service struct {
	stores   *store.Stores
	sessions *sessions.Manager
	events   bus.EventPublisher // nil = no events
}

func NewService(stores *store.Stores, mgr *sessions.Manager, events bus.EventPublisher) *Service {
	if mgr == nil {
		mgr = sessions.NewManager(stores.Sessions)
	}
	return &Service{stores: stores, sessions: mgr, events: events}
}

// ---- instances ----

func (s *Service) CreateInstance(ctx context.Context, name, webhookURL string) (*store.Instance, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: instance name is required", ErrInvalid)
	}
	if _, err := s.stores.Instances.GetByName(ctx, name); err == nil {
		return nil, conflict(fmt.Sprintf("instance %q already exists", name))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	inst := &store.Instance{Name: name, WebhookURL: webhookURL}
	if err := s.stores.Instances.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	slog.Info("chatbot: instance created", "instance", name, "id", inst.ID)
	return inst, nil
}

func (s *Service) ListInstances(ctx context.Context) ([]store.Instance, error) {
	return s.stores.Instances.List(ctx)
}

// GetInstance resolves an instance by name.
func (s *Service) GetInstance(ctx context.Context, name string) (*store.Instance, error) {
	return s.instance(ctx, name)
}

func (s *Service) instance(ctx context.Context, name string) (*store.Instance, error) {
	inst, err := s.stores.Instances.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("instance %q: %w", name, err)
	}
	return inst, nil
}

// ---- bots ----

// CreateBot validates and stores a new bot. When the instance has no
// settings yet they are created from the bot's provided values.
func (s *Service) CreateBot(ctx context.Context, instanceName string, in BotInput) (*store.Bot, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	bot := &store.Bot{InstanceID: inst.ID, Enabled: true}
	applyInput(bot, in)
	if err := s.validate(ctx, bot, uuid.Nil); err != nil {
		return nil, err
	}

	if err := s.ensureSettings(ctx, inst.ID, bot.BotOverrides); err != nil {
		return nil, err
	}
	if err := s.stores.Bots.Create(ctx, bot); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	slog.Info("chatbot: bot created", "instance", instanceName, "bot", bot.ID, "trigger", bot.Type)
	s.publish(protocol.EventBotChanged, protocol.ConfigPayload{Instance: instanceName, BotID: bot.ID.String(), Op: "created"})
	return bot, nil
}

// FindBots lists the bots of an instance.
func (s *Service) FindBots(ctx context.Context, instanceName string) ([]store.Bot, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	return s.stores.Bots.ListByInstance(ctx, inst.ID)
}

// FetchBot returns a bot of the instance; bots of other instances are reported as not found.
func (s *Service) FetchBot(ctx context.Context, instanceName string, id uuid.UUID) (*store.Bot, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	return s.ownedBot(ctx, inst, id)
}

func (s *Service) ownedBot(ctx context.Context, inst *store.Instance, id uuid.UUID) (*store.Bot, error) {
	bot, err := s.stores.Bots.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", id, err)
	}
	if bot.InstanceID != inst.ID {
		return nil, fmt.Errorf("bot %s: %w", id, store.ErrNotFound)
	}
	return bot, nil
}

// UpdateBot replaces the writable fields of a bot.
func (s *Service) UpdateBot(ctx context.Context, instanceName string, id uuid.UUID, in BotInput) (*store.Bot, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	bot, err := s.ownedBot(ctx, inst, id)
	if err != nil {
		return nil, err
	}
	applyInput(bot, in)
	if err := s.validate(ctx, bot, bot.ID); err != nil {
		return nil, err
	}
	if err := s.stores.Bots.Update(ctx, bot); err != nil {
		return nil, fmt.Errorf("update bot: %w", err)
	}
	slog.Info("chatbot: bot updated", "instance", instanceName, "bot", bot.ID, "enabled", bot.Enabled)
	s.publish(protocol.EventBotChanged, protocol.ConfigPayload{Instance: instanceName, BotID: bot.ID.String(), Op: "updated"})
	return bot, nil
}

// DeleteBot removes a bot, every session it owns and any fallback reference to it.
func (s *Service) DeleteBot(ctx context.Context, instanceName string, id uuid.UUID) error {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return err
	}
	if _, err := s.ownedBot(ctx, inst, id); err != nil {
		return err
	}
	n, err := s.sessions.DeleteByBot(ctx, id)
	if err != nil {
		return err
	}
	if err := s.stores.Settings.ClearFallback(ctx, id); err != nil {
		return fmt.Errorf("clear fallback: %w", err)
	}
	if err := s.stores.Bots.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	slog.Info("chatbot: bot deleted", "instance", instanceName, "bot", id, "sessions", n)
	s.publish(protocol.EventBotChanged, protocol.ConfigPayload{Instance: instanceName, BotID: id.String(), Op: "deleted"})
	return nil
}

func applyInput(bot *store.Bot, in BotInput) {
	if in.Enabled != nil {
		bot.Enabled = *in.Enabled
	}
	bot.Description = in.Description
	bot.APIURL = in.APIURL
	bot.APIKey = in.APIKey
	bot.TriggerRule = in.TriggerRule
	if bot.Type != store.TriggerKeyword {
		bot.Operator = ""
	}
	bot.BotOverrides = in.BotOverrides
}

// validate enforces the per-instance bot constraints. excludeID is the bot
// being updated (uuid.Nil on create).
func (s *Service) validate(ctx context.Context, bot *store.Bot, excludeID uuid.UUID) error {
	if !bot.Type.Valid() {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalid, bot.Type)
	}
	if bot.APIURL == "" {
		return fmt.Errorf("%w: api_url is required", ErrInvalid)
	}

	if bot.Type == store.TriggerAll && bot.Enabled {
		other, err := s.stores.Bots.FindEnabledTriggerAll(ctx, bot.InstanceID, excludeID)
		if err != nil {
			return err
		}
		if other != nil {
			return conflict(`an enabled bot with an "all" trigger already exists; disable it first`)
		}
	}

	dup, err := s.stores.Bots.FindDuplicateEndpoint(ctx, bot.InstanceID, bot.APIURL, bot.APIKey, excludeID)
	if err != nil {
		return err
	}
	if dup != nil {
		return conflict("a bot with the same api_url and api_key already exists")
	}

	switch bot.Type {
	case store.TriggerKeyword:
		if bot.Operator == "" || bot.Value == "" {
			return conflict("trigger operator and value are required")
		}
		if !bot.Operator.Valid() {
			return fmt.Errorf("%w: unknown trigger operator %q", ErrInvalid, bot.Operator)
		}
		dup, err := s.stores.Bots.FindDuplicateTrigger(ctx, bot.InstanceID, bot.Operator, bot.Value, excludeID)
		if err != nil {
			return err
		}
		if dup != nil {
			return conflict("trigger already exists")
		}
	case store.TriggerAdvanced:
		if bot.Value == "" {
			return conflict("trigger value is required")
		}
		dup, err := s.stores.Bots.FindDuplicateAdvanced(ctx, bot.InstanceID, bot.Value, excludeID)
		if err != nil {
			return err
		}
		if dup != nil {
			return conflict("trigger already exists")
		}
	}
	return nil
}

// ensureSettings creates instance settings from o when none exist.
func (s *Service) ensureSettings(ctx context.Context, instanceID uuid.UUID, o store.BotOverrides) error {
	_, err := s.stores.Settings.Get(ctx, instanceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load settings: %w", err)
	}
	st := &store.InstanceSettings{InstanceID: instanceID, BotDefaults: defaultsFrom(o)}
	if err := s.stores.Settings.Upsert(ctx, st); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

func defaultsFrom(o store.BotOverrides) store.BotDefaults {
	d := store.BotDefaults{
		Expire:          deref(o.Expire),
		KeywordFinish:   deref(o.KeywordFinish),
		DelayMessage:    deref(o.DelayMessage),
		UnknownMessage:  deref(o.UnknownMessage),
		ListeningFromMe: deref(o.ListeningFromMe),
		StopBotFromMe:   deref(o.StopBotFromMe),
		KeepOpen:        deref(o.KeepOpen),
		DebounceTime:    deref(o.DebounceTime),
		IgnoreJIDs:      slices.Clone(o.IgnoreJIDs),
		SplitMessages:   deref(o.SplitMessages),
		TimePerChar:     deref(o.TimePerChar),
	}
	if d.IgnoreJIDs == nil {
		d.IgnoreJIDs = []string{}
	}
	return d
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// ---- settings ----

func (s *Service) GetSettings(ctx context.Context, instanceName string) (*SettingsView, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	st, err := s.stores.Settings.Get(ctx, inst.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &SettingsView{BotDefaults: store.BotDefaults{IgnoreJIDs: []string{}}}, nil
	}
	if err != nil {
		return nil, err
	}
	view := &SettingsView{BotDefaults: st.BotDefaults, FallbackBotID: st.FallbackBotID}
	if st.FallbackBotID != nil {
		fb, err := s.stores.Bots.Get(ctx, *st.FallbackBotID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		view.Fallback = fb
	}
	return view, nil
}

// SetSettings creates or replaces the instance defaults.
func (s *Service) SetSettings(ctx context.Context, instanceName string, in SettingsInput) (*store.InstanceSettings, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	if in.FallbackBotID != nil && *in.FallbackBotID == uuid.Nil {
		in.FallbackBotID = nil
	}
	if in.FallbackBotID != nil {
		if _, err := s.ownedBot(ctx, inst, *in.FallbackBotID); err != nil {
			return nil, fmt.Errorf("%w: fallback bot: %v", ErrInvalid, err)
		}
	}

	st, err := s.stores.Settings.Get(ctx, inst.ID)
	if errors.Is(err, store.ErrNotFound) {
		st = &store.InstanceSettings{InstanceID: inst.ID}
	} else if err != nil {
		return nil, err
	}
	st.BotDefaults = in.BotDefaults
	st.FallbackBotID = in.FallbackBotID
	if err := s.stores.Settings.Upsert(ctx, st); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	slog.Info("chatbot: settings saved", "instance", instanceName)
	s.publish(protocol.EventSettingsChanged, protocol.ConfigPayload{Instance: instanceName, Op: "updated"})
	return st, nil
}

// ---- sessions ----

// ChangeStatus applies action to every bot session of a conversation.
func (s *Service) ChangeStatus(ctx context.Context, instanceName, remoteJID string, action StatusAction) (int64, error) {
	if remoteJID == "" {
		return 0, fmt.Errorf("%w: remote_jid is required", ErrInvalid)
	}
	if !action.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, action)
	}
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return 0, err
	}

	n, err := s.applyStatus(ctx, inst.ID, remoteJID, action)
	if err != nil {
		return 0, err
	}

	slog.Info("chatbot: session status changed", "instance", instanceName, "remote_jid", remoteJID, "status", action, "count", n)
	name := protocol.EventSessionOpened
	switch action {
	case StatusClosed, StatusDelete:
		name = protocol.EventSessionClosed
	case StatusPaused:
		name = protocol.EventSessionPaused
	}
	s.publish(name, protocol.SessionPayload{Instance: instanceName, RemoteJID: remoteJID, Status: string(action)})
	return n, nil
}

func (s *Service) applyStatus(ctx context.Context, instanceID uuid.UUID, remoteJID string, action StatusAction) (int64, error) {
	if action == StatusDelete {
		return s.sessions.DeleteAll(ctx, instanceID, remoteJID)
	}
	keepOpen := false
	st, err := s.stores.Settings.Get(ctx, instanceID)
	switch {
	case err == nil:
		keepOpen = st.KeepOpen
	case !errors.Is(err, store.ErrNotFound):
		return 0, err
	}
	return s.sessions.SetStatus(ctx, instanceID, remoteJID, store.SessionStatus(action), keepOpen)
}

// FetchSessions lists webhook-bot sessions of the instance, optionally
// narrowed to one bot and one conversation.
func (s *Service) FetchSessions(ctx context.Context, instanceName string, botID uuid.UUID, remoteJID string) ([]store.Session, error) {
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	f := store.SessionFilter{InstanceID: inst.ID, RemoteJID: remoteJID, BotOnly: true, Type: store.SessionTypeWebhook}
	if botID != uuid.Nil {
		bot, err := s.stores.Bots.Get(ctx, botID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if bot != nil {
			if bot.InstanceID != inst.ID {
				return nil, fmt.Errorf("bot %s: %w", botID, store.ErrNotFound)
			}
			f.BotID = botID
		}
	}
	return s.sessions.List(ctx, f)
}

// ---- ignore list ----

// IgnoreJID edits the instance ignore list and returns the new list.
// The instance must already have settings.
func (s *Service) IgnoreJID(ctx context.Context, instanceName, remoteJID string, action IgnoreAction) ([]string, error) {
	if remoteJID == "" {
		return nil, fmt.Errorf("%w: remote_jid is required", ErrInvalid)
	}
	inst, err := s.instance(ctx, instanceName)
	if err != nil {
		return nil, err
	}
	st, err := s.stores.Settings.Get(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	jids := slices.Clone(st.IgnoreJIDs)
	switch action {
	case IgnoreAdd:
		if store.ContainsJID(jids, remoteJID) {
			return jids, nil
		}
		jids = append(jids, remoteJID)
	case IgnoreRemove:
		jids = slices.DeleteFunc(jids, func(j string) bool { return j == remoteJID })
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, action)
	}
	if jids == nil {
		jids = []string{}
	}
	if err := s.stores.Settings.SetIgnoreJIDs(ctx, inst.ID, jids); err != nil {
		return nil, fmt.Errorf("save ignore list: %w", err)
	}
	s.publish(protocol.EventSettingsChanged, protocol.ConfigPayload{Instance: instanceName, Op: "ignore_" + string(action)})
	return jids, nil
}

func (s *Service) publish(name string, payload any) {
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
