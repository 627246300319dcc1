// Package dispatch decides, per inbound message, whether a bot fires, which
// bot, and with what effective configuration.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/trigger"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

// Request is everything the bot executor needs to run one turn.
type Request struct {
	Instance  *store.Instance
	RemoteJID string
	MessageID string
	Bot       *store.Bot
	Session   *store.Session // nil = start a new session
	Config    EffectiveConfig
	Content   string
	PushName  string
	Quoted    map[string]any
}

// Executor runs a bot turn. It owns session creation, advancement and closing.
type Executor interface {
	ProcessBot(ctx context.Context, req Request) error
}

// Action is the terminal state of one dispatch.
type Action string

const (
	ActionDropped   Action = "dropped"
	ActionFired     Action = "fired"     // new session via trigger match
	ActionFallback  Action = "fallback"  // new session via instance fallback bot
	ActionContinued Action = "continued" // existing session
	ActionPaused    Action = "paused"    // session paused by own message
	ActionDebounced Action = "debounced" // handed to the debouncer
	ActionError     Action = "error"
)

// Outcome reports what Emit did with a message.
type Outcome struct {
	Action Action    `json:"action"`
	BotID  uuid.UUID `json:"bot_id"`
	Reason string    `json:"reason,omitempty"`
}

// Drop reasons.
const (
	ReasonUnknownInstance = "unknown instance"
	ReasonIgnored         = "conversation is in ignore list"
	ReasonNoMatch         = "no trigger matched"
	ReasonBotMissing      = "bot not found"
	ReasonStoppedFromMe   = "stopped by own message"
	ReasonNotListening    = "not listening to own messages"
	ReasonNotAwaiting     = "session not awaiting user"
	ReasonSessionPaused   = "session is paused"
	ReasonBotDisabled     = "bot is disabled"
)

// Engine is the dispatch state machine.
type Engine struct {
	instances store.InstanceStore
	bots      store.BotStore
	settings  store.SettingsStore
	sessions  *sessions.Manager
	debouncer *bus.Debouncer
	lanes     *Lanes             // nil = debounced turns run on the timer goroutine
	executor  Executor
	events    bus.EventPublisher // nil = no events
	tracer    trace.Tracer
}

// Config wires an Engine.
type Config struct {
	Stores    *store.Stores
	Sessions  *sessions.Manager
	Debouncer *bus.Debouncer
	Lanes     *Lanes
	Executor  Executor
	Events    bus.EventPublisher
}

func NewEngine(cfg Config) *Engine {
	mgr := cfg.Sessions
	if mgr == nil {
		mgr = sessions.NewManager(cfg.Stores.Sessions)
	}
	deb := cfg.Debouncer
	if deb == nil {
		deb = bus.NewDebouncer()
	}
	return &Engine{
		instances: cfg.Stores.Instances,
		bots:      cfg.Stores.Bots,
		settings:  cfg.Stores.Settings,
		sessions:  mgr,
		debouncer: deb,
		lanes:     cfg.Lanes,
		executor:  cfg.Executor,
		events:    cfg.Events,
		tracer:    otel.Tracer("github.com/nextlevelbuilder/botrelay/internal/dispatch"),
	}
}

// Emit dispatches one inbound message. Storage failures are logged and
// reported as ActionError; they never propagate to the caller.
func (e *Engine) Emit(ctx context.Context, msg bus.InboundMessage) Outcome {
	ctx, span := e.tracer.Start(ctx, "dispatch.emit", trace.WithAttributes(
		attribute.String("instance", msg.Instance),
		attribute.String("conversation", msg.RemoteJID),
		attribute.Bool("from_me", msg.FromMe),
	))
	defer span.End()

	out, err := e.emit(ctx, msg)
	if err != nil {
		slog.Error("dispatch: storage failure", "instance", msg.Instance, "remote_jid", msg.RemoteJID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out = Outcome{Action: ActionError, Reason: err.Error()}
	}
	span.SetAttributes(attribute.String("action", string(out.Action)))
	if out.BotID != uuid.Nil {
		span.SetAttributes(attribute.String("bot_id", out.BotID.String()))
	}
	e.publishOutcome(msg, out)
	return out
}

func (e *Engine) emit(ctx context.Context, msg bus.InboundMessage) (Outcome, error) {
	inst, err := e.instances.GetByName(ctx, msg.Instance)
	if errors.Is(err, store.ErrNotFound) {
		return dropped(ReasonUnknownInstance), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load instance: %w", err)
	}

	settings, err := e.loadSettings(ctx, inst.ID)
	if err != nil {
		return Outcome{}, err
	}
	if settings.IsIgnored(msg.RemoteJID) {
		return dropped(ReasonIgnored), nil
	}

	session, err := e.sessions.FindCurrent(ctx, inst.ID, msg.RemoteJID)
	if err != nil {
		return Outcome{}, err
	}

	bot, action, err := e.selectBot(ctx, inst, settings, session, msg.Content)
	if err != nil {
		return Outcome{}, err
	}
	if bot == nil {
		reason := ReasonNoMatch
		if session != nil {
			reason = ReasonBotMissing
		}
		return dropped(reason), nil
	}

	cfg := Resolve(bot, settings)
	if store.ContainsJID(cfg.IgnoreJIDs, msg.RemoteJID) {
		return Outcome{Action: ActionDropped, BotID: bot.ID, Reason: ReasonIgnored}, nil
	}

	if out, stop, err := e.gate(ctx, msg, bot, session, cfg); stop || err != nil {
		return out, err
	}

	req := Request{
		Instance:  inst,
		RemoteJID: msg.RemoteJID,
		MessageID: msg.MessageID,
		Bot:       bot,
		Session:   session,
		Config:    cfg,
		Content:   msg.Content,
		PushName:  msg.PushName,
		Quoted:    msg.Quoted,
	}
	if e.submit(ctx, req) {
		return Outcome{Action: ActionDebounced, BotID: bot.ID}, nil
	}
	return Outcome{Action: action, BotID: bot.ID}, nil
}

// selectBot continues the session's bot when a session exists; otherwise the
// first enabled bot whose trigger matches, then the instance fallback.
func (e *Engine) selectBot(ctx context.Context, inst *store.Instance, settings *store.InstanceSettings, session *store.Session, content string) (*store.Bot, Action, error) {
	if session != nil {
		bot, err := e.getBot(ctx, *session.BotID)
		return bot, ActionContinued, err
	}

	enabled, err := e.bots.ListEnabled(ctx, inst.ID)
	if err != nil {
		return nil, "", fmt.Errorf("list enabled bots: %w", err)
	}
	for i := range enabled {
		ok, err := trigger.Match(content, enabled[i].TriggerRule)
		if err != nil {
			slog.Warn("dispatch: invalid trigger pattern", "bot", enabled[i].ID, "error", err)
			continue
		}
		if ok {
			return &enabled[i], ActionFired, nil
		}
	}

	if settings == nil || settings.FallbackBotID == nil {
		return nil, "", nil
	}
	bot, err := e.getBot(ctx, *settings.FallbackBotID)
	return bot, ActionFallback, err
}

// gate applies the own-message and floor rules shared by Emit and ManualInvoke.
// stop reports a terminal outcome.
func (e *Engine) gate(ctx context.Context, msg bus.InboundMessage, bot *store.Bot, session *store.Session, cfg EffectiveConfig) (Outcome, bool, error) {
	if msg.FromMe && cfg.StopBotFromMe && session != nil {
		if err := e.sessions.Pause(ctx, session); err != nil {
			return Outcome{}, true, err
		}
		if e.events != nil {
			e.events.Broadcast(bus.Event{Name: protocol.EventSessionPaused, Payload: protocol.SessionPayload{
				Instance:  msg.Instance,
				RemoteJID: msg.RemoteJID,
				BotID:     bot.ID.String(),
				SessionID: session.ID.String(),
				Status:    string(store.SessionPaused),
			}})
		}
		return Outcome{Action: ActionPaused, BotID: bot.ID, Reason: ReasonStoppedFromMe}, true, nil
	}
	if msg.FromMe && !cfg.ListeningFromMe {
		return Outcome{Action: ActionDropped, BotID: bot.ID, Reason: ReasonNotListening}, true, nil
	}
	if !sessions.Eligible(session) {
		return Outcome{Action: ActionDropped, BotID: bot.ID, Reason: ReasonNotAwaiting}, true, nil
	}
	return Outcome{}, false, nil
}

// submit hands req to the debouncer when a window is configured and reports
// whether it did; otherwise the executor runs synchronously.
func (e *Engine) submit(ctx context.Context, req Request) bool {
	window := req.Config.DebounceWindow()
	key := bus.DebounceKey(req.Instance.Name, req.RemoteJID)
	if window <= 0 {
		e.invoke(ctx, req)
		return false
	}

	// The turn outlives the caller's request context.
	bg := context.WithoutCancel(ctx)
	e.debouncer.Push(key, req.Content, window, func(content string) {
		r := req
		r.Content = content
		if e.lanes != nil {
			if !e.lanes.Submit(key, func() { e.invoke(bg, r) }) {
				slog.Warn("dispatch: lanes closed, debounced turn dropped", "key", key, "bot", r.Bot.ID)
			}
			return
		}
		e.invoke(bg, r)
	})
	return true
}

func (e *Engine) invoke(ctx context.Context, req Request) {
	if e.executor == nil {
		slog.Warn("dispatch: no executor configured", "bot", req.Bot.ID)
		return
	}
	if err := e.executor.ProcessBot(ctx, req); err != nil {
		slog.Error("dispatch: executor failed",
			"instance", req.Instance.Name, "remote_jid", req.RemoteJID, "bot", req.Bot.ID, "error", err)
	}
}

func (e *Engine) loadSettings(ctx context.Context, instanceID uuid.UUID) (*store.InstanceSettings, error) {
	st, err := e.settings.Get(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return st, nil
}

// getBot returns nil without error when the bot no longer exists.
func (e *Engine) getBot(ctx context.Context, id uuid.UUID) (*store.Bot, error) {
	bot, err := e.bots.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", id, err)
	}
	return bot, nil
}

func (e *Engine) publishOutcome(msg bus.InboundMessage, out Outcome) {
	if e.events == nil || out.Action == ActionPaused {
		return
	}
	name := protocol.EventBotFired
	if out.Action == ActionDropped || out.Action == ActionError {
		name = protocol.EventDispatchDropped
	}
	payload := protocol.DispatchPayload{
		Instance:  msg.Instance,
		RemoteJID: msg.RemoteJID,
		Action:    string(out.Action),
		Reason:    out.Reason,
	}
	if out.BotID != uuid.Nil {
		payload.BotID = out.BotID.String()
	}
	e.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func dropped(reason string) Outcome {
	return Outcome{Action: ActionDropped, Reason: reason}
}
