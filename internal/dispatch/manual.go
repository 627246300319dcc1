package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/trigger"
)

// InvokeResult reports the outcome of ManualInvoke.
type InvokeResult struct {
	Triggered   bool              `json:"triggered"`
	Message     string            `json:"message"`
	BotID       uuid.UUID         `json:"bot_id"`
	TriggerType store.TriggerType `json:"trigger_type,omitempty"`
	RemoteJID   string            `json:"remote_jid"`
	MessageID   string            `json:"message_id"`
	Content     string            `json:"content"`
}

// ErrLanesClosed is returned by ManualInvoke once the engine is shutting down.
var ErrLanesClosed = errors.New("dispatch lanes closed")

// ManualInvoke runs a specific bot against a synthetic message, bypassing
// enabled-bot enumeration but not the session, trigger and own-message rules.
// Management errors (unknown instance, missing settings, unknown bot or bot of
// another instance) are returned; every other non-firing path, a disabled
// bot included, is a result with Triggered == false.
//
// With lanes configured the whole evaluation runs on the conversation's lane,
// after any earlier turn for it. The turn is detached from ctx: a caller that
// gives up gets ctx.Err() while the turn still completes.
func (e *Engine) ManualInvoke(ctx context.Context, instanceName string, botID uuid.UUID, msg bus.InboundMessage) (*InvokeResult, error) {
	if msg.MessageID == "" {
		msg.MessageID = newManualMessageID(time.Now())
	}
	msg.Instance = instanceName
	bg := context.WithoutCancel(ctx)
	if e.lanes == nil {
		return e.manualInvoke(bg, botID, msg)
	}

	type result struct {
		res *InvokeResult
		err error
	}
	done := make(chan result, 1)
	accepted := e.lanes.Submit(bus.DebounceKey(instanceName, msg.RemoteJID), func() {
		res, err := e.manualInvoke(bg, botID, msg)
		done <- result{res, err}
	})
	if !accepted {
		return nil, ErrLanesClosed
	}
	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) manualInvoke(ctx context.Context, botID uuid.UUID, msg bus.InboundMessage) (*InvokeResult, error) {
	instanceName := msg.Instance
	res := &InvokeResult{BotID: botID, RemoteJID: msg.RemoteJID, MessageID: msg.MessageID, Content: msg.Content}

	inst, err := e.instances.GetByName(ctx, instanceName)
	if err != nil {
		return nil, fmt.Errorf("instance %q: %w", instanceName, err)
	}
	settings, err := e.settings.Get(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("bot settings for instance %q: %w", instanceName, err)
	}
	if settings.IsIgnored(msg.RemoteJID) {
		res.Message = ReasonIgnored
		return res, nil
	}

	bot, err := e.bots.Get(ctx, botID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if bot == nil || bot.InstanceID != inst.ID {
		return nil, fmt.Errorf("bot %s: %w", botID, store.ErrNotFound)
	}
	res.TriggerType = bot.Type
	if !bot.Enabled {
		res.Message = ReasonBotDisabled
		return res, nil
	}

	session, err := e.sessions.FindCurrentForBot(ctx, inst.ID, msg.RemoteJID, bot.ID)
	if err != nil {
		return nil, err
	}

	cfg := Resolve(bot, settings)
	if session == nil {
		if cfg.Finishes(msg.Content) {
			res.Message = "finish keyword received but no active session exists"
			return res, nil
		}
		ok, err := trigger.Match(msg.Content, bot.TriggerRule)
		if err != nil {
			slog.Warn("dispatch: invalid trigger pattern", "bot", bot.ID, "error", err)
		}
		if !ok {
			res.Message = "trigger conditions not met for new session"
			return res, nil
		}
	}

	out, stop, err := e.gate(ctx, msg, bot, session, cfg)
	if err != nil {
		return nil, err
	}
	if stop {
		res.Message = out.Reason
		return res, nil
	}
	if session != nil && session.Status == store.SessionPaused {
		res.Message = ReasonSessionPaused
		return res, nil
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
	e.submit(ctx, req)
	res.Triggered = true
	res.Message = "bot invoked"
	return res, nil
}

// newManualMessageID builds ids of the form manual-<unix ms>-<9 chars>.
func newManualMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("manual-%d-%s", now.UnixMilli(), suffix)
}
