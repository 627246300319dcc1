package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

// DefaultSweepCron runs the expiry sweep every minute.
const DefaultSweepCron = "* * * * *"

// ExpiryPolicy returns the resolved expiry (0 = never) and keepOpen flag of a bot.
type ExpiryPolicy func(bot *store.Bot, settings *store.InstanceSettings) (expire time.Duration, keepOpen bool)

// Sweeper closes sessions idle for longer than their bot's expiry.
type Sweeper struct {
	cron     string
	sessions  store.SessionStore
	instances store.InstanceStore
	bots      store.BotStore
	settings  store.SettingsStore
	policy    ExpiryPolicy
	events    bus.EventPublisher // nil = no events
}

func NewSweeper(cron string, stores *store.Stores, policy ExpiryPolicy, events bus.EventPublisher) (*Sweeper, error) {
	if cron == "" {
		cron = DefaultSweepCron
	}
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", cron)
	}
	return &Sweeper{
		cron:      cron,
		sessions:  stores.Sessions,
		instances: stores.Instances,
		bots:      stores.Bots,
		settings:  stores.Settings,
		policy:    policy,
		events:    events,
	}, nil
}

// Run sweeps on every cron tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("sessions.sweep: started", "cron", s.cron)
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("sessions.sweep: stopped")
			return nil
		case now := <-timer.C:
			if n, err := s.Sweep(ctx, now); err != nil {
				slog.Warn("sessions.sweep: failed", "error", err)
			} else if n > 0 {
				slog.Info("sessions.sweep: expired sessions", "count", n)
			}
		}
	}
}

// Sweep expires every open bot session idle since before now minus its expiry.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	open, err := s.sessions.List(ctx, store.SessionFilter{BotOnly: true, NotClosed: true})
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}

	bots := make(map[uuid.UUID]*store.Bot)
	settings := make(map[uuid.UUID]*store.InstanceSettings)
	names := make(map[uuid.UUID]string)
	expired := 0
	for i := range open {
		sess := &open[i]
		bot, err := s.bot(ctx, bots, *sess.BotID)
		if err != nil {
			return expired, err
		}
		if bot == nil {
			continue
		}
		st, err := s.instanceSettings(ctx, settings, sess.InstanceID)
		if err != nil {
			return expired, err
		}

		expire, keepOpen := s.policy(bot, st)
		if expire <= 0 || now.Sub(sess.UpdatedAt) < expire {
			continue
		}
		if keepOpen {
			sess.Status = store.SessionClosed
			sess.AwaitUser = false
			err = s.sessions.Update(ctx, sess)
		} else {
			err = s.sessions.Delete(ctx, sess.ID)
		}
		if err != nil {
			return expired, fmt.Errorf("expire session %s: %w", sess.ID, err)
		}
		expired++
		if s.events != nil {
			s.events.Broadcast(bus.Event{Name: protocol.EventSessionExpired, Payload: protocol.SessionPayload{
				Instance:  s.instanceName(ctx, names, sess.InstanceID),
				RemoteJID: sess.RemoteJID,
				BotID:     bot.ID.String(),
				SessionID: sess.ID.String(),
				Status:    string(store.SessionClosed),
			}})
		}
	}
	return expired, nil
}

func (s *Sweeper) bot(ctx context.Context, cache map[uuid.UUID]*store.Bot, id uuid.UUID) (*store.Bot, error) {
	if b, ok := cache[id]; ok {
		return b, nil
	}
	b, err := s.bots.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		b, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", id, err)
	}
	cache[id] = b
	return b, nil
}

func (s *Sweeper) instanceSettings(ctx context.Context, cache map[uuid.UUID]*store.InstanceSettings, instanceID uuid.UUID) (*store.InstanceSettings, error) {
	if st, ok := cache[instanceID]; ok {
		return st, nil
	}
	st, err := s.settings.Get(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		st, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cache[instanceID] = st
	return st, nil
}

// instanceName returns the name events are routed by, or "" when the
// instance cannot be loaded.
func (s *Sweeper) instanceName(ctx context.Context, cache map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := cache[id]; ok {
		return name
	}
	var name string
	inst, err := s.instances.Get(ctx, id)
	switch {
	case err == nil:
		name = inst.Name
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("sessions.sweep: load instance", "instance_id", id, "error", err)
	}
	cache[id] = name
	return name
}
