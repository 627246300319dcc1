package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/store/memstore"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

type fixture struct {
	stores *store.Stores
	inst   *store.Instance
	bot    *store.Bot
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	inst := &store.Instance{Name: "main"}
	if err := s.Instances.Create(ctx, inst); err != nil {
		t.Fatal(err)
	}
	bot := &store.Bot{InstanceID: inst.ID, Enabled: true, TriggerRule: store.TriggerRule{Type: store.TriggerAll}}
	if err := s.Bots.Create(ctx, bot); err != nil {
		t.Fatal(err)
	}
	return &fixture{stores: s, inst: inst, bot: bot, mgr: NewManager(s.Sessions)}
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.Open(ctx, f.inst.ID, "u@s", f.bot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != store.SessionOpened || first.AwaitUser {
		t.Errorf("new session = %+v, want opened and not awaiting", first)
	}
	second, err := f.mgr.Open(ctx, f.inst.ID, "u@s", f.bot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("Open created a second session")
	}
}

func TestManager_SetStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    store.SessionStatus
		keepOpen  bool
		wantLeft  int
		wantState store.SessionStatus
	}{
		{"close keepOpen soft-closes", store.SessionClosed, true, 1, store.SessionClosed},
		{"close without keepOpen deletes", store.SessionClosed, false, 0, ""},
		{"pause", store.SessionPaused, false, 1, store.SessionPaused},
		{"reopen", store.SessionOpened, false, 1, store.SessionOpened},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.mgr.Open(ctx, f.inst.ID, "u@s", f.bot.ID); err != nil {
				t.Fatal(err)
			}
			if _, err := f.mgr.SetStatus(ctx, f.inst.ID, "u@s", tt.status, tt.keepOpen); err != nil {
				t.Fatalf("SetStatus: %v", err)
			}
			left, _ := f.mgr.List(ctx, store.SessionFilter{InstanceID: f.inst.ID})
			if len(left) != tt.wantLeft {
				t.Fatalf("sessions left = %d, want %d", len(left), tt.wantLeft)
			}
			if tt.wantLeft > 0 && left[0].Status != tt.wantState {
				t.Errorf("status = %s, want %s", left[0].Status, tt.wantState)
			}
		})
	}
}

func TestManager_FindCurrentSkipsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _ := f.mgr.Open(ctx, f.inst.ID, "u@s", f.bot.ID)
	if err := f.mgr.Close(ctx, sess, true); err != nil {
		t.Fatal(err)
	}
	cur, err := f.mgr.FindCurrent(ctx, f.inst.ID, "u@s")
	if err != nil {
		t.Fatal(err)
	}
	if cur != nil {
		t.Errorf("closed session returned as current")
	}
}

func TestEligible(t *testing.T) {
	if !Eligible(nil) {
		t.Error("no session must be eligible")
	}
	if Eligible(&store.Session{AwaitUser: false}) {
		t.Error("session with a bot turn in flight must not be eligible")
	}
	if !Eligible(&store.Session{AwaitUser: true}) {
		t.Error("session awaiting user must be eligible")
	}
}

func TestSweeper_ExpiresIdleSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle, _ := f.mgr.Open(ctx, f.inst.ID, "idle@s", f.bot.ID)
	fresh, _ := f.mgr.Open(ctx, f.inst.ID, "fresh@s", f.bot.ID)
	now := time.Now()
	f.stores.Sessions.(*memstore.SessionStore).Touch(idle.ID, now.Add(-10*time.Minute))

	policy := func(*store.Bot, *store.InstanceSettings) (time.Duration, bool) { return 5 * time.Minute, false }
	sw, err := NewSweeper("", f.stores, policy, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := sw.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d sessions, want 1", n)
	}
	if _, err := f.stores.Sessions.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
	if _, err := f.stores.Sessions.Get(ctx, idle.ID); err == nil {
		t.Errorf("idle session should be deleted")
	}
}

func TestSweeper_ExpiryEventCarriesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.mgr.Open(ctx, f.inst.ID, "a@s", f.bot.ID)
	b, _ := f.mgr.Open(ctx, f.inst.ID, "b@s", f.bot.ID)
	now := time.Now()
	f.stores.Sessions.(*memstore.SessionStore).Touch(a.ID, now.Add(-10*time.Minute))
	f.stores.Sessions.(*memstore.SessionStore).Touch(b.ID, now.Add(-10*time.Minute))

	events := bus.New()
	var got []protocol.SessionPayload
	events.Subscribe("test", func(ev bus.Event) {
		if ev.Name != protocol.EventSessionExpired {
			return
		}
		got = append(got, ev.Payload.(protocol.SessionPayload))
	})

	policy := func(*store.Bot, *store.InstanceSettings) (time.Duration, bool) { return 5 * time.Minute, true }
	sw, err := NewSweeper("", f.stores, policy, events)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d expiry events, want 2", len(got))
	}
	for _, p := range got {
		if p.Instance != "main" {
			t.Errorf("payload instance = %q, want main", p.Instance)
		}
		if p.Status != string(store.SessionClosed) {
			t.Errorf("payload status = %q", p.Status)
		}
	}
}

func TestNewSweeper_RejectsBadCron(t *testing.T) {
	f := newFixture(t)
	if _, err := NewSweeper("not a cron", f.stores, nil, nil); err == nil {
		t.Error("expected error for invalid cron")
	}
}
