package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/store/memstore"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

type recordingExecutor struct {
	mu   sync.Mutex
	reqs []Request
	ch   chan Request
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{ch: make(chan Request, 16)}
}

func (r *recordingExecutor) ProcessBot(_ context.Context, req Request) error {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.ch <- req
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type engineFixture struct {
	stores *store.Stores
	inst   *store.Instance
	exec   *recordingExecutor
	engine *Engine
	events *bus.MessageBus
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	s := memstore.New()
	inst := &store.Instance{Name: "main"}
	if err := s.Instances.Create(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	exec := newRecordingExecutor()
	events := bus.New()
	deb := bus.NewDebouncer()
	t.Cleanup(deb.Stop)
	return &engineFixture{
		stores: s,
		inst:   inst,
		exec:   exec,
		events: events,
		engine: NewEngine(Config{Stores: s, Debouncer: deb, Executor: exec, Events: events}),
	}
}

func (f *engineFixture) addBot(t *testing.T, rule store.TriggerRule, o store.BotOverrides) *store.Bot {
	t.Helper()
	b := &store.Bot{InstanceID: f.inst.ID, Enabled: true, TriggerRule: rule, BotOverrides: o}
	if err := f.stores.Bots.Create(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return b
}

func (f *engineFixture) setSettings(t *testing.T, st store.InstanceSettings) {
	t.Helper()
	st.InstanceID = f.inst.ID
	if err := f.stores.Settings.Upsert(context.Background(), &st); err != nil {
		t.Fatal(err)
	}
}

func (f *engineFixture) openSession(t *testing.T, bot *store.Bot, jid string, awaitUser bool, status store.SessionStatus) *store.Session {
	t.Helper()
	sess := &store.Session{InstanceID: f.inst.ID, RemoteJID: jid, BotID: &bot.ID, Status: status, AwaitUser: awaitUser}
	if err := f.stores.Sessions.Create(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func msg(jid, content string) bus.InboundMessage {
	return bus.InboundMessage{Instance: "main", RemoteJID: jid, Content: content, PushName: "Ana"}
}

func TestEmit_TriggerMatchFires(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpEquals, Value: "menu"}, store.BotOverrides{})
	orders := f.addBot(t, store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpContains, Value: "order"}, store.BotOverrides{})

	out := f.engine.Emit(context.Background(), msg("u@s", "my order status"))
	if out.Action != ActionFired || out.BotID != orders.ID {
		t.Fatalf("Emit = %+v, want fired by %v", out, orders.ID)
	}
	req := <-f.exec.ch
	if req.Session != nil {
		t.Errorf("new conversation must be handed over with nil session")
	}
	if req.Content != "my order status" || req.PushName != "Ana" {
		t.Errorf("request = %+v", req)
	}
}

func TestEmit_CaseSensitiveKeywordDrops(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpContains, Value: "order"}, store.BotOverrides{})

	out := f.engine.Emit(context.Background(), msg("u@s", "my ORDER status"))
	if out.Action != ActionDropped || out.Reason != ReasonNoMatch {
		t.Errorf("Emit = %+v, want dropped (no match)", out)
	}
	if f.exec.count() != 0 {
		t.Errorf("executor called")
	}
}

func TestEmit_Fallback(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpEquals, Value: "menu"}, store.BotOverrides{})
	fallback := f.addBot(t, store.TriggerRule{Type: store.TriggerNone}, store.BotOverrides{})
	f.setSettings(t, store.InstanceSettings{FallbackBotID: &fallback.ID})

	out := f.engine.Emit(context.Background(), msg("u@s", "hello"))
	if out.Action != ActionFallback || out.BotID != fallback.ID {
		t.Fatalf("Emit = %+v, want fallback", out)
	}
	if f.exec.count() != 1 {
		t.Errorf("executor calls = %d, want 1", f.exec.count())
	}
}

func TestEmit_IgnoreLists(t *testing.T) {
	tests := []struct {
		name     string
		settings store.InstanceSettings
		override []string
	}{
		{"instance list", store.InstanceSettings{BotDefaults: store.BotDefaults{IgnoreJIDs: []string{"u@s"}}}, nil},
		{"bot list", store.InstanceSettings{}, []string{"u@s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{IgnoreJIDs: tt.override})
			f.setSettings(t, tt.settings)

			out := f.engine.Emit(context.Background(), msg("u@s", "hi"))
			if out.Action != ActionDropped || out.Reason != ReasonIgnored {
				t.Errorf("Emit = %+v, want dropped (ignored)", out)
			}
			if f.exec.count() != 0 {
				t.Errorf("executor called")
			}
		})
	}
}

func TestEmit_SessionContinuesWithoutTrigger(t *testing.T) {
	f := newEngineFixture(t)
	bot := f.addBot(t, store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpEquals, Value: "start"}, store.BotOverrides{})
	other := f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{})
	f.setSettings(t, store.InstanceSettings{FallbackBotID: &other.ID})
	sess := f.openSession(t, bot, "u@s", true, store.SessionOpened)

	out := f.engine.Emit(context.Background(), msg("u@s", "anything"))
	if out.Action != ActionContinued || out.BotID != bot.ID {
		t.Fatalf("Emit = %+v, want continued with session bot", out)
	}
	req := <-f.exec.ch
	if req.Session == nil || req.Session.ID != sess.ID {
		t.Errorf("executor got session %v, want %v", req.Session, sess.ID)
	}
}

func TestEmit_PausedSessionWaitsForAwaitUser(t *testing.T) {
	f := newEngineFixture(t)
	bot := f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{})
	sess := f.openSession(t, bot, "u@s", false, store.SessionPaused)

	out := f.engine.Emit(context.Background(), msg("u@s", "hello?"))
	if out.Action != ActionDropped || out.Reason != ReasonNotAwaiting {
		t.Fatalf("Emit = %+v, want dropped (not awaiting)", out)
	}

	sess.AwaitUser = true
	if err := f.stores.Sessions.Update(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	out = f.engine.Emit(context.Background(), msg("u@s", "hello again"))
	if out.Action != ActionContinued {
		t.Fatalf("Emit = %+v, want continued", out)
	}
	if f.exec.count() != 1 {
		t.Errorf("executor calls = %d, want 1", f.exec.count())
	}
}

func TestEmit_StopBotFromMePausesSession(t *testing.T) {
	f := newEngineFixture(t)
	bot := f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{StopBotFromMe: ptr(true)})
	sess := f.openSession(t, bot, "u@s", true, store.SessionOpened)

	var paused []bus.Event
	f.events.Subscribe("test", func(e bus.Event) {
		if e.Name == protocol.EventSessionPaused {
			paused = append(paused, e)
		}
	})

	m := msg("u@s", "operator here")
	m.FromMe = true
	out := f.engine.Emit(context.Background(), m)
	if out.Action != ActionPaused {
		t.Fatalf("Emit = %+v, want paused", out)
	}
	got, _ := f.stores.Sessions.Get(context.Background(), sess.ID)
	if got.Status != store.SessionPaused {
		t.Errorf("session status = %s, want paused", got.Status)
	}
	if len(paused) != 1 {
		t.Errorf("paused events = %d, want 1", len(paused))
	}
	if f.exec.count() != 0 {
		t.Errorf("executor called")
	}
}

func TestEmit_FromMeNotListening(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{})

	m := msg("u@s", "hi")
	m.FromMe = true
	out := f.engine.Emit(context.Background(), m)
	if out.Action != ActionDropped || out.Reason != ReasonNotListening {
		t.Errorf("Emit = %+v, want dropped (not listening)", out)
	}
}

func TestEmit_UnknownInstance(t *testing.T) {
	f := newEngineFixture(t)
	m := msg("u@s", "hi")
	m.Instance = "nope"
	if out := f.engine.Emit(context.Background(), m); out.Reason != ReasonUnknownInstance {
		t.Errorf("Emit = %+v, want unknown instance", out)
	}
}

func TestEmit_DebounceCoalesces(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{DebounceTime: ptr(1)})

	if out := f.engine.Emit(context.Background(), msg("u@s", "he")); out.Action != ActionDebounced {
		t.Fatalf("first Emit = %+v, want debounced", out)
	}
	time.Sleep(200 * time.Millisecond)
	f.engine.Emit(context.Background(), msg("u@s", "llo"))

	select {
	case req := <-f.exec.ch:
		if req.Content != "he llo" {
			t.Errorf("content = %q, want %q", req.Content, "he llo")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("debounced turn never dispatched")
	}
	time.Sleep(1200 * time.Millisecond)
	if f.exec.count() != 1 {
		t.Errorf("executor calls = %d, want 1", f.exec.count())
	}
}

type failingSessions struct{ store.SessionStore }

func (failingSessions) FindCurrent(context.Context, store.SessionFilter) (*store.Session, error) {
	return nil, errors.New("connection reset")
}

func TestEmit_StorageFailureIsReported(t *testing.T) {
	f := newEngineFixture(t)
	f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{DebounceTime: ptr(1)})
	deb := bus.NewDebouncer()
	defer deb.Stop()
	eng := NewEngine(Config{
		Stores:    f.stores,
		Sessions:  sessions.NewManager(failingSessions{f.stores.Sessions}),
		Debouncer: deb,
		Executor:  f.exec,
	})

	out := eng.Emit(context.Background(), msg("u@s", "hi"))
	if out.Action != ActionError {
		t.Errorf("Emit = %+v, want error", out)
	}
	if deb.Pending() != 0 {
		t.Errorf("storage failure left a debounce timer")
	}
	if f.exec.count() != 0 {
		t.Errorf("executor called")
	}
}

func TestEmit_SessionBotDeleted(t *testing.T) {
	f := newEngineFixture(t)
	bot := f.addBot(t, store.TriggerRule{Type: store.TriggerAll}, store.BotOverrides{})
	f.openSession(t, bot, "u@s", true, store.SessionOpened)
	if err := f.stores.Bots.Delete(context.Background(), bot.ID); err != nil {
		t.Fatal(err)
	}

	out := f.engine.Emit(context.Background(), msg("u@s", "hi"))
	if out.Action != ActionDropped || out.BotID != uuid.Nil {
		t.Errorf("Emit = %+v, want dropped with no bot", out)
	}
}
