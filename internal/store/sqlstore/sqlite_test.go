package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

func openTestStores(t *testing.T) (*store.Stores, *store.Instance) {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	inst := &store.Instance{Name: "main", WebhookURL: "http://example.invalid/hook"}
	if err := s.Instances.Create(context.Background(), inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return s, inst
}

func intPtr(v int) *int { return &v }

func TestInstanceStore_GetByName(t *testing.T) {
	s, inst := openTestStores(t)
	ctx := context.Background()

	got, err := s.Instances.GetByName(ctx, "main")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.ID != inst.ID || got.WebhookURL != inst.WebhookURL {
		t.Errorf("got %+v, want %+v", got, inst)
	}
	if _, err := s.Instances.GetByName(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing instance: err = %v, want ErrNotFound", err)
	}
}

func TestBotStore_RoundTripOverrides(t *testing.T) {
	s, inst := openTestStores(t)
	ctx := context.Background()

	finish := "#stop"
	bot := &store.Bot{
		InstanceID:  inst.ID,
		Enabled:     true,
		APIURL:      "http://bot.local",
		TriggerRule: store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpContains, Value: "order"},
		BotOverrides: store.BotOverrides{
			DebounceTime:  intPtr(3),
			KeywordFinish: &finish,
			IgnoreJIDs:    []string{"a@s", "b@s"},
		},
	}
	if err := s.Bots.Create(ctx, bot); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Bots.Get(ctx, bot.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DebounceTime == nil || *got.DebounceTime != 3 {
		t.Errorf("DebounceTime = %v, want 3", got.DebounceTime)
	}
	if got.KeywordFinish == nil || *got.KeywordFinish != "#stop" {
		t.Errorf("KeywordFinish = %v, want #stop", got.KeywordFinish)
	}
	if got.Expire != nil || got.KeepOpen != nil {
		t.Errorf("unset overrides should stay nil, got expire=%v keepOpen=%v", got.Expire, got.KeepOpen)
	}
	if len(got.IgnoreJIDs) != 2 || got.IgnoreJIDs[1] != "b@s" {
		t.Errorf("IgnoreJIDs = %v", got.IgnoreJIDs)
	}
	if got.Operator != store.OpContains || got.Value != "order" {
		t.Errorf("trigger = %+v", got.TriggerRule)
	}
}

func TestBotStore_ConflictLookups(t *testing.T) {
	s, inst := openTestStores(t)
	ctx := context.Background()

	all := &store.Bot{InstanceID: inst.ID, Enabled: true, APIURL: "u1", APIKey: "k1",
		TriggerRule: store.TriggerRule{Type: store.TriggerAll}}
	kw := &store.Bot{InstanceID: inst.ID, Enabled: true, APIURL: "u2",
		TriggerRule: store.TriggerRule{Type: store.TriggerKeyword, Operator: store.OpEquals, Value: "hi"}}
	for _, b := range []*store.Bot{all, kw} {
		if err := s.Bots.Create(ctx, b); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	found, err := s.Bots.FindEnabledTriggerAll(ctx, inst.ID, uuid.Nil)
	if err != nil || found == nil || found.ID != all.ID {
		t.Fatalf("FindEnabledTriggerAll = %v, %v", found, err)
	}
	if found, _ := s.Bots.FindEnabledTriggerAll(ctx, inst.ID, all.ID); found != nil {
		t.Errorf("excluded bot should not be returned")
	}

	if found, _ := s.Bots.FindDuplicateTrigger(ctx, inst.ID, store.OpEquals, "hi", uuid.Nil); found == nil {
		t.Errorf("expected duplicate keyword trigger")
	}
	if found, _ := s.Bots.FindDuplicateTrigger(ctx, inst.ID, store.OpContains, "hi", uuid.Nil); found != nil {
		t.Errorf("different operator should not be a duplicate")
	}
	if found, _ := s.Bots.FindDuplicateEndpoint(ctx, inst.ID, "u1", "k1", uuid.Nil); found == nil {
		t.Errorf("expected duplicate endpoint")
	}

	all.Enabled = false
	if err := s.Bots.Update(ctx, all); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if found, _ := s.Bots.FindEnabledTriggerAll(ctx, inst.ID, uuid.Nil); found != nil {
		t.Errorf("disabled bot should not be found")
	}
	enabled, err := s.Bots.ListEnabled(ctx, inst.ID)
	if err != nil || len(enabled) != 1 || enabled[0].ID != kw.ID {
		t.Errorf("ListEnabled = %v, %v", enabled, err)
	}
}

func TestSettingsStore_UpsertAndClearFallback(t *testing.T) {
	s, inst := openTestStores(t)
	ctx := context.Background()

	if _, err := s.Settings.Get(ctx, inst.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get before upsert: err = %v, want ErrNotFound", err)
	}

	bot := &store.Bot{InstanceID: inst.ID, Enabled: true, TriggerRule: store.TriggerRule{Type: store.TriggerNone}}
	if err := s.Bots.Create(ctx, bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}

	st := &store.InstanceSettings{InstanceID: inst.ID, FallbackBotID: &bot.ID}
	st.Expire = 10
	st.UnknownMessage = "?"
	if err := s.Settings.Upsert(ctx, st); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	st.Expire = 20
	if err := s.Settings.Upsert(ctx, st); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if err := s.Settings.SetIgnoreJIDs(ctx, inst.ID, []string{"x@s"}); err != nil {
		t.Fatalf("SetIgnoreJIDs: %v", err)
	}

	got, err := s.Settings.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Expire != 20 || got.UnknownMessage != "?" {
		t.Errorf("got expire=%d unknown=%q", got.Expire, got.UnknownMessage)
	}
	if !got.IsIgnored("x@s") {
		t.Errorf("x@s should be ignored, list=%v", got.IgnoreJIDs)
	}
	if got.FallbackBotID == nil || *got.FallbackBotID != bot.ID {
		t.Errorf("FallbackBotID = %v, want %v", got.FallbackBotID, bot.ID)
	}

	if err := s.Settings.ClearFallback(ctx, bot.ID); err != nil {
		t.Fatalf("ClearFallback: %v", err)
	}
	got, _ = s.Settings.Get(ctx, inst.ID)
	if got.FallbackBotID != nil {
		t.Errorf("fallback should be cleared, got %v", got.FallbackBotID)
	}
}

func TestSessionStore_FindCurrentAndFilters(t *testing.T) {
	s, inst := openTestStores(t)
	ctx := context.Background()

	bot := &store.Bot{InstanceID: inst.ID, Enabled: true, TriggerRule: store.TriggerRule{Type: store.TriggerAll}}
	if err := s.Bots.Create(ctx, bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}

	if cur, err := s.Sessions.FindCurrent(ctx, store.SessionFilter{InstanceID: inst.ID, RemoteJID: "u@s"}); err != nil || cur != nil {
		t.Fatalf("FindCurrent on empty = %v, %v", cur, err)
	}

	first := &store.Session{InstanceID: inst.ID, RemoteJID: "u@s", BotID: &bot.ID, Type: store.SessionTypeWebhook}
	second := &store.Session{InstanceID: inst.ID, RemoteJID: "u@s", BotID: &bot.ID, Type: store.SessionTypeWebhook,
		Context: json.RawMessage(`{"turns":1}`)}
	orphan := &store.Session{InstanceID: inst.ID, RemoteJID: "u@s"}
	for _, sess := range []*store.Session{first, second, orphan} {
		if err := s.Sessions.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	f := store.SessionFilter{InstanceID: inst.ID, RemoteJID: "u@s", BotOnly: true, NotClosed: true}
	cur, err := s.Sessions.FindCurrent(ctx, f)
	if err != nil || cur == nil {
		t.Fatalf("FindCurrent = %v, %v", cur, err)
	}
	if cur.ID != second.ID {
		t.Errorf("FindCurrent returned %v, want most recent %v", cur.ID, second.ID)
	}
	if string(cur.Context) != `{"turns":1}` {
		t.Errorf("Context = %s", cur.Context)
	}

	cur.AwaitUser = true
	cur.Status = store.SessionPaused
	if err := s.Sessions.Update(ctx, cur); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Sessions.Get(ctx, cur.ID)
	if !got.AwaitUser || got.Status != store.SessionPaused {
		t.Errorf("after Update got %+v", got)
	}

	n, err := s.Sessions.UpdateStatus(ctx, store.SessionFilter{InstanceID: inst.ID, RemoteJID: "u@s", BotOnly: true}, store.SessionClosed)
	if err != nil || n != 2 {
		t.Fatalf("UpdateStatus = %d, %v; want 2", n, err)
	}
	if cur, _ := s.Sessions.FindCurrent(ctx, f); cur != nil {
		t.Errorf("closed sessions must not be current")
	}

	n, err = s.Sessions.DeleteMany(ctx, store.SessionFilter{BotID: bot.ID})
	if err != nil || n != 2 {
		t.Fatalf("DeleteMany = %d, %v; want 2", n, err)
	}
	left, _ := s.Sessions.List(ctx, store.SessionFilter{InstanceID: inst.ID})
	if len(left) != 1 || left[0].BotID != nil {
		t.Errorf("only the non-bot session should remain, got %v", left)
	}
}
