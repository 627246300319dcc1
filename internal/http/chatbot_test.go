package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/channels"
	"github.com/nextlevelbuilder/botrelay/internal/chatbot"
	"github.com/nextlevelbuilder/botrelay/internal/dispatch"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/store/memstore"
)

const testToken = "t0ken"

type stubInvoker struct {
	got bus.InboundMessage
}

func (s *stubInvoker) ManualInvoke(_ context.Context, instance string, botID uuid.UUID, msg bus.InboundMessage) (*dispatch.InvokeResult, error) {
	s.got = msg
	return &dispatch.InvokeResult{Triggered: true, Message: "bot invoked", BotID: botID, RemoteJID: msg.RemoteJID}, nil
}

type apiFixture struct {
	mux     *http.ServeMux
	bus     *bus.MessageBus
	invoker *stubInvoker
}

func newAPIFixture(t *testing.T, limiter Limiter) *apiFixture {
	t.Helper()
	stores := memstore.New()
	svc := chatbot.NewService(stores, nil, nil)
	if _, err := svc.CreateInstance(context.Background(), "main", ""); err != nil {
		t.Fatal(err)
	}
	f := &apiFixture{mux: http.NewServeMux(), bus: bus.NewWithBuffer(1), invoker: &stubInvoker{}}
	NewChatbotHandler(svc, f.invoker, f.bus, limiter, testToken).RegisterRoutes(f.mux)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestChatbotHandler_Auth(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := httptest.NewRequest("GET", "/v1/instances", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatbotHandler_BotLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	allBot := map[string]any{"api_url": "http://a", "trigger_type": "all"}

	rec := f.do(t, "POST", "/v1/instances/main/bots", allBot)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var bot store.Bot
	json.Unmarshal(rec.Body.Bytes(), &bot)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"second enabled all bot", "POST", "/v1/instances/main/bots", map[string]any{"api_url": "http://b", "trigger_type": "all"}, http.StatusConflict},
		{"bad json", "POST", "/v1/instances/main/bots", "{", http.StatusBadRequest},
		{"bad trigger type", "POST", "/v1/instances/main/bots", map[string]any{"api_url": "http://b", "trigger_type": "x"}, http.StatusBadRequest},
		{"unknown instance", "GET", "/v1/instances/nope/bots", nil, http.StatusNotFound},
		{"list", "GET", "/v1/instances/main/bots", nil, http.StatusOK},
		{"get", "GET", "/v1/instances/main/bots/" + bot.ID.String(), nil, http.StatusOK},
		{"get missing", "GET", "/v1/instances/main/bots/" + uuid.NewString(), nil, http.StatusNotFound},
		{"get bad id", "GET", "/v1/instances/main/bots/xyz", nil, http.StatusBadRequest},
		{"update", "PUT", "/v1/instances/main/bots/" + bot.ID.String(), map[string]any{"api_url": "http://a", "trigger_type": "all", "description": "d"}, http.StatusOK},
		{"delete", "DELETE", "/v1/instances/main/bots/" + bot.ID.String(), nil, http.StatusOK},
		{"get deleted", "GET", "/v1/instances/main/bots/" + bot.ID.String(), nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestChatbotHandler_SettingsAndIgnore(t *testing.T) {
	f := newAPIFixture(t, nil)

	if rec := f.do(t, "POST", "/v1/instances/main/ignore", map[string]string{"remote_jid": "a@s", "action": "add"}); rec.Code != http.StatusNotFound {
		t.Errorf("ignore without settings: %d", rec.Code)
	}
	if rec := f.do(t, "PUT", "/v1/instances/main/settings", map[string]any{"expire": 10, "keep_open": true}); rec.Code != http.StatusOK {
		t.Fatalf("set settings: %d %s", rec.Code, rec.Body)
	}
	rec := f.do(t, "POST", "/v1/instances/main/ignore", map[string]string{"remote_jid": "a@s", "action": "add"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ignore: %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "GET", "/v1/instances/main/settings", nil)
	var view chatbot.SettingsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Expire != 10 || !view.KeepOpen || len(view.IgnoreJIDs) != 1 {
		t.Errorf("settings = %+v", view)
	}

	if rec := f.do(t, "POST", "/v1/instances/main/sessions/status", map[string]string{"remote_jid": "a@s", "status": "bogus"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/v1/instances/main/sessions/status", map[string]string{"remote_jid": "a@s", "status": "paused"}); rec.Code != http.StatusOK {
		t.Errorf("pause: %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, "GET", "/v1/instances/main/sessions?bot_id=bad", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad bot_id: %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/v1/instances/main/sessions", nil); rec.Code != http.StatusOK {
		t.Errorf("sessions: %d", rec.Code)
	}
}

func TestChatbotHandler_Emit(t *testing.T) {
	f := newAPIFixture(t, nil)
	msg := map[string]any{"remote_jid": "a@s", "content": "hi", "message_id": "m1"}

	rec := f.do(t, "POST", "/v1/instances/main/emit", msg)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("emit: %d %s", rec.Code, rec.Body)
	}
	got, ok := f.bus.ConsumeInbound(context.Background())
	if !ok || got.Instance != "main" || got.Content != "hi" || got.MessageID != "m1" {
		t.Errorf("queued = %+v", got)
	}

	if rec := f.do(t, "POST", "/v1/instances/nope/emit", msg); rec.Code != http.StatusNotFound {
		t.Errorf("unknown instance: %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/v1/instances/main/emit", map[string]any{"content": "x"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing remote_jid: %d", rec.Code)
	}

	f.do(t, "POST", "/v1/instances/main/emit", msg) // fills the 1-slot buffer
	if rec := f.do(t, "POST", "/v1/instances/main/emit", msg); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("full queue: %d", rec.Code)
	}
}

func TestChatbotHandler_EmitRateLimited(t *testing.T) {
	f := newAPIFixture(t, channels.NewKeyedRateLimiter(0.001, 1))
	msg := map[string]any{"remote_jid": "a@s", "content": "hi"}

	if rec := f.do(t, "POST", "/v1/instances/main/emit", msg); rec.Code != http.StatusAccepted {
		t.Fatalf("first: %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/v1/instances/main/emit", msg); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second: %d, want 429", rec.Code)
	}
}

func TestChatbotHandler_Invoke(t *testing.T) {
	f := newAPIFixture(t, nil)
	id := uuid.New()

	rec := f.do(t, "POST", "/v1/instances/main/bots/"+id.String()+"/invoke", map[string]any{"remote_jid": "a@s", "content": "go"})
	if rec.Code != http.StatusOK {
		t.Fatalf("invoke: %d %s", rec.Code, rec.Body)
	}
	var res dispatch.InvokeResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.Triggered || res.BotID != id {
		t.Errorf("result = %+v", res)
	}
	if f.invoker.got.Instance != "main" || f.invoker.got.Content != "go" {
		t.Errorf("invoker got %+v", f.invoker.got)
	}
}
