package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/config"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

func newTestServer(t *testing.T, token string) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Token = token
	mb := bus.New()
	s := NewServer(cfg, mb)
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)
	return s, mb, ts
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		got := len(s.clients)
		s.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("clients never reached %d", n)
}

func TestServer_StreamsInstanceEvents(t *testing.T) {
	s, mb, ts := newTestServer(t, "")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?instance=main"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitClients(t, s, 1)

	mb.Broadcast(bus.Event{Name: protocol.EventBotFired, Payload: protocol.DispatchPayload{Instance: "other", Action: "fired"}})
	mb.Broadcast(bus.Event{Name: protocol.EventBotFired, Payload: protocol.DispatchPayload{Instance: "main", RemoteJID: "a@s", Action: "fired"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame struct {
		Type    string                   `json:"type"`
		Event   string                   `json:"event"`
		Payload protocol.DispatchPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != protocol.FrameTypeEvent || frame.Event != protocol.EventBotFired || frame.Payload.Instance != "main" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestServer_WebSocketAuth(t *testing.T) {
	_, _, ts := newTestServer(t, "secret")
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatal("expected dial failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()

	for _, auth := range []string{"Bearer secret", "bearer secret"} {
		conn, _, err = websocket.DefaultDialer.Dial(base, http.Header{"Authorization": {auth}})
		if err != nil {
			t.Fatalf("dial with header %q: %v", auth, err)
		}
		conn.Close()
	}

	_, resp, err = websocket.DefaultDialer.Dial(base, http.Header{"Authorization": {"Bearer wrong"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong bearer token: err = %v, resp = %v", err, resp)
	}
}

func TestServer_Health(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestClient_Wants(t *testing.T) {
	c := &Client{instance: "main"}
	if !c.Wants("main") || !c.Wants("") || c.Wants("other") {
		t.Error("instance filter wrong")
	}
	all := &Client{}
	if !all.Wants("other") {
		t.Error("unfiltered client must get everything")
	}
}
