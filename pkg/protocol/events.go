package protocol

// ProtocolVersion is bumped when event names or payload shapes change.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Dispatch events (payload: DispatchPayload).
	EventBotFired        = "bot.fired"
	EventDispatchDropped = "dispatch.dropped"
	EventSessionPaused   = "session.paused"

	// Session lifecycle events (payload: SessionPayload).
	EventSessionOpened  = "session.opened"
	EventSessionClosed  = "session.closed"
	EventSessionExpired = "session.expired"

	// Management events (payload: ConfigPayload).
	EventBotChanged      = "bot.changed"
	EventSettingsChanged = "settings.changed"
)

// FrameTypeEvent tags server-pushed event frames.
const FrameTypeEvent = "event"

// EventFrame is the envelope written to WebSocket clients.
type EventFrame struct {
	Type    string      `json:"type"` // always FrameTypeEvent
	Event   string      `json:"event"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload,omitempty"`
}

// DispatchPayload describes the outcome of one inbound message.
type DispatchPayload struct {
	Instance  string `json:"instance"`
	RemoteJID string `json:"remote_jid"`
	Action    string `json:"action"`
	BotID     string `json:"bot_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SessionPayload describes a session status change.
type SessionPayload struct {
	Instance  string `json:"instance,omitempty"`
	RemoteJID string `json:"remote_jid"`
	BotID     string `json:"bot_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
}

// ConfigPayload announces a bot or settings change.
type ConfigPayload struct {
	Instance string `json:"instance"`
	BotID    string `json:"bot_id,omitempty"`
	Op       string `json:"op"` // created, updated, deleted
}
