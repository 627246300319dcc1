package bus

import "context"

// InboundMessage is a chat message received for an instance, already decoded
// by the transport that delivered it.
type InboundMessage struct {
	Instance    string         `json:"instance"`              // instance name
	RemoteJID   string         `json:"remote_jid"`            // conversation identifier
	MessageID   string         `json:"message_id,omitempty"`  // transport message id (dedupe key)
	FromMe      bool           `json:"from_me"`               // sent by the instance's own account
	Participant string         `json:"participant,omitempty"` // group sender
	PushName    string         `json:"push_name,omitempty"`   // sender display name
	Content     string         `json:"content"`
	Quoted      map[string]any `json:"quoted,omitempty"` // reply context, passed through to the executor
}

// OutboundMessage is a bot reply to deliver to a conversation.
type OutboundMessage struct {
	Channel   string            `json:"channel,omitempty"` // delivery channel; empty = default
	Instance  string            `json:"instance"`
	RemoteJID string            `json:"remote_jid"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"` // bot_id, session_id
}

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"` // protocol.Event* constant
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the dispatch engine to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between the request layer and dispatch.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
