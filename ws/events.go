package ws

import (
	"encoding/json"
)

// Envelope is the wire format for every chat frame in both directions:
// a tagged event type plus an event-specific payload.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// OutEnvelope is the outbound counterpart with a concrete payload.
type OutEnvelope struct {
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
}

// Inbound event types.
const (
	EventAuth        = "auth"
	EventSubscribe   = "subscribe"
	EventChatMessage = "chat_message"
	EventTyping      = "typing"
)

// Outbound event types.
const (
	EventConnectionSuccess   = "connection.success"
	EventSubscriptionSuccess = "subscription.success"
	EventMessageNew          = "message.new"
	EventUserJoined          = "user.joined"
	EventUserLeft            = "user.left"
	EventUserTyping          = "user.typing"
	EventError               = "error"
)

type authPayload struct {
	Token string `json:"token"`
}

type subscribePayload struct {
	ChannelID string `json:"channel_id"`
}

type chatMessagePayload struct {
	ChannelID string  `json:"channel_id"`
	Message   string  `json:"message"`
	Timestamp *string `json:"timestamp"`
}

type typingPayload struct {
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

type messageNewPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type memberPayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ChannelID string `json:"channel_id"`
}

type userTypingPayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// presenceUpdate is the frame presence sessions exchange. It is flat
// rather than enveloped; presence is a separate lightweight protocol.
type presenceUpdate struct {
	Type     string  `json:"type"`
	UserID   string  `json:"user_id"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

func errorEnvelope(message string) OutEnvelope {
	return OutEnvelope{EventType: EventError, Payload: errorPayload{Message: message}}
}

func marshalEnvelope(env OutEnvelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// Payload structs are all marshalable; this cannot happen with
		// well-formed events.
		return []byte(`{"event_type":"error","payload":{"message":"Internal server error"}}`)
	}
	return data
}
