package ws

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"huddle_back_end_go/apperrors"
)

// handleEvent dispatches one inbound frame. Unrecognized or malformed
// frames are answered with a non-fatal error; only authentication
// failures close the connection.
func (c *Client) handleEvent(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("Invalid JSON format.")
		return
	}

	if env.EventType == EventAuth {
		c.handleAuth(env.Payload)
		return
	}

	if !c.authenticated {
		c.sendError("Authentication required.")
		return
	}

	switch env.EventType {
	case EventSubscribe:
		c.handleSubscribe(env.Payload)
	case EventChatMessage:
		c.handleChatMessage(env.Payload)
	case EventTyping:
		c.handleTyping(env.Payload)
	default:
		c.sendError("Unknown event type: " + env.EventType)
	}
}

// handleAuth performs the one fatal-on-failure transition: a session that
// cannot authenticate is closed, not given another try.
func (c *Client) handleAuth(raw json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		c.sendError("Authentication token not provided.")
		c.Close()
		return
	}

	identity, err := c.server.Verifier.VerifyToken(p.Token)
	if err != nil {
		log.Printf("Authentication failed: %v", err)
		c.sendError("Authentication failed: " + apperrors.UserMessage(err))
		c.Close()
		return
	}

	c.identity = identity
	c.authenticated = true
	if c.authTimer != nil {
		c.authTimer.Stop()
	}

	c.sendEnvelope(OutEnvelope{
		EventType: EventConnectionSuccess,
		Payload:   map[string]string{"message": "Authentication successful."},
	})
	log.Printf("User %s authenticated successfully", identity.UserID)
}

func (c *Client) handleSubscribe(raw json.RawMessage) {
	var p subscribePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ChannelID == "" {
		c.sendError("Channel ID not provided for subscription.")
		return
	}

	ok, err := c.server.Channels.IsParticipant(c.ctx, c.identity.TenantID, p.ChannelID, c.identity.UserID)
	if err != nil {
		log.Printf("Error checking channel permission: %v", err)
		c.sendError(apperrors.UserMessage(err))
		return
	}
	if !ok {
		c.sendError("You don't have permission to access this channel.")
		return
	}

	c.server.Registry.Join(chatGroup(c.identity.TenantID, p.ChannelID), c)
	c.subscribed[p.ChannelID] = true

	c.sendEnvelope(OutEnvelope{
		EventType: EventSubscriptionSuccess,
		Payload:   map[string]string{"channel_id": p.ChannelID},
	})

	c.server.Router.Publish(c.ctx, chatGroup(c.identity.TenantID, p.ChannelID), OutEnvelope{
		EventType: EventUserJoined,
		Payload: memberPayload{
			UserID:    c.identity.UserID,
			Username:  c.identity.Username,
			ChannelID: p.ChannelID,
		},
	})
}

// handleChatMessage persists then fans out. Subscribing first is an
// explicit precondition; the broadcast carries the store-assigned id and
// timestamp so delivery order tracks persisted order.
func (c *Client) handleChatMessage(raw json.RawMessage) {
	var p chatMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("Invalid JSON format.")
		return
	}

	p.Message = strings.TrimSpace(p.Message)
	if p.Message == "" || p.ChannelID == "" {
		c.sendError("Message and channel_id are required.")
		return
	}

	if !c.subscribed[p.ChannelID] {
		c.sendError("You are not subscribed to this channel.")
		return
	}

	msg, err := c.server.Messages.Append(c.ctx, c.identity.TenantID, p.ChannelID, c.identity.UserID, p.Message)
	if err != nil {
		log.Printf("Error saving message: %v", err)
		c.sendError("Failed to save message.")
		return
	}

	c.server.Router.Publish(c.ctx, chatGroup(c.identity.TenantID, p.ChannelID), OutEnvelope{
		EventType: EventMessageNew,
		Payload: messageNewPayload{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			Username:  c.identity.Username,
			Message:   msg.Content,
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// handleTyping is best-effort: frames for channels the session is not
// subscribed to are dropped silently, never answered with an error.
func (c *Client) handleTyping(raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	if p.ChannelID == "" || !c.subscribed[p.ChannelID] {
		return
	}

	c.server.Router.Publish(c.ctx, chatGroup(c.identity.TenantID, p.ChannelID), OutEnvelope{
		EventType: EventUserTyping,
		Payload: userTypingPayload{
			UserID:    c.identity.UserID,
			Username:  c.identity.Username,
			ChannelID: p.ChannelID,
			IsTyping:  p.IsTyping,
		},
	})
}
