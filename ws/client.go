package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"huddle_back_end_go/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// Client is one live socket and its session state. The state machine is
// unauthenticated -> authenticated -> closed; all session fields are
// owned by the read goroutine, which handles the connection's events
// strictly in arrival order. Concurrency exists only across clients,
// through the registry and router.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	authTimer *time.Timer

	// Owned by the read goroutine.
	authenticated bool
	identity      auth.Identity
	subscribed    map[string]bool
	presence      bool
}

// enqueue places an outbound frame on the bounded send queue. It reports
// false when the queue is full, in which case the router disconnects the
// client.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call from any goroutine and
// more than once; group cleanup happens in the read goroutine's teardown
// once the read loop observes the closed connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Closed reports whether teardown has begun.
func (c *Client) Closed() bool {
	return c.ctx.Err() != nil
}

// Describe identifies the client in logs without leaking credentials.
func (c *Client) Describe() string {
	if c.identity.UserID != "" {
		return c.identity.UserID
	}
	return "unauthenticated"
}

func (c *Client) startAuthTimer() {
	c.authTimer = time.AfterFunc(c.server.Cfg.AuthTimeout, func() {
		log.Printf("Closing connection: no authentication within %s", c.server.Cfg.AuthTimeout)
		c.Close()
	})
}

func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Unexpected close for %s: %v", c.Describe(), err)
			}
			return
		}

		if c.presence {
			c.handlePresenceFrame(raw)
		} else {
			c.handleEvent(raw)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs exactly once, in the read goroutine, when the connection
// is gone: cancel in-flight store calls, leave every group and tell the
// remaining members, then drop the registry entries.
func (c *Client) teardown() {
	c.Close()
	if c.authTimer != nil {
		c.authTimer.Stop()
	}

	// The session context is cancelled; teardown broadcasts still need to
	// go out.
	ctx := context.Background()

	for channelID := range c.subscribed {
		group := chatGroup(c.identity.TenantID, channelID)
		c.server.Registry.Leave(group, c)
		if c.authenticated {
			c.server.Router.Publish(ctx, group, OutEnvelope{
				EventType: EventUserLeft,
				Payload: memberPayload{
					UserID:    c.identity.UserID,
					Username:  c.identity.Username,
					ChannelID: channelID,
				},
			})
		}
	}

	if c.presence && c.authenticated {
		c.announceOffline()
	}

	c.server.Registry.RemoveClient(c)
}

// sendEnvelope delivers an event to this connection only.
func (c *Client) sendEnvelope(env OutEnvelope) {
	if !c.enqueue(marshalEnvelope(env)) {
		log.Printf("Dropping frame for slow client %s", c.Describe())
	}
}

func (c *Client) sendError(message string) {
	c.sendEnvelope(errorEnvelope(message))
}
