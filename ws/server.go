package ws

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"huddle_back_end_go/auth"
	"huddle_back_end_go/config"
	"huddle_back_end_go/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the CORS layer in front.
	},
}

// TokenVerifier is the identity boundary: opaque credential in, tenant
// scoped identity out.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

// ChannelDirectory is the slice of the channel store sessions need:
// membership gating and presence contact resolution.
type ChannelDirectory interface {
	IsParticipant(ctx context.Context, tenantID, channelID, userID string) (bool, error)
	ContactsForUser(ctx context.Context, tenantID, userID string) ([]string, error)
}

// MessageStore persists chat messages; fan-out carries the ids and
// timestamps it assigns.
type MessageStore interface {
	Append(ctx context.Context, tenantID, channelID, userID, content string) (models.Message, error)
}

// Server owns the live-connection side of the chat system: the group
// registry, broadcast router and the stores sessions call into.
type Server struct {
	Registry *Registry
	Router   *Router
	Presence *PresenceTracker
	Verifier TokenVerifier
	Channels ChannelDirectory
	Messages MessageStore
	Cfg      config.Config
}

// ServeChat upgrades GET /ws. The connection starts unauthenticated; the
// client authenticates with an auth event within Cfg.AuthTimeout or the
// connection is closed.
func (s *Server) ServeChat(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := s.newClient(conn, false)
	client.startAuthTimer()

	go client.writePump()
	go client.readPump()
}

// ServePresence upgrades GET /ws/presence. Presence sockets authenticate
// up front via a token query parameter; an anonymous presence socket has
// nothing to announce.
func (s *Server) ServePresence(c *gin.Context) {
	identity, err := s.Verifier.VerifyToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := s.newClient(conn, true)
	client.authenticated = true
	client.identity = identity
	client.announceOnline()

	go client.writePump()
	go client.readPump()
}

func (s *Server) newClient(conn *websocket.Conn, presence bool) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		server:     s,
		conn:       conn,
		send:       make(chan []byte, s.Cfg.SendQueueDepth),
		ctx:        ctx,
		cancel:     cancel,
		subscribed: make(map[string]bool),
		presence:   presence,
	}
}
