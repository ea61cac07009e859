package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceTracker records which users are online and when they were last
// seen. With redis, entries are SETEX'd with a TTL so a session whose
// close notification is lost still ages out; without redis it keeps a
// process-local map.
type PresenceTracker struct {
	rdb *redis.Client
	ttl time.Duration

	mu       sync.Mutex
	local    map[string]bool
	lastSeen map[string]time.Time
}

func NewPresenceTracker(rdb *redis.Client, ttl time.Duration) *PresenceTracker {
	return &PresenceTracker{
		rdb:      rdb,
		ttl:      ttl,
		local:    make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

func presenceKey(tenantID, userID string) string {
	return "presence:online:" + tenantID + ":" + userID
}

func lastSeenKey(tenantID, userID string) string {
	return "presence:lastseen:" + tenantID + ":" + userID
}

// MarkOnline records the user as live and stamps last-seen. Heartbeats
// call it again to refresh both.
func (t *PresenceTracker) MarkOnline(ctx context.Context, tenantID, userID string) {
	now := time.Now().UTC()
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, presenceKey(tenantID, userID), "1", t.ttl).Err(); err != nil {
			log.Printf("Failed to mark %s online: %v", userID, err)
		}
		if err := t.rdb.Set(ctx, lastSeenKey(tenantID, userID), now.Format(time.RFC3339Nano), 0).Err(); err != nil {
			log.Printf("Failed to stamp last seen for %s: %v", userID, err)
		}
		return
	}
	t.mu.Lock()
	t.local[presenceKey(tenantID, userID)] = true
	t.lastSeen[presenceKey(tenantID, userID)] = now
	t.mu.Unlock()
}

// MarkOffline clears the liveness entry and stamps last-seen.
func (t *PresenceTracker) MarkOffline(ctx context.Context, tenantID, userID string) time.Time {
	now := time.Now().UTC()
	if t.rdb != nil {
		if err := t.rdb.Del(ctx, presenceKey(tenantID, userID)).Err(); err != nil {
			log.Printf("Failed to mark %s offline: %v", userID, err)
		}
		if err := t.rdb.Set(ctx, lastSeenKey(tenantID, userID), now.Format(time.RFC3339Nano), 0).Err(); err != nil {
			log.Printf("Failed to stamp last seen for %s: %v", userID, err)
		}
		return now
	}
	t.mu.Lock()
	delete(t.local, presenceKey(tenantID, userID))
	t.lastSeen[presenceKey(tenantID, userID)] = now
	t.mu.Unlock()
	return now
}

// LastSeen returns the most recent liveness stamp for the user, whether
// they are currently online or not.
func (t *PresenceTracker) LastSeen(ctx context.Context, tenantID, userID string) (time.Time, bool) {
	if t.rdb != nil {
		raw, err := t.rdb.Get(ctx, lastSeenKey(tenantID, userID)).Result()
		if err != nil {
			if err != redis.Nil {
				log.Printf("Failed to read last seen for %s: %v", userID, err)
			}
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSeen[presenceKey(tenantID, userID)]
	return ts, ok
}

// IsOnline reports current liveness.
func (t *PresenceTracker) IsOnline(ctx context.Context, tenantID, userID string) bool {
	if t.rdb != nil {
		n, err := t.rdb.Exists(ctx, presenceKey(tenantID, userID)).Result()
		if err != nil {
			log.Printf("Failed to check presence for %s: %v", userID, err)
			return false
		}
		return n > 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local[presenceKey(tenantID, userID)]
}

// presenceFrame is the only inbound message on a presence socket.
type presenceFrame struct {
	Type string `json:"type"`
}

// announceOnline joins the user's presence group, records liveness and
// pushes an online update to every contact's presence group.
func (c *Client) announceOnline() {
	c.server.Registry.Join(presenceGroup(c.identity.TenantID, c.identity.UserID), c)
	c.server.Presence.MarkOnline(c.ctx, c.identity.TenantID, c.identity.UserID)
	log.Printf("User %s connected to presence channel", c.identity.UserID)
	c.notifyContacts(true, nil)
}

func (c *Client) announceOffline() {
	ctx := context.Background()
	lastSeen := c.server.Presence.MarkOffline(ctx, c.identity.TenantID, c.identity.UserID)
	ts := lastSeen.Format(time.RFC3339Nano)
	c.notifyContacts(false, &ts)
}

// notifyContacts publishes a presence update to every user who shares a
// channel with this one.
func (c *Client) notifyContacts(isOnline bool, lastSeen *string) {
	ctx := context.Background()
	contacts, err := c.server.Channels.ContactsForUser(ctx, c.identity.TenantID, c.identity.UserID)
	if err != nil {
		log.Printf("Failed to resolve contacts for %s: %v", c.identity.UserID, err)
		return
	}

	update, err := json.Marshal(presenceUpdate{
		Type:     "presence_update",
		UserID:   c.identity.UserID,
		IsOnline: isOnline,
		LastSeen: lastSeen,
	})
	if err != nil {
		return
	}

	for _, contactID := range contacts {
		c.server.Router.PublishRaw(ctx, presenceGroup(c.identity.TenantID, contactID), update)
	}
}

// handlePresenceFrame processes inbound presence messages; heartbeats
// refresh the liveness TTL, everything else is ignored.
func (c *Client) handlePresenceFrame(raw []byte) {
	var frame presenceFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("Invalid JSON received on presence socket for %s", c.Describe())
		return
	}

	if frame.Type == "heartbeat" {
		c.server.Presence.MarkOnline(c.ctx, c.identity.TenantID, c.identity.UserID)
	}
}
