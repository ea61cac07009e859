package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle_back_end_go/apperrors"
	"huddle_back_end_go/auth"
	"huddle_back_end_go/config"
	"huddle_back_end_go/models"
)

type fakeVerifier struct {
	identities map[string]auth.Identity
}

func (f *fakeVerifier) VerifyToken(token string) (auth.Identity, error) {
	if id, ok := f.identities[token]; ok {
		return id, nil
	}
	return auth.Identity{}, apperrors.New(apperrors.KindAuth, "Invalid authentication credentials")
}

type fakeDirectory struct {
	// channelID -> set of member user ids
	members  map[string]map[string]bool
	contacts map[string][]string
	err      error
}

func (f *fakeDirectory) IsParticipant(ctx context.Context, tenantID, channelID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[channelID][userID], nil
}

func (f *fakeDirectory) ContactsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	return f.contacts[userID], nil
}

type fakeMessages struct {
	appended []models.Message
	err      error
}

func (f *fakeMessages) Append(ctx context.Context, tenantID, channelID, userID, content string) (models.Message, error) {
	if f.err != nil {
		return models.Message{}, f.err
	}
	msg := models.Message{
		ID:        "msg-" + content,
		ChannelID: channelID,
		UserID:    userID,
		TenantID:  tenantID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.appended = append(f.appended, msg)
	return msg, nil
}

func newTestServer(t *testing.T) (*Server, *fakeDirectory, *fakeMessages) {
	t.Helper()

	dir := &fakeDirectory{
		members:  map[string]map[string]bool{},
		contacts: map[string][]string{},
	}
	msgs := &fakeMessages{}
	registry := NewRegistry()

	srv := &Server{
		Registry: registry,
		Router:   NewRouter(registry, nil),
		Presence: NewPresenceTracker(nil, time.Minute),
		Verifier: &fakeVerifier{identities: map[string]auth.Identity{
			"token-alice": {UserID: "alice", TenantID: "acme", Username: "alice"},
			"token-bob":   {UserID: "bob", TenantID: "acme", Username: "bob"},
		}},
		Channels: dir,
		Messages: msgs,
		Cfg: config.Config{
			AuthTimeout:    time.Minute,
			SendQueueDepth: 16,
			PresenceTTL:    time.Minute,
		},
	}
	return srv, dir, msgs
}

func frame(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{EventType: eventType, Payload: raw})
	require.NoError(t, err)
	return data
}

// drain empties the client's send queue into decoded envelopes.
func drain(t *testing.T, c *Client) []OutEnvelope {
	t.Helper()
	var out []OutEnvelope
	for {
		select {
		case data := <-c.send:
			var env struct {
				EventType string          `json:"event_type"`
				Payload   json.RawMessage `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, OutEnvelope{EventType: env.EventType, Payload: env.Payload})
		default:
			return out
		}
	}
}

func authedClient(t *testing.T, srv *Server, token string) *Client {
	t.Helper()
	c := srv.newClient(nil, false)
	c.handleEvent(frame(t, EventAuth, authPayload{Token: token}))
	got := drain(t, c)
	require.Len(t, got, 1)
	require.Equal(t, EventConnectionSuccess, got[0].EventType)
	return c
}

func TestAuthSuccess(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := srv.newClient(nil, false)

	c.handleEvent(frame(t, EventAuth, authPayload{Token: "token-alice"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventConnectionSuccess, got[0].EventType)
	assert.True(t, c.authenticated)
	assert.Equal(t, "alice", c.identity.UserID)
	assert.False(t, c.Closed())
}

func TestAuthFailureClosesConnection(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := srv.newClient(nil, false)

	c.handleEvent(frame(t, EventAuth, authPayload{Token: "bogus"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.False(t, c.authenticated)
	assert.True(t, c.Closed())
}

func TestAuthMissingTokenClosesConnection(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := srv.newClient(nil, false)

	c.handleEvent(frame(t, EventAuth, map[string]string{}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.True(t, c.Closed())
}

func TestEventsBeforeAuthRejected(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true}
	c := srv.newClient(nil, false)

	c.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	// Not fatal: the session may still authenticate.
	assert.False(t, c.Closed())
	assert.Empty(t, srv.Registry.Members(chatGroup("acme", "c1")))
}

func TestMalformedJSONIsNonFatal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := authedClient(t, srv, "token-alice")

	c.handleEvent([]byte("{not json"))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.False(t, c.Closed())
}

func TestUnknownEventType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	c := authedClient(t, srv, "token-alice")

	c.handleEvent(frame(t, "shrug", map[string]string{}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)

	var p errorPayload
	require.NoError(t, json.Unmarshal(got[0].Payload.(json.RawMessage), &p))
	assert.Contains(t, p.Message, "Unknown event type")
	assert.False(t, c.Closed())
}

func TestSubscribeDeniedForNonParticipant(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"bob": true}
	c := authedClient(t, srv, "token-alice")

	c.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.False(t, c.Closed(), "permission denial must not end the session")
	assert.False(t, c.subscribed["c1"])
	assert.Empty(t, srv.Registry.Members(chatGroup("acme", "c1")))
}

func TestSubscribeJoinsGroupAndBroadcasts(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true, "bob": true}

	bob := authedClient(t, srv, "token-bob")
	bob.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, bob)

	alice := authedClient(t, srv, "token-alice")
	alice.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))

	got := drain(t, alice)
	require.Len(t, got, 2)
	assert.Equal(t, EventSubscriptionSuccess, got[0].EventType)
	assert.Equal(t, EventUserJoined, got[1].EventType)
	assert.True(t, alice.subscribed["c1"])

	bobGot := drain(t, bob)
	require.Len(t, bobGot, 1)
	assert.Equal(t, EventUserJoined, bobGot[0].EventType)

	assert.Len(t, srv.Registry.Members(chatGroup("acme", "c1")), 2)
}

func TestChatMessageRequiresSubscription(t *testing.T) {
	srv, dir, msgs := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true}
	c := authedClient(t, srv, "token-alice")

	c.handleEvent(frame(t, EventChatMessage, chatMessagePayload{ChannelID: "c1", Message: "hello"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.Empty(t, msgs.appended, "nothing may be persisted before subscribing")
	assert.False(t, c.Closed())
}

func TestChatMessagePersistsThenFansOut(t *testing.T) {
	srv, dir, msgs := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true, "bob": true}

	alice := authedClient(t, srv, "token-alice")
	alice.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, alice)

	bob := authedClient(t, srv, "token-bob")
	bob.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, bob)
	drain(t, alice)

	bob.handleEvent(frame(t, EventChatMessage, chatMessagePayload{ChannelID: "c1", Message: "hello"}))

	require.Len(t, msgs.appended, 1)
	assert.Equal(t, "hello", msgs.appended[0].Content)

	got := drain(t, alice)
	require.Len(t, got, 1, "exactly one message.new per publish")
	assert.Equal(t, EventMessageNew, got[0].EventType)

	var p messageNewPayload
	require.NoError(t, json.Unmarshal(got[0].Payload.(json.RawMessage), &p))
	assert.Equal(t, "hello", p.Message)
	assert.Equal(t, "c1", p.ChannelID)
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, msgs.appended[0].ID, p.MessageID, "fan-out carries the store-assigned id")
	assert.NotEmpty(t, p.Timestamp)
}

func TestChatMessageStoreFailureIsNonFatal(t *testing.T) {
	srv, dir, msgs := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true}
	msgs.err = apperrors.New(apperrors.KindStoreUnavailable, "Message store unavailable")

	c := authedClient(t, srv, "token-alice")
	c.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, c)

	c.handleEvent(frame(t, EventChatMessage, chatMessagePayload{ChannelID: "c1", Message: "hello"}))

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].EventType)
	assert.False(t, c.Closed())
}

func TestTypingDroppedWhenNotSubscribed(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true}
	c := authedClient(t, srv, "token-alice")

	c.handleEvent(frame(t, EventTyping, typingPayload{ChannelID: "c1", IsTyping: true}))

	assert.Empty(t, drain(t, c), "typing for an unsubscribed channel is dropped silently")
}

func TestTypingBroadcast(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true, "bob": true}

	alice := authedClient(t, srv, "token-alice")
	alice.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	bob := authedClient(t, srv, "token-bob")
	bob.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, alice)
	drain(t, bob)

	bob.handleEvent(frame(t, EventTyping, typingPayload{ChannelID: "c1", IsTyping: true}))

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserTyping, got[0].EventType)

	var p userTypingPayload
	require.NoError(t, json.Unmarshal(got[0].Payload.(json.RawMessage), &p))
	assert.True(t, p.IsTyping)
	assert.Equal(t, "bob", p.UserID)
}

func TestTeardownLeavesGroupsAndNotifies(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	dir.members["c1"] = map[string]bool{"alice": true, "bob": true}

	alice := authedClient(t, srv, "token-alice")
	alice.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	bob := authedClient(t, srv, "token-bob")
	bob.handleEvent(frame(t, EventSubscribe, subscribePayload{ChannelID: "c1"}))
	drain(t, alice)
	drain(t, bob)

	bob.teardown()

	assert.True(t, bob.Closed())
	assert.Len(t, srv.Registry.Members(chatGroup("acme", "c1")), 1)

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserLeft, got[0].EventType)
}

func TestTenantsDoNotShareGroups(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.NotEqual(t, chatGroup("acme", "c1"), chatGroup("globex", "c1"))
	assert.NotEqual(t, presenceGroup("acme", "u1"), presenceGroup("globex", "u1"))

	c := srv.newClient(nil, false)
	srv.Registry.Join(chatGroup("acme", "c1"), c)
	assert.Empty(t, srv.Registry.Members(chatGroup("globex", "c1")))
}
