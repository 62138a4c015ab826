package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-server/internal/apperr"
	"chat-server/internal/storage"
	"chat-server/internal/user"
)

// fakeSink records deliveries so tests can assert on exactly what each
// connection received.
type fakeSink struct {
	mu         sync.Mutex
	sent       []sinkDelivery
	broadcasts []sinkDelivery
}

type sinkDelivery struct {
	ConnID  string
	Event   string
	Payload any
}

func (s *fakeSink) SendToConnection(ctx context.Context, connID, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sinkDelivery{ConnID: connID, Event: event, Payload: payload})
	return nil
}

func (s *fakeSink) Broadcast(ctx context.Context, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, sinkDelivery{Event: event, Payload: payload})
}

func (s *fakeSink) deliveries(connID, event string) []sinkDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkDelivery
	for _, d := range s.sent {
		if d.ConnID == connID && d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

func newTestPresence(t *testing.T) (*Presence, *fakeSink) {
	t.Helper()
	blob, err := storage.NewBlob(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	users, err := user.NewRepository(blob)
	require.NoError(t, err)

	ctx := context.Background()
	for _, u := range []user.User{
		{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", PublicKey: "pk-ada"},
		{ID: "u2", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", PublicKey: "pk-grace"},
	} {
		_, err := users.Upsert(ctx, u)
		require.NoError(t, err)
	}

	sink := &fakeSink{}
	return NewPresence(users, sink, zerolog.Nop()), sink
}

func TestOnConnectAnnouncesGlobally(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))

	connID, ok := p.ConnectionID("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", connID)

	require.Len(t, sink.broadcasts, 1)
	assert.Equal(t, EventConnected, sink.broadcasts[0].Event)
	contact := sink.broadcasts[0].Payload.(user.Contact)
	assert.Equal(t, "u1", contact.ID)
	assert.True(t, contact.Online)
}

func TestOnConnectUnknownUser(t *testing.T) {
	p, _ := newTestPresence(t)

	err := p.OnConnect(context.Background(), "c1", "ghost")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	_, ok := p.ConnectionID("ghost")
	assert.False(t, ok)
}

func TestLastConnectWins(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.OnConnect(ctx, "c2", "u1"))

	connID, ok := p.ConnectionID("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)

	// The stale connection's disconnect must not tear down the new binding.
	p.OnDisconnect(ctx, "c1")
	connID, ok = p.ConnectionID("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
}

func TestOnDisconnectAnnouncesOffline(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	p.OnDisconnect(ctx, "c1")

	_, ok := p.ConnectionID("u1")
	assert.False(t, ok)

	require.Len(t, sink.broadcasts, 2)
	assert.Equal(t, EventDisconnected, sink.broadcasts[1].Event)
	contact := sink.broadcasts[1].Payload.(user.Contact)
	assert.False(t, contact.Online)
	assert.False(t, contact.LastSeen.IsZero())
}

func TestOnDisconnectUnknownConnection(t *testing.T) {
	p, sink := newTestPresence(t)

	// Must be a silent no-op.
	p.OnDisconnect(context.Background(), "never-registered")
	assert.Empty(t, sink.broadcasts)
}

func TestSendDirectLiveDelivery(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.OnConnect(ctx, "c2", "u2"))

	require.NoError(t, p.SendDirect(ctx, "u1", "u2", "hello"))

	got := sink.deliveries("c2", EventMessageReceived)
	require.Len(t, got, 1)
	msg := got[0].Payload.(DirectMessage)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Receiver)
	assert.Equal(t, ConversationKey("u1", "u2"), msg.ConversationID)
	assert.Equal(t, 0, p.QueueDepth("u2"))
}

func TestSendDirectQueuesWhenOffline(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))

	require.NoError(t, p.SendDirect(ctx, "u1", "u2", "m1"))
	require.NoError(t, p.SendDirect(ctx, "u1", "u2", "m2"))
	require.NoError(t, p.SendDirect(ctx, "u1", "u2", "m3"))

	assert.Equal(t, 3, p.QueueDepth("u2"))
	assert.Empty(t, sink.deliveries("c2", EventMessageReceived))

	// The conversation records queued messages too.
	convo, err := p.Conversation("u1", "u2")
	require.NoError(t, err)
	assert.Len(t, convo.Messages, 3)
}

func TestQueueDrainedInOrderExactlyOnce(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.SendDirect(ctx, "u1", "u2", fmt.Sprintf("m%d", i)))
	}

	require.NoError(t, p.OnConnect(ctx, "c2", "u2"))

	got := sink.deliveries("c2", EventMessageReceived)
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), d.Payload.(DirectMessage).Message)
	}
	assert.Equal(t, 0, p.QueueDepth("u2"))

	// A reconnect must not replay the drained queue.
	require.NoError(t, p.OnConnect(ctx, "c3", "u2"))
	assert.Len(t, sink.deliveries("c3", EventMessageReceived), 0)
}

func TestSendDirectValidation(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))

	err := p.SendDirect(ctx, "u1", "u2", "")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	err = p.SendDirect(ctx, "u1", "ghost", "hi")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStartConversation(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.StartConversation(ctx, "u1", "u2"))

	got := sink.deliveries("c1", EventConversationStarted)
	require.Len(t, got, 1)
	resp := got[0].Payload.(ConversationResponse)
	assert.Equal(t, "pk-grace", resp.PublicKey, "caller receives the peer's key material")
	assert.Equal(t, ConversationKey("u1", "u2"), resp.ConversationID)

	// Starting again reuses the same conversation.
	require.NoError(t, p.StartConversation(ctx, "u1", "u2"))
	got = sink.deliveries("c1", EventConversationStarted)
	require.Len(t, got, 2)
	assert.Equal(t, resp.ConversationID, got[1].Payload.(ConversationResponse).ConversationID)
}

func TestConversationSnapshot(t *testing.T) {
	p, _ := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.SendDirect(ctx, "u1", "u2", "hello"))

	convo, err := p.Conversation("u2", "u1")
	require.NoError(t, err)
	require.Len(t, convo.Messages, 1)

	// Mutating the snapshot must not leak into the core's copy.
	convo.Messages[0].Message = "tampered"
	again, err := p.Conversation("u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Messages[0].Message)

	_, err = p.Conversation("u1", "nobody")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestTypingRelay(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.OnConnect(ctx, "c2", "u2"))

	p.Typing(ctx, "u1", "u2", "conv-1")

	got := sink.deliveries("c2", EventTyping)
	require.Len(t, got, 1)
	payload := got[0].Payload.(map[string]string)
	assert.Equal(t, "Ada Lovelace is typing...", payload["message"])
	assert.Equal(t, "conv-1", payload["conversation_id"])

	// Offline peer: silent drop.
	p.OnDisconnect(ctx, "c2")
	p.Typing(ctx, "u1", "u2", "conv-1")
	assert.Len(t, sink.deliveries("c2", EventTyping), 1)
}

func TestContactsOnline(t *testing.T) {
	p, sink := newTestPresence(t)
	ctx := context.Background()

	require.NoError(t, p.OnConnect(ctx, "c1", "u1"))
	require.NoError(t, p.OnConnect(ctx, "c2", "u2"))

	require.NoError(t, p.ContactsOnline(ctx, "c1"))

	got := sink.deliveries("c1", EventContactsOnline)
	require.Len(t, got, 1)
	contacts := got[0].Payload.([]user.Contact)
	assert.Len(t, contacts, 2)
}
