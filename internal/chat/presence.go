package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-server/internal/apperr"
	"chat-server/internal/metrics"
	"chat-server/internal/user"
)

// Realtime event names on the protocol surface.
const (
	EventConnected           = "connected"
	EventDisconnected        = "disconnected"
	EventContactsOnline      = "contactsOnline"
	EventConversationStarted = "conversationStarted"
	EventMessageReceived     = "messageReceived"
	EventTyping              = "typing"
)

// EventSink is what the presence core needs from the gateway.
type EventSink interface {
	SendToConnection(ctx context.Context, connID, event string, payload any) error
	Broadcast(ctx context.Context, event string, payload any)
}

// Presence is the sole writer of connection bindings, offline queues and
// conversations. Bindings are ephemeral: at most one per user, last
// connect wins, gone when the socket closes. Offline queues are FIFO per
// recipient and drained exactly once on reconnect; they do not survive a
// process restart.
type Presence struct {
	mu       sync.Mutex
	users    *user.Repository
	sink     EventSink
	log      zerolog.Logger
	bindings map[string]string
	queues   map[string][]DirectMessage
	convos   map[string]*Conversation
}

func NewPresence(users *user.Repository, sink EventSink, log zerolog.Logger) *Presence {
	return &Presence{
		users:    users,
		sink:     sink,
		log:      log,
		bindings: make(map[string]string),
		queues:   make(map[string][]DirectMessage),
		convos:   make(map[string]*Conversation),
	}
}

// ConnectionID resolves a user's active connection binding.
func (p *Presence) ConnectionID(userID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	connID, ok := p.bindings[userID]
	return connID, ok
}

// OnConnect registers the binding for the verified user, announces the
// user to everyone, and drains any queued messages to the connecting
// client in insertion order. An unverifiable user prevents registration.
func (p *Presence) OnConnect(ctx context.Context, connID, userID string) error {
	u, ok := p.users.Get(userID)
	if !ok {
		return apperr.Unauthenticated("failed to retrieve user information")
	}

	p.mu.Lock()
	p.bindings[u.ID] = connID // last connect wins
	queued := p.queues[u.ID]
	delete(p.queues, u.ID)
	p.mu.Unlock()

	// Deliberately global: a "who is online" signal, not a room signal.
	p.sink.Broadcast(ctx, EventConnected, u.Contact(true, time.Time{}))

	metrics.OfflineQueueDepth.Sub(float64(len(queued)))
	for _, msg := range queued {
		if err := p.sink.SendToConnection(ctx, connID, EventMessageReceived, msg); err != nil {
			p.log.Error().Err(err).
				Str("user", u.ID).
				Str("conversation", msg.ConversationID).
				Msg("queued message delivery failed")
		}
	}
	return nil
}

// OnDisconnect drops the binding owned by connID and announces the user
// offline with the disconnect timestamp. A binding already replaced by a
// reconnect is left alone. Never raises: cleanup is best-effort.
func (p *Presence) OnDisconnect(ctx context.Context, connID string) {
	p.mu.Lock()
	var userID string
	for uid, cid := range p.bindings {
		if cid == connID {
			userID = uid
			break
		}
	}
	if userID == "" {
		p.mu.Unlock()
		return
	}
	delete(p.bindings, userID)
	p.mu.Unlock()

	u, ok := p.users.Get(userID)
	if !ok {
		return
	}
	p.sink.Broadcast(ctx, EventDisconnected, u.Contact(false, time.Now().UTC()))
}

// StartConversation returns the existing pairwise conversation or creates
// one, then hands the caller the peer's public key material and the
// conversation id. Only the caller is notified.
func (p *Presence) StartConversation(ctx context.Context, selfID, otherID string) error {
	other, ok := p.users.Get(otherID)
	if !ok {
		return apperr.NotFound("user %s does not exist", otherID)
	}
	self, ok := p.users.Get(selfID)
	if !ok {
		return apperr.Unauthenticated("unable to find user for this request")
	}

	key := ConversationKey(selfID, otherID)

	p.mu.Lock()
	convo, ok := p.convos[key]
	if !ok {
		convo = NewConversation(self.MessageUser(false), other.MessageUser(false))
		p.convos[key] = convo
	}
	p.mu.Unlock()

	connID, ok := p.ConnectionID(selfID)
	if !ok {
		return apperr.Unauthenticated("it appears the user isn't connected to the hub")
	}
	return p.sink.SendToConnection(ctx, connID, EventConversationStarted, ConversationResponse{
		PublicKey:      other.PublicKey,
		ConversationID: convo.ID,
	})
}

// SendDirect records the message into the pairwise conversation, then
// delivers it immediately when the recipient is connected or queues it
// for the next connect. Cross-recipient ordering is not guaranteed; each
// queue is independently FIFO.
func (p *Presence) SendDirect(ctx context.Context, fromID, toID, text string) error {
	if text == "" {
		return apperr.Invalid("message is required")
	}
	to, ok := p.users.Get(toID)
	if !ok {
		return apperr.NotFound("user %s does not exist", toID)
	}
	from, ok := p.users.Get(fromID)
	if !ok {
		return apperr.Unauthenticated("unable to find user for this request")
	}

	msg := DirectMessage{
		ConversationID: ConversationKey(fromID, toID),
		Sender:         fromID,
		Receiver:       to.ID,
		Message:        text,
		Sent:           time.Now().UTC(),
	}

	p.mu.Lock()
	convo, ok := p.convos[msg.ConversationID]
	if !ok {
		convo = NewConversation(from.MessageUser(false), to.MessageUser(false))
		p.convos[msg.ConversationID] = convo
	}
	convo.Append(msg)
	connID, online := p.bindings[to.ID]
	if !online {
		p.queues[to.ID] = append(p.queues[to.ID], msg)
	}
	p.mu.Unlock()

	if !online {
		metrics.DirectMessagesSent.WithLabelValues("queued").Inc()
		metrics.OfflineQueueDepth.Inc()
		return nil
	}

	metrics.DirectMessagesSent.WithLabelValues("live").Inc()
	if err := p.sink.SendToConnection(ctx, connID, EventMessageReceived, msg); err != nil {
		p.log.Error().Err(err).
			Str("conversation", msg.ConversationID).
			Msg("direct message delivery failed")
	}
	return nil
}

// Conversation returns the pairwise conversation for the caller and the
// other participant, complete even when some deliveries were queued.
func (p *Presence) Conversation(selfID, otherID string) (*Conversation, error) {
	key := ConversationKey(selfID, otherID)
	p.mu.Lock()
	defer p.mu.Unlock()
	convo, ok := p.convos[key]
	if !ok {
		return nil, apperr.NotFound("conversation does not exist")
	}
	snapshot := *convo
	snapshot.Messages = append([]DirectMessage(nil), convo.Messages...)
	return &snapshot, nil
}

// Typing relays a typing notice to the peer. Best-effort.
func (p *Presence) Typing(ctx context.Context, fromID, toID, conversationID string) {
	from, ok := p.users.Get(fromID)
	if !ok {
		return
	}
	connID, ok := p.ConnectionID(toID)
	if !ok {
		return
	}
	payload := map[string]string{
		"conversation_id": conversationID,
		"message":         from.FullName() + " is typing...",
	}
	if err := p.sink.SendToConnection(ctx, connID, EventTyping, payload); err != nil {
		p.log.Debug().Err(err).Str("to", toID).Msg("typing relay failed")
	}
}

// ContactsOnline sends the caller a snapshot of everyone currently
// connected.
func (p *Presence) ContactsOnline(ctx context.Context, connID string) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.bindings))
	for uid := range p.bindings {
		ids = append(ids, uid)
	}
	p.mu.Unlock()

	contacts := make([]user.Contact, 0, len(ids))
	for _, uid := range ids {
		if u, ok := p.users.Get(uid); ok {
			contacts = append(contacts, u.Contact(true, time.Time{}))
		}
	}
	return p.sink.SendToConnection(ctx, connID, EventContactsOnline, contacts)
}

// QueueDepth reports the number of messages waiting for a recipient.
func (p *Presence) QueueDepth(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[userID])
}
