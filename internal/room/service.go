package room

import (
	"context"

	"github.com/rs/zerolog"

	"chat-server/internal/apperr"
	"chat-server/internal/metrics"
	"chat-server/internal/user"
)

// Event names on the realtime protocol surface.
const (
	EventJoined             = "joined"
	EventLeft               = "left"
	EventMessageReceived    = "messageReceived"
	EventMessageEdited      = "messageEdited"
	EventMessageDeleted     = "messageDeleted"
	EventTopicUpdated       = "roomTopicUpdated"
	EventDescriptionUpdated = "roomDescriptionUpdated"
	EventRoomUpdated        = "roomUpdated"
)

// Gateway is the broadcast contract the service pushes events through.
// The realtime transport implements it.
type Gateway interface {
	SendToConnection(ctx context.Context, connID, event string, payload any) error
	SendToGroup(ctx context.Context, groupID, event string, payload any, exceptConnID string) error
	AddToGroup(connID, groupID string)
	RemoveFromGroup(connID, groupID string)
}

// ConnectionResolver maps a user to its active connection binding.
type ConnectionResolver interface {
	ConnectionID(userID string) (string, bool)
}

// Service coordinates the aggregate with storage and broadcast.
type Service struct {
	repo  *Repository
	users *user.Repository
	gw    Gateway
	conns ConnectionResolver
	log   zerolog.Logger
}

func NewService(repo *Repository, users *user.Repository, gw Gateway, conns ConnectionResolver, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		users: users,
		gw:    gw,
		conns: conns,
		log:   log,
	}
}

// Get returns the room with the given id.
func (s *Service) Get(id string) (Room, error) {
	room, ok := s.repo.Get(id)
	if !ok {
		return Room{}, apperr.NotFound("room %s does not exist", id)
	}
	return room, nil
}

// ByUser returns the caller's rooms.
func (s *Service) ByUser(userID string) []Room {
	return s.repo.GetByUser(userID)
}

// Open returns every non-private room.
func (s *Service) Open() []Room {
	var open []Room
	for _, room := range s.repo.GetAll() {
		if !room.Private {
			open = append(open, room)
		}
	}
	return open
}

// Create builds the aggregate, persists it, and binds the creator's
// connection into the room's broadcast group.
func (s *Service) Create(ctx context.Context, callerID string, req *CreateRequest) (Room, error) {
	connID, owner, err := s.caller(callerID)
	if err != nil {
		return Room{}, err
	}
	room, err := New(req, owner.MessageUser(true))
	if err != nil {
		return Room{}, err
	}
	room, err = s.repo.Upsert(ctx, room)
	if err != nil {
		return Room{}, err
	}
	s.gw.AddToGroup(connID, room.ID)
	metrics.RoomsCreated.Inc()
	return room, nil
}

// Join checks capacity, applies the join, binds the caller into the
// group, and notifies the rest of the room.
func (s *Service) Join(ctx context.Context, callerID, roomID string) (Room, error) {
	connID, caller, err := s.caller(callerID)
	if err != nil {
		return Room{}, err
	}
	member := caller.MessageUser(false)

	room, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		if r.LimitReached() {
			return r, apperr.Capacity("room has reached the maximum number of users")
		}
		return r.Join(member)
	})
	if err != nil {
		return Room{}, err
	}

	s.gw.AddToGroup(connID, roomID)
	s.notify(ctx, roomID, EventJoined, member, connID)
	return room, nil
}

// Leave removes the caller from the room and its broadcast group.
func (s *Service) Leave(ctx context.Context, callerID, roomID string) error {
	connID, caller, err := s.caller(callerID)
	if err != nil {
		return err
	}

	if _, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		return r.Leave(callerID), nil
	}); err != nil {
		return err
	}

	s.gw.RemoveFromGroup(connID, roomID)
	s.notify(ctx, roomID, EventLeft, caller.MessageUser(false), connID)
	return nil
}

// SendMessage snapshots sender (and optional direct recipient), applies
// AddMessage, and fans the message out to the rest of the group. The
// sender is excluded: it already has local confirmation.
func (s *Service) SendMessage(ctx context.Context, callerID, roomID string, chat *ChatMessage) (Message, error) {
	connID, caller, err := s.caller(callerID)
	if err != nil {
		return Message{}, err
	}
	if chat == nil {
		return Message{}, apperr.Invalid("chat message is required")
	}

	var to *user.MessageUser
	if chat.Receiver != "" {
		recipient, ok := s.users.Get(chat.Receiver)
		if !ok {
			return Message{}, apperr.NotFound("receiver %s does not exist", chat.Receiver)
		}
		snapshot := recipient.MessageUser(false)
		to = &snapshot
	}

	msg, err := NewMessage(chat.Message, caller.MessageUser(false), to)
	if err != nil {
		return Message{}, err
	}

	if _, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		return r.AddMessage(msg)
	}); err != nil {
		return Message{}, err
	}

	metrics.RoomMessagesPosted.Inc()
	s.notify(ctx, roomID, EventMessageReceived, msg, connID)
	return msg, nil
}

// EditMessage replaces the text of the caller's own message.
func (s *Service) EditMessage(ctx context.Context, callerID, roomID, msgID, text string) (Message, error) {
	connID, _, err := s.caller(callerID)
	if err != nil {
		return Message{}, err
	}

	var edited Message
	if _, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		r, m, err := r.EditMessage(msgID, callerID, text)
		edited = m
		return r, err
	}); err != nil {
		return Message{}, err
	}

	s.notify(ctx, roomID, EventMessageEdited, edited, connID)
	return edited, nil
}

// DeleteMessage tombstones the caller's own message.
func (s *Service) DeleteMessage(ctx context.Context, callerID, roomID, msgID string) (Message, error) {
	connID, _, err := s.caller(callerID)
	if err != nil {
		return Message{}, err
	}

	var deleted Message
	if _, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		r, m, err := r.DeleteMessage(msgID, callerID)
		deleted = m
		return r, err
	}); err != nil {
		return Message{}, err
	}

	s.notify(ctx, roomID, EventMessageDeleted, deleted, connID)
	return deleted, nil
}

// React adds a reaction to a message in the room.
func (s *Service) React(ctx context.Context, callerID, roomID, msgID, reaction string) (Message, error) {
	connID, _, err := s.caller(callerID)
	if err != nil {
		return Message{}, err
	}

	var reacted Message
	if _, err := s.repo.Update(ctx, roomID, func(r Room) (Room, error) {
		r, m, err := r.React(msgID, callerID, reaction)
		reacted = m
		return r, err
	}); err != nil {
		return Message{}, err
	}

	s.notify(ctx, roomID, EventMessageEdited, reacted, connID)
	return reacted, nil
}

// UpdateTopic replaces the topic and notifies the rest of the group.
func (s *Service) UpdateTopic(ctx context.Context, callerID, roomID, topic string) (Room, error) {
	return s.updateRoom(ctx, callerID, roomID, EventTopicUpdated, func(r Room) (Room, error) {
		return r.WithTopic(topic)
	})
}

// UpdateDescription replaces the description and notifies the group.
func (s *Service) UpdateDescription(ctx context.Context, callerID, roomID, desc string) (Room, error) {
	return s.updateRoom(ctx, callerID, roomID, EventDescriptionUpdated, func(r Room) (Room, error) {
		return r.WithDescription(desc)
	})
}

// UpdateLimit replaces the member limit and notifies the group.
func (s *Service) UpdateLimit(ctx context.Context, callerID, roomID string, limit *int) (Room, error) {
	return s.updateRoom(ctx, callerID, roomID, EventRoomUpdated, func(r Room) (Room, error) {
		return r.WithLimit(limit), nil
	})
}

// UpdateReadReceipt toggles read receipts and notifies the group.
func (s *Service) UpdateReadReceipt(ctx context.Context, callerID, roomID string, enabled bool) (Room, error) {
	return s.updateRoom(ctx, callerID, roomID, EventRoomUpdated, func(r Room) (Room, error) {
		return r.WithReadReceipt(enabled), nil
	})
}

// UpdateReactions toggles reactions and notifies the group.
func (s *Service) UpdateReactions(ctx context.Context, callerID, roomID string, enabled bool) (Room, error) {
	return s.updateRoom(ctx, callerID, roomID, EventRoomUpdated, func(r Room) (Room, error) {
		return r.WithReactions(enabled), nil
	})
}

// Delete removes the room from the store. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, callerID, roomID string) error {
	room, err := s.Get(roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != callerID {
		return apperr.Unauthenticated("only the room owner can delete the room")
	}
	_, _, err = s.repo.Delete(ctx, roomID)
	return err
}

func (s *Service) updateRoom(ctx context.Context, callerID, roomID, event string, fn func(Room) (Room, error)) (Room, error) {
	connID, _, err := s.caller(callerID)
	if err != nil {
		return Room{}, err
	}
	room, err := s.repo.Update(ctx, roomID, fn)
	if err != nil {
		return Room{}, err
	}
	s.notify(ctx, roomID, event, room, connID)
	return room, nil
}

// caller resolves the acting user and its active connection binding.
// A user must have an open realtime connection before acting on rooms.
func (s *Service) caller(userID string) (string, user.User, error) {
	u, ok := s.users.Get(userID)
	if !ok {
		return "", user.User{}, apperr.Unauthenticated("unable to find user for this request")
	}
	connID, ok := s.conns.ConnectionID(userID)
	if !ok {
		return "", user.User{}, apperr.Unauthenticated("it appears the user isn't connected to the hub")
	}
	return connID, u, nil
}

// notify is best-effort: a failed broadcast is logged, never surfaced to
// the triggering operation.
func (s *Service) notify(ctx context.Context, roomID, event string, payload any, exceptConnID string) {
	if err := s.gw.SendToGroup(ctx, roomID, event, payload, exceptConnID); err != nil {
		metrics.BroadcastFailures.Inc()
		s.log.Error().Err(err).
			Str("room", roomID).
			Str("event", event).
			Msg("group broadcast failed")
	}
}
