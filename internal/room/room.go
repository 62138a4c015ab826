// Package room implements the room aggregate and its orchestration. The
// aggregate methods are pure: they validate fully before touching state
// and return an updated copy, so a failed operation never leaves a room
// half-mutated.
package room

import (
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"chat-server/internal/apperr"
	"chat-server/internal/user"
)

// New creates a room owned by owner. The owner is auto-joined as the
// first member.
func New(req *CreateRequest, owner user.MessageUser) (Room, error) {
	if req == nil {
		return Room{}, apperr.Invalid("create room request is needed for this operation")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return Room{}, apperr.Invalid("room topic is required")
	}
	if owner.ID == "" {
		return Room{}, apperr.Invalid("owner for the room is needed for this request")
	}
	now := time.Now().UTC()
	owner.Owner = true
	return Room{
		ID:          user.NewID(),
		OwnerID:     owner.ID,
		Topic:       req.Topic,
		Description: req.Description,
		Private:     req.Private,
		Config: Config{
			Limit:       clampLimit(req.Limit),
			ReadReceipt: req.ReadReceipt,
			Reactions:   req.Reactions,
		},
		Members:  []user.MessageUser{owner},
		Created:  now,
		Modified: now,
	}, nil
}

// NewMessage builds the message snapshot for a send. Sender and recipient
// are copied by value so later profile edits don't rewrite history.
func NewMessage(text string, from user.MessageUser, to *user.MessageUser) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, apperr.Invalid("message is required")
	}
	if from.ID == "" {
		return Message{}, apperr.Invalid("sender is required")
	}
	now := time.Now().UTC()
	return Message{
		ID:      ulid.Make().String(),
		Text:    text,
		Created: now,
		From:    from,
		To:      to,
	}, nil
}

// IsMember reports whether the user id appears in the member list.
func (r Room) IsMember(userID string) bool {
	return r.memberIndex(userID) >= 0
}

func (r Room) memberIndex(userID string) int {
	return slices.IndexFunc(r.Members, func(m user.MessageUser) bool {
		return strings.EqualFold(m.ID, userID)
	})
}

// LimitReached reports whether the room is at capacity. Callers must
// check this before Join: capacity is a precondition of joining, not a
// rule Join enforces itself.
func (r Room) LimitReached() bool {
	return !r.Config.Unlimited() && len(r.Members) >= r.Config.Limit
}

// Join appends the member. A user may appear at most once in the list;
// a duplicate join is a conflict.
func (r Room) Join(member user.MessageUser) (Room, error) {
	if member.ID == "" {
		return r, apperr.Invalid("user is needed for this request")
	}
	if r.IsMember(member.ID) {
		return r, apperr.Conflict("user %s has already joined the room", member.ID)
	}
	r.Members = append(slices.Clone(r.Members), member)
	r.Modified = time.Now().UTC()
	return r, nil
}

// Leave removes the member with the given id. Leaving a room you are not
// in is a silent no-op.
func (r Room) Leave(userID string) Room {
	i := r.memberIndex(userID)
	if i < 0 {
		return r
	}
	r.Members = slices.Delete(slices.Clone(r.Members), i, i+1)
	r.Modified = time.Now().UTC()
	return r
}

// AddMessage appends the message. The sender must currently be a member,
// and so must the direct recipient when one is addressed.
func (r Room) AddMessage(msg Message) (Room, error) {
	if !r.IsMember(msg.From.ID) {
		return r, apperr.Unauthenticated("you can't message a room you haven't joined")
	}
	if msg.To != nil && !r.IsMember(msg.To.ID) {
		return r, apperr.NotFound("recipient %s is not a member of the room", msg.To.ID)
	}
	r.Messages = append(slices.Clone(r.Messages), msg)
	r.Modified = time.Now().UTC()
	return r, nil
}

// EditMessage replaces the text of the message matching (id, sender) and
// refreshes its modification time. A message owned by another sender is
// not found, even when the id exists.
func (r Room) EditMessage(msgID, senderID, text string) (Room, Message, error) {
	if strings.TrimSpace(text) == "" {
		return r, Message{}, apperr.Invalid("message is required")
	}
	i, err := r.messageIndex(msgID, senderID)
	if err != nil {
		return r, Message{}, err
	}
	msgs := slices.Clone(r.Messages)
	msgs[i].Text = text
	msgs[i].Modified = time.Now().UTC()
	r.Messages = msgs
	r.Modified = msgs[i].Modified
	return r, msgs[i], nil
}

// DeleteMessage sets the tombstone flag on the message matching
// (id, sender). The record is retained.
func (r Room) DeleteMessage(msgID, senderID string) (Room, Message, error) {
	i, err := r.messageIndex(msgID, senderID)
	if err != nil {
		return r, Message{}, err
	}
	msgs := slices.Clone(r.Messages)
	msgs[i].Deleted = true
	msgs[i].Modified = time.Now().UTC()
	r.Messages = msgs
	r.Modified = msgs[i].Modified
	return r, msgs[i], nil
}

// React records a reaction on a message. Reactions are unique strings;
// repeating one is a no-op.
func (r Room) React(msgID, senderID, reaction string) (Room, Message, error) {
	if !r.Config.Reactions {
		return r, Message{}, apperr.Invalid("reactions are disabled for this room")
	}
	if strings.TrimSpace(reaction) == "" {
		return r, Message{}, apperr.Invalid("reaction is required")
	}
	if !r.IsMember(senderID) {
		return r, Message{}, apperr.Unauthenticated("you can't react in a room you haven't joined")
	}
	i := slices.IndexFunc(r.Messages, func(m Message) bool { return m.ID == msgID })
	if i < 0 {
		return r, Message{}, apperr.NotFound("message %s does not exist in the room", msgID)
	}
	msgs := slices.Clone(r.Messages)
	if !slices.Contains(msgs[i].Reactions, reaction) {
		msgs[i].Reactions = append(slices.Clone(msgs[i].Reactions), reaction)
	}
	r.Messages = msgs
	r.Modified = time.Now().UTC()
	return r, msgs[i], nil
}

func (r Room) messageIndex(msgID, senderID string) (int, error) {
	i := slices.IndexFunc(r.Messages, func(m Message) bool {
		return m.ID == msgID && strings.EqualFold(m.From.ID, senderID)
	})
	if i < 0 {
		return 0, apperr.NotFound("message %s from sender %s does not exist in the room", msgID, senderID)
	}
	return i, nil
}

// WithTopic replaces the room topic.
func (r Room) WithTopic(topic string) (Room, error) {
	if strings.TrimSpace(topic) == "" {
		return r, apperr.Invalid("room topic is required")
	}
	r.Topic = topic
	r.Modified = time.Now().UTC()
	return r, nil
}

// WithDescription replaces the room description.
func (r Room) WithDescription(desc string) (Room, error) {
	if strings.TrimSpace(desc) == "" {
		return r, apperr.Invalid("room description is required")
	}
	r.Description = desc
	r.Modified = time.Now().UTC()
	return r, nil
}

// WithLimit replaces the member limit, funnelling through the same clamp
// rule as creation. Nil means unlimited.
func (r Room) WithLimit(limit *int) Room {
	r.Config.Limit = clampLimit(limit)
	r.Modified = time.Now().UTC()
	return r
}

// WithReadReceipt toggles read receipts.
func (r Room) WithReadReceipt(enabled bool) Room {
	r.Config.ReadReceipt = enabled
	r.Modified = time.Now().UTC()
	return r
}

// WithReactions toggles reactions.
func (r Room) WithReactions(enabled bool) Room {
	r.Config.Reactions = enabled
	r.Modified = time.Now().UTC()
	return r
}
