package room

import (
	"time"

	"chat-server/internal/user"
)

// minLimit is the floor for finite room capacities. A room of one would
// have nobody to talk to.
const minLimit = 2

// Config carries the per-room settings. A Limit of 0 means unlimited.
type Config struct {
	Limit       int  `json:"limit"`
	ReadReceipt bool `json:"read_receipt"`
	Reactions   bool `json:"reactions"`
}

// Unlimited reports whether the room accepts unbounded joins.
func (c Config) Unlimited() bool {
	return c.Limit == 0
}

// Room is the aggregate: membership, configuration and the message list
// are read-modify-written as a whole on every operation.
type Room struct {
	ID          string             `json:"id"`
	OwnerID     string             `json:"owner_id"`
	Topic       string             `json:"topic"`
	Description string             `json:"description"`
	Private     bool               `json:"private"`
	Config      Config             `json:"config"`
	Members     []user.MessageUser `json:"members"`
	Messages    []Message          `json:"messages"`
	Created     time.Time          `json:"created"`
	Modified    time.Time          `json:"modified"`
}

// Message is one entry in a room's message list. Sender and recipient are
// value snapshots taken at send time, never re-resolved. After creation
// only the text and the tombstone flag may change.
type Message struct {
	ID        string            `json:"id"`
	Text      string            `json:"message"`
	Read      bool              `json:"read"`
	Deleted   bool              `json:"deleted"`
	Reactions []string          `json:"reactions,omitempty"`
	Created   time.Time         `json:"created"`
	Modified  time.Time         `json:"modified"`
	From      user.MessageUser  `json:"from"`
	To        *user.MessageUser `json:"to,omitempty"`
}

// CreateRequest is the payload for creating a room. A nil Limit means
// unlimited capacity.
type CreateRequest struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Limit       *int   `json:"limit"`
	ReadReceipt bool   `json:"read_receipt"`
	Reactions   bool   `json:"reactions"`
	Private     bool   `json:"private"`
}

// ChatMessage is the inbound payload for sending a message to a room.
// Receiver optionally addresses one member directly.
type ChatMessage struct {
	Message  string `json:"message"`
	Receiver string `json:"receiver,omitempty"`
}

// clampLimit applies the creation/update rule: nil stays unlimited,
// finite values are raised to the floor.
func clampLimit(limit *int) int {
	if limit == nil {
		return 0
	}
	if *limit < minLimit {
		return minLimit
	}
	return *limit
}
