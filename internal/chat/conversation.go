// Package chat is the presence and messaging core: it maps verified
// users to live connections, fans events out to rooms and individual
// connections, queues direct messages for offline recipients, and tracks
// pairwise conversations.
package chat

import (
	"slices"
	"strings"
	"time"

	"chat-server/internal/user"
)

// ConversationKey derives the canonical id of a pairwise conversation:
// uppercase both ids, concatenate, and sort the characters. The result is
// order-independent, so key(a,b) == key(b,a) and either side can address
// the same conversation.
func ConversationKey(id1, id2 string) string {
	chars := []rune(strings.ToUpper(id1 + id2))
	slices.Sort(chars)
	return string(chars)
}

// DirectMessage is one entry in a pairwise conversation.
type DirectMessage struct {
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Message        string    `json:"message"`
	Sent           time.Time `json:"sent"`
}

// ConversationResponse is the payload of the conversationStarted event.
// The public key material belongs to the peer; the core passes it through
// without ever interpreting it.
type ConversationResponse struct {
	PublicKey      string `json:"public_key"`
	ConversationID string `json:"conversation_id"`
}

// Conversation is a pairwise message thread. The message list makes a
// later read complete even when delivery was queued.
type Conversation struct {
	ID           string             `json:"id"`
	Participants []user.MessageUser `json:"participants"`
	Messages     []DirectMessage    `json:"messages"`
}

// NewConversation seeds a conversation between two participants.
func NewConversation(a, b user.MessageUser) *Conversation {
	return &Conversation{
		ID:           ConversationKey(a.ID, b.ID),
		Participants: []user.MessageUser{a, b},
	}
}

// Append records a message into the conversation.
func (c *Conversation) Append(m DirectMessage) {
	c.Messages = append(c.Messages, m)
}
