package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
	sendBuffer     = 256
)

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	id       string
	userID   string
	hub      *Hub
	presence *Presence
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{} // closed by the hub on unregister
	log      zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// inboundEvent is the JSON the client sends us over the socket.
type inboundEvent struct {
	Action         string `json:"action"`
	To             string `json:"to"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func newClient(id, userID string, hub *Hub, presence *Presence, conn *websocket.Conn, log zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       id,
		userID:   userID,
		hub:      hub,
		presence: presence,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// readPump pumps inbound events from the websocket into the presence
// core. One per connection; it owns all reads.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.presence.OnDisconnect(context.Background(), c.id)
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Str("conn", c.id).Msg("unexpected close")
			}
			break
		}

		var ev inboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendError("invalid event payload")
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev inboundEvent) {
	var err error
	switch ev.Action {
	case "startConversation":
		err = c.presence.StartConversation(c.ctx, c.userID, ev.To)
	case "sendMessage":
		err = c.presence.SendDirect(c.ctx, c.userID, ev.To, ev.Message)
	case "typing":
		c.presence.Typing(c.ctx, c.userID, ev.To, ev.ConversationID)
	case "contactsOnline":
		err = c.presence.ContactsOnline(c.ctx, c.id)
	default:
		c.sendError("unknown action: " + ev.Action)
	}
	if err != nil {
		c.sendError(err.Error())
	}
}

// sendError pushes a protocol error frame to this client only.
func (c *Client) sendError(message string) {
	data, err := json.Marshal(Event{Event: "error", Data: map[string]string{"error": message}})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump pumps frames from the hub to the websocket connection. One
// per connection; it owns all writes, including the keep-alive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any frames that queued up behind this one.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			// The hub unregistered us.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
