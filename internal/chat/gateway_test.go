package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(id string) *Client {
	return &Client{id: id, send: make(chan []byte, 8), done: make(chan struct{})}
}

// drain pulls every buffered frame off the client's send channel and
// decodes the event envelopes.
func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case data := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestSendToConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := testClient("c1")
	hub.register(c)

	require.NoError(t, hub.SendToConnection(context.Background(), "c1", "ping", "payload"))

	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Event)
	assert.Equal(t, "payload", events[0].Data)

	assert.Error(t, hub.SendToConnection(context.Background(), "missing", "ping", nil))
}

func TestSendToGroupExcludes(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c1, c2, c3 := testClient("c1"), testClient("c2"), testClient("c3")
	for _, c := range []*Client{c1, c2, c3} {
		hub.register(c)
	}
	hub.AddToGroup("c1", "room-1")
	hub.AddToGroup("c2", "room-1")

	require.NoError(t, hub.SendToGroup(context.Background(), "room-1", "joined", nil, "c1"))

	assert.Empty(t, drain(t, c1), "excluded connection must not receive the event")
	assert.Len(t, drain(t, c2), 1)
	assert.Empty(t, drain(t, c3), "non-members must not receive group events")
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c1, c2 := testClient("c1"), testClient("c2")
	hub.register(c1)
	hub.register(c2)

	hub.Broadcast(context.Background(), "connected", nil)

	assert.Len(t, drain(t, c1), 1)
	assert.Len(t, drain(t, c2), 1)
}

func TestUnregisterClearsGroups(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := testClient("c1")
	hub.register(c)
	hub.AddToGroup("c1", "room-1")

	hub.unregister(c)
	hub.unregister(c) // second call is a no-op

	assert.Error(t, hub.SendToConnection(context.Background(), "c1", "ping", nil))
	require.NoError(t, hub.SendToGroup(context.Background(), "room-1", "joined", nil, ""))
	select {
	case <-c.done:
	default:
		t.Fatal("done channel should be closed on unregister")
	}
}

// A fan-out that snapshotted its targets before a disconnect must not
// crash when it reaches the unregistered client.
func TestBroadcastRacingDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	for i := 0; i < 50; i++ {
		c := testClient(fmt.Sprintf("c%d", i))
		hub.register(c)
		hub.AddToGroup(c.id, "room-1")

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Broadcast(context.Background(), "connected", nil)
				hub.SendToGroup(context.Background(), "room-1", "joined", nil, "")
			}()
		}
		hub.unregister(c)
		wg.Wait()
	}
}

func TestDeliverToUnregisteredClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := testClient("c1")
	hub.register(c)

	// Fill the buffer, then unregister: a late delivery must hit the done
	// branch, not the slow-client drop and not a panic.
	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("frame")
	}
	hub.unregister(c)
	hub.deliver(c, []byte("late"))
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{id: "c1", send: make(chan []byte), done: make(chan struct{})} // nothing reading, zero buffer
	hub.register(slow)

	hub.Broadcast(context.Background(), "connected", nil)

	hub.mu.RLock()
	_, stillThere := hub.conns["c1"]
	hub.mu.RUnlock()
	assert.False(t, stillThere, "a client that cannot keep up is disconnected")
}
