package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(hub *Hub, userID, sessionID string, buffer int) *Client {
	return newClient(hub, nil, ConnInfo{ConnID: sessionID, UserID: userID, ConnectedAt: time.Now()}, nil, buffer, time.Second, zap.NewNop())
}

func readEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	default:
		t.Fatalf("no event queued for %s", c.info.ConnID)
		return Event{}
	}
}

func TestHubEmitUnknownSession(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())

	assert.False(t, hub.Emit("missing", "message:receive", nil))
}

func TestHubEmitStampsIncreasingSeq(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	c := testClient(hub, "u1", "s1", 4)
	hub.Register(c)

	require.True(t, hub.Emit("s1", "message:receive", map[string]string{"id": "m1"}))
	require.True(t, hub.Emit("s1", "message:receive", map[string]string{"id": "m2"}))

	first := readEvent(t, c)
	second := readEvent(t, c)
	assert.Equal(t, "message:receive", first.Op)
	assert.Less(t, first.Seq, second.Seq)
	assert.Equal(t, map[string]any{"id": "m2"}, second.Data)
}

func TestHubRegisterTracksSessions(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	hub.Register(testClient(hub, "u1", "s1", 1))
	hub.Register(testClient(hub, "u1", "s2", 1))

	assert.Equal(t, []string{"s1", "s2"}, hub.SessionsFor("u1"))
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	c := testClient(hub, "u1", "s1", 1)
	hub.Register(c)

	hub.Unregister(c)
	hub.Unregister(c)

	assert.Empty(t, hub.SessionsFor("u1"))
	_, open := <-c.send
	assert.False(t, open)
}

func TestHubUnregisterIgnoresReplacedClient(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	stale := testClient(hub, "u1", "s1", 1)
	hub.Register(stale)
	fresh := testClient(hub, "u1", "s1", 1)
	hub.Register(fresh)

	hub.Unregister(stale)

	assert.Equal(t, []string{"s1"}, hub.SessionsFor("u1"))
	assert.True(t, hub.Emit("s1", "user:typing", nil))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	c := testClient(hub, "u1", "s1", 1)
	hub.Register(c)

	require.True(t, hub.Emit("s1", "message:receive", nil))
	assert.False(t, hub.Emit("s1", "message:receive", nil))

	assert.Eventually(t, func() bool {
		return len(hub.SessionsFor("u1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(NewRegistry(), zap.NewNop())
	a := testClient(hub, "u1", "s1", 1)
	b := testClient(hub, "u2", "s2", 1)
	hub.Register(a)
	hub.Register(b)

	hub.Shutdown()

	assert.False(t, hub.Emit("s1", "message:receive", nil))
	assert.Empty(t, hub.SessionsFor("u2"))
}
