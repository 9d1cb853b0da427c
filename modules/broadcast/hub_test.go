package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterUnregister(t *testing.T) {
	h := NewHub()

	c := &Client{ID: "conn-1"}
	h.Register(c)
	assert.True(t, h.IsConnected("conn-1"))
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	assert.False(t, h.IsConnected("conn-1"))
	assert.Equal(t, 0, h.ClientCount())

	// Unregistering twice is harmless.
	h.Unregister(c)
	assert.Equal(t, 0, h.ClientCount())
}

func TestJoinRoom_MovesBetweenRooms(t *testing.T) {
	h := NewHub()
	c := &Client{ID: "conn-1"}
	h.Register(c)

	h.JoinRoom("conn-1", "room-a")
	assert.Equal(t, "room-a", c.RoomID)

	// Joining another room implicitly leaves the first.
	h.JoinRoom("conn-1", "room-b")
	assert.Equal(t, "room-b", c.RoomID)
	assert.Empty(t, h.rooms["room-a"])

	h.LeaveRoom("conn-1")
	assert.Equal(t, "", c.RoomID)
	assert.Empty(t, h.rooms)
}

func TestJoinRoom_UnknownConnectionIgnored(t *testing.T) {
	h := NewHub()
	h.JoinRoom("ghost", "room-a")
	assert.Empty(t, h.rooms)
}

func TestUnregister_RemovesFromRoom(t *testing.T) {
	h := NewHub()
	c := &Client{ID: "conn-1"}
	h.Register(c)
	h.JoinRoom("conn-1", "room-a")

	h.Unregister(c)
	assert.Empty(t, h.rooms, "empty fan-out sets are dropped")
}

func TestSendTo_UnknownConnectionIsNoOp(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.SendTo("ghost", "pong", nil)
}
