package stats

import (
	"testing"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/watch-party-demo/modules/rooms"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// deadLiveness reports every connection as gone.
type deadLiveness struct{}

func (deadLiveness) IsConnected(string) bool { return false }

func newTestRegistry(t *testing.T) *rooms.Registry {
	t.Helper()
	return rooms.NewRegistry(rooms.NewOptions(rooms.WithBcryptCost(bcrypt.MinCost)))
}

func fillRoom(t *testing.T, reg *rooms.Registry, id string, members int) *rooms.Room {
	t.Helper()
	rm, _, err := reg.GetOrCreate(id)
	require.NoError(t, err)
	for i := 0; i < members; i++ {
		_, err := rm.Join(id+"-user-"+string(rune('a'+i)), "User", id+"-conn-"+string(rune('a'+i)), "")
		require.NoError(t, err)
	}
	return rm
}

func TestSnapshot_CountsAndPopularOrder(t *testing.T) {
	reg := newTestRegistry(t)
	fillRoom(t, reg, "small", 1)
	fillRoom(t, reg, "big", 3)
	fillRoom(t, reg, "mid", 2)

	m := NewModule(reg, DefaultInterval, &mockLogger{})
	snap := m.Snapshot()

	assert.Equal(t, 3, snap.ActiveRooms)
	assert.Equal(t, 6, snap.ActiveUsers)
	require.Len(t, snap.PopularRooms, 3)
	assert.Equal(t, "big", snap.PopularRooms[0].ID)
	assert.Equal(t, "mid", snap.PopularRooms[1].ID)
	assert.Equal(t, "small", snap.PopularRooms[2].ID)
}

func TestSnapshot_ExcludesPrivateAndEmptyRooms(t *testing.T) {
	reg := newTestRegistry(t)
	fillRoom(t, reg, "public", 2)

	private := fillRoom(t, reg, "private", 1)
	require.NoError(t, private.SetPassword("secret"))

	// A room with no members counts for nothing.
	_, _, err := reg.GetOrCreate("ghost")
	require.NoError(t, err)

	m := NewModule(reg, DefaultInterval, &mockLogger{})
	snap := m.Snapshot()

	// Private rooms count toward totals but stay out of discovery.
	assert.Equal(t, 2, snap.ActiveRooms)
	assert.Equal(t, 3, snap.ActiveUsers)
	require.Len(t, snap.PopularRooms, 1)
	assert.Equal(t, "public", snap.PopularRooms[0].ID)
}

func TestSnapshot_PopularRoomsCapped(t *testing.T) {
	reg := newTestRegistry(t)
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"} {
		fillRoom(t, reg, id, 1)
	}

	m := NewModule(reg, DefaultInterval, &mockLogger{})
	snap := m.Snapshot()

	assert.Equal(t, 7, snap.ActiveRooms)
	assert.Len(t, snap.PopularRooms, popularRoomLimit)
}

func TestTick_ReapsEmptyRooms(t *testing.T) {
	reg := newTestRegistry(t)
	fillRoom(t, reg, "alive", 1)
	_, _, err := reg.GetOrCreate("ghost")
	require.NoError(t, err)

	m := NewModule(reg, DefaultInterval, &mockLogger{})
	m.Tick()

	assert.Equal(t, 1, reg.Count())
	_, ok := reg.Get("ghost")
	assert.False(t, ok)
}

func TestTick_SparesYoungRoomsWithDeadConnections(t *testing.T) {
	reg := newTestRegistry(t)
	fillRoom(t, reg, "movie-night", 2)

	// All connections dead, but the room is younger than the reaper's
	// minimum age, so seats held by grace timers survive.
	m := NewModule(reg, DefaultInterval, &mockLogger{})
	m.SetLiveness(deadLiveness{})
	m.Tick()

	assert.Equal(t, 1, reg.Count())
}
