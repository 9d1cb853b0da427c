package presence

import (
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/watch-party-demo/domain/party"
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

func newTestModule(grace time.Duration) (*Module, *rooms.Registry) {
	reg := rooms.NewRegistry(rooms.NewOptions(
		rooms.WithBcryptCost(bcrypt.MinCost),
		rooms.WithGracePeriod(grace),
	))
	return NewModule(reg, grace, &mockLogger{}), reg
}

func TestCreateRoom(t *testing.T) {
	m, reg := newTestModule(0)

	roomID, st, err := m.CreateRoom("Movie Night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	assert.Equal(t, "movie-night", roomID)
	assert.True(t, st.IsHost)
	assert.Equal(t, 1, reg.Count())
}

func TestCreateRoom_ActiveIDRejected(t *testing.T) {
	m, _ := newTestModule(0)

	_, _, err := m.CreateRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)

	_, _, err = m.CreateRoom("movie-night", "bob", "Bob", "conn-2", "")
	assert.ErrorIs(t, err, party.ErrRoomAlreadyActive)
}

func TestCreateRoom_WithPassword(t *testing.T) {
	m, reg := newTestModule(0)

	_, st, err := m.CreateRoom("private", "alice", "Alice", "conn-1", "hunter2")
	require.NoError(t, err)
	assert.True(t, st.HasPassword)

	rm, ok := reg.Get("private")
	require.True(t, ok)
	assert.True(t, rm.HasPassword())

	_, _, err = m.JoinRoom("private", "bob", "Bob", "conn-2", "")
	assert.ErrorIs(t, err, party.ErrPasswordRequired)

	_, _, err = m.JoinRoom("private", "bob", "Bob", "conn-2", "hunter2")
	assert.NoError(t, err)
}

func TestJoinRoom_AutoCreates(t *testing.T) {
	m, reg := newTestModule(0)

	roomID, st, err := m.JoinRoom("fresh", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", roomID)
	assert.True(t, st.IsHost, "first joiner of an auto-created room hosts it")
	assert.Equal(t, 1, reg.Count())
}

func TestJoinRoom_FailedJoinLeavesNoGhostRoom(t *testing.T) {
	m, reg := newTestModule(0)

	// Password mismatch on an occupied room must not disturb it; a failed
	// join that auto-created an empty room must clean it up again.
	_, _, err := m.CreateRoom("private", "alice", "Alice", "conn-1", "hunter2")
	require.NoError(t, err)

	_, _, err = m.JoinRoom("private", "bob", "Bob", "conn-2", "wrong")
	assert.ErrorIs(t, err, party.ErrPasswordMismatch)
	assert.Equal(t, 1, reg.Count())
}

func TestJoinRoom_ReconnectIsIdempotent(t *testing.T) {
	m, reg := newTestModule(0)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	_, st, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-2", "")
	require.NoError(t, err)

	assert.True(t, st.Rejoined)
	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 1, rm.UserCount())

	conn, ok := rm.ConnectionOf("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", conn)
}

func TestLeaveRoom_LastMemberDeletesRoom(t *testing.T) {
	m, reg := newTestModule(0)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)

	require.NoError(t, m.LeaveRoom("movie-night", "alice"))
	assert.Equal(t, 0, reg.Count())

	assert.ErrorIs(t, m.LeaveRoom("movie-night", "alice"), party.ErrRoomNotFound)
}

func TestDisconnect_ImmediateWithoutGrace(t *testing.T) {
	m, reg := newTestModule(0)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "bob", "Bob", "conn-2", "")
	require.NoError(t, err)

	m.Disconnect("movie-night", "alice", "conn-1")

	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 1, rm.UserCount())
	assert.Equal(t, "bob", rm.HostID())
}

func TestDisconnect_GraceHoldsSeat(t *testing.T) {
	m, reg := newTestModule(30 * time.Millisecond)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "bob", "Bob", "conn-2", "")
	require.NoError(t, err)

	m.Disconnect("movie-night", "alice", "conn-1")

	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 2, rm.UserCount(), "seat held open during the grace window")
	assert.Equal(t, "alice", rm.HostID())

	assert.Eventually(t, func() bool {
		return rm.UserCount() == 1 && rm.HostID() == "bob"
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnect_RejoinWithinGrace(t *testing.T) {
	m, reg := newTestModule(30 * time.Millisecond)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)

	m.Disconnect("movie-night", "alice", "conn-1")

	_, st, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-2", "")
	require.NoError(t, err)
	assert.True(t, st.Rejoined)

	// Well past the grace window the seat must still be there.
	time.Sleep(100 * time.Millisecond)
	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 1, rm.UserCount())
	assert.Equal(t, "alice", rm.HostID())
}

func TestDisconnect_LastMemberDeletesRoomAfterGrace(t *testing.T) {
	m, reg := newTestModule(20 * time.Millisecond)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)

	m.Disconnect("movie-night", "alice", "conn-1")
	assert.Equal(t, 1, reg.Count())

	assert.Eventually(t, func() bool {
		return reg.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnect_StaleSocketKeepsReconnectedMember(t *testing.T) {
	m, reg := newTestModule(20 * time.Millisecond)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-old", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "bob", "Bob", "conn-b", "")
	require.NoError(t, err)

	// The reconnect lands before the old socket's read loop ends, so the
	// old socket's disconnect carries a stale handle and must change nothing.
	_, st, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-new", "")
	require.NoError(t, err)
	require.True(t, st.Rejoined)

	m.Disconnect("movie-night", "alice", "conn-old")

	time.Sleep(80 * time.Millisecond)
	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 2, rm.UserCount())
	assert.Equal(t, "alice", rm.HostID())
}

func TestDisconnect_StaleSocketWithoutGrace(t *testing.T) {
	m, reg := newTestModule(0)

	_, _, err := m.JoinRoom("movie-night", "alice", "Alice", "conn-old", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "alice", "Alice", "conn-new", "")
	require.NoError(t, err)

	m.Disconnect("movie-night", "alice", "conn-old")

	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.Equal(t, 1, rm.UserCount(), "stale close must not evict with immediate removal either")

	m.Disconnect("movie-night", "alice", "conn-new")
	assert.Equal(t, 0, reg.Count())
}

func TestVerifyPassword(t *testing.T) {
	m, _ := newTestModule(0)

	_, _, err := m.CreateRoom("private", "alice", "Alice", "conn-1", "hunter2")
	require.NoError(t, err)

	ok, err := m.VerifyPassword("private", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.VerifyPassword("private", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.VerifyPassword("missing", "x")
	assert.ErrorIs(t, err, party.ErrRoomNotFound)
}

func TestToggleModerator(t *testing.T) {
	m, _ := newTestModule(0)

	_, _, err := m.CreateRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "bob", "Bob", "conn-2", "")
	require.NoError(t, err)

	_, err = m.ToggleModerator("movie-night", "bob", "alice")
	assert.ErrorIs(t, err, party.ErrNotAuthorized)

	mods, err := m.ToggleModerator("movie-night", "alice", "bob")
	require.NoError(t, err)
	assert.Contains(t, mods, "bob")
}

func TestSetStreamActive(t *testing.T) {
	m, reg := newTestModule(0)

	_, _, err := m.CreateRoom("movie-night", "alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	_, _, err = m.JoinRoom("movie-night", "bob", "Bob", "conn-2", "")
	require.NoError(t, err)

	assert.ErrorIs(t, m.SetStreamActive("movie-night", "bob", true), party.ErrNotAuthorized)
	require.NoError(t, m.SetStreamActive("movie-night", "alice", true))

	rm, ok := reg.Get("movie-night")
	require.True(t, ok)
	assert.True(t, rm.StreamActive())
}
