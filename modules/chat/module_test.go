package chat

import (
	"strings"
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

func newTestModule(t *testing.T, rateLimit int) (*Module, *rooms.Registry) {
	t.Helper()
	reg := rooms.NewRegistry(rooms.NewOptions(rooms.WithBcryptCost(bcrypt.MinCost)))
	rm, _, err := reg.GetOrCreate("movie-night")
	require.NoError(t, err)
	_, err = rm.Join("alice", "Alice", "conn-1", "")
	require.NoError(t, err)
	return NewModule(reg, rateLimit, DefaultRateWindow, &mockLogger{}), reg
}

func TestPostMessage(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	msg, err := m.PostMessage("movie-night", "alice", "Alice", "  hello  ", "")
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Text, "whitespace is trimmed")
	assert.Equal(t, "alice", msg.UserID)
	assert.Nil(t, msg.ReplyTo)

	history, err := m.History("movie-night")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestPostMessage_Validation(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	_, err := m.PostMessage("movie-night", "alice", "Alice", "   ", "")
	assert.Error(t, err)

	_, err = m.PostMessage("missing", "alice", "Alice", "hi", "")
	assert.ErrorIs(t, err, party.ErrRoomNotFound)

	_, err = m.PostMessage("movie-night", "stranger", "Stranger", "hi", "")
	assert.ErrorIs(t, err, party.ErrUserNotInRoom)
}

func TestPostMessage_TruncatesLongText(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	msg, err := m.PostMessage("movie-night", "alice", "Alice", strings.Repeat("x", 3000), "")
	require.NoError(t, err)
	assert.Len(t, []rune(msg.Text), maxMessageLength)
}

func TestPostMessage_RateLimited(t *testing.T) {
	m, _ := newTestModule(t, 3)

	for i := 0; i < 3; i++ {
		_, err := m.PostMessage("movie-night", "alice", "Alice", "hi", "")
		require.NoError(t, err)
	}

	_, err := m.PostMessage("movie-night", "alice", "Alice", "hi", "")
	assert.ErrorIs(t, err, party.ErrRateLimited)
}

func TestPostMessage_ReplyRef(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	first, err := m.PostMessage("movie-night", "alice", "Alice", "original", "")
	require.NoError(t, err)

	reply, err := m.PostMessage("movie-night", "alice", "Alice", "answer", first.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, first.ID, reply.ReplyTo.ID)
	assert.Equal(t, "Alice", reply.ReplyTo.Username)
	assert.Equal(t, "original", reply.ReplyTo.Snippet)

	// Replying to an unknown id degrades to a plain message.
	plain, err := m.PostMessage("movie-night", "alice", "Alice", "hm", "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, plain.ReplyTo)
}

func TestToggleReaction(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	msg, err := m.PostMessage("movie-night", "alice", "Alice", "hi", "")
	require.NoError(t, err)

	reactions, err := m.ToggleReaction("movie-night", msg.ID, "🔥", "alice", "Alice")
	require.NoError(t, err)
	require.Len(t, reactions["🔥"], 1)
	assert.Equal(t, "alice", reactions["🔥"][0].UserID)

	reactions, err = m.ToggleReaction("movie-night", msg.ID, "🔥", "alice", "Alice")
	require.NoError(t, err)
	assert.Empty(t, reactions)
}

func TestToggleReaction_Errors(t *testing.T) {
	m, _ := newTestModule(t, DefaultRateLimit)

	_, err := m.ToggleReaction("movie-night", "m1", "", "alice", "Alice")
	assert.Error(t, err)

	_, err = m.ToggleReaction("missing", "m1", "🔥", "alice", "Alice")
	assert.ErrorIs(t, err, party.ErrRoomNotFound)

	_, err = m.ToggleReaction("movie-night", "m1", "🔥", "stranger", "Stranger")
	assert.ErrorIs(t, err, party.ErrUserNotInRoom)

	_, err = m.ToggleReaction("movie-night", "m1", "🔥", "alice", "Alice")
	assert.ErrorIs(t, err, party.ErrMessageNotFound)
}

func TestSlidingWindow(t *testing.T) {
	l := newSlidingWindow(2, 40*time.Millisecond)

	assert.True(t, l.allow("alice"))
	assert.True(t, l.allow("alice"))
	assert.False(t, l.allow("alice"))

	// Independent budgets per key.
	assert.True(t, l.allow("bob"))

	// The budget refills once hits age out of the window.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.allow("alice"))

	time.Sleep(60 * time.Millisecond)
	l.sweep()
	l.mu.Lock()
	assert.Empty(t, l.hits)
	l.mu.Unlock()
}
