package party

import "time"

// UserSession is one member of a room. UserID is client-generated and
// survives reconnects; ConnectionID is the current transport handle and is
// overwritten on every reconnect.
type UserSession struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joined_at"`
}

// Reactor identifies a user who reacted to a message.
type Reactor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ReplyRef points at an earlier message. Snippet is a denormalized copy of
// the original text, so the reference stays renderable after the original
// message has been evicted from history.
type ReplyRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Snippet  string `json:"snippet"`
}

// ChatMessage is one entry in a room's bounded history.
type ChatMessage struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Username  string               `json:"username"`
	Text      string               `json:"text"`
	Timestamp time.Time            `json:"timestamp"`
	ReplyTo   *ReplyRef            `json:"reply_to,omitempty"`
	Reactions map[string][]Reactor `json:"reactions,omitempty"`
}

// RoomSummary is the discovery view of a room.
type RoomSummary struct {
	ID           string `json:"id"`
	UserCount    int    `json:"user_count"`
	StreamActive bool   `json:"stream_active"`
}

// StatsSnapshot is the aggregate view pushed to every connected client.
type StatsSnapshot struct {
	ActiveRooms  int           `json:"active_rooms"`
	ActiveUsers  int           `json:"active_users"`
	PopularRooms []RoomSummary `json:"popular_rooms"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SignalKind enumerates the WebRTC handshake message types the relay
// forwards. The payload itself is never inspected.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Valid reports whether k is one of the known handshake kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}
