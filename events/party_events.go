package events

import (
	"encoding/json"
	"time"

	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/watch-party-demo/domain/party"
)

// UserJoinedEvent is emitted when a new member structurally joins a room.
// Reconnects do not emit this event.
type UserJoinedEvent struct {
	RoomID       string              `json:"room_id"`
	UserID       string              `json:"user_id"`
	Username     string              `json:"username"`
	JoinerConnID string              `json:"joiner_conn_id"`
	Users        []party.UserSession `json:"users"`
	Timestamp    time.Time           `json:"timestamp"`
}

// UserDisconnectedEvent is emitted when a member drops while a reconnection
// grace window is still open. The seat is held; no membership change yet.
type UserDisconnectedEvent struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	GracePeriod int64     `json:"grace_period_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserLeftEvent is emitted when a member permanently leaves a room.
type UserLeftEvent struct {
	RoomID    string              `json:"room_id"`
	UserID    string              `json:"user_id"`
	Username  string              `json:"username"`
	Users     []party.UserSession `json:"users"`
	Timestamp time.Time           `json:"timestamp"`
}

// HostChangedEvent is emitted when host duty migrates to another member.
type HostChangedEvent struct {
	RoomID     string    `json:"room_id"`
	NewHostID  string    `json:"new_host_id"`
	Moderators []string  `json:"moderators"`
	Timestamp  time.Time `json:"timestamp"`
}

// ModeratorsUpdatedEvent is emitted when the host flips a moderator grant.
type ModeratorsUpdatedEvent struct {
	RoomID     string    `json:"room_id"`
	Moderators []string  `json:"moderators"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatMessageEvent is emitted for every accepted chat message, author included.
type ChatMessageEvent struct {
	RoomID  string            `json:"room_id"`
	Message party.ChatMessage `json:"message"`
}

// ReactionUpdatedEvent carries the full reaction map of one message after a flip.
type ReactionUpdatedEvent struct {
	RoomID    string                     `json:"room_id"`
	MessageID string                     `json:"message_id"`
	Reactions map[string][]party.Reactor `json:"reactions"`
}

// StreamStateChangedEvent is emitted when the host starts or stops the stream.
type StreamStateChangedEvent struct {
	RoomID    string    `json:"room_id"`
	HostID    string    `json:"host_id"`
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalRelayedEvent is a targeted event: the broadcast module delivers it
// only to TargetConnID. Payload is opaque SDP or ICE data.
type SignalRelayedEvent struct {
	RoomID       string           `json:"room_id"`
	TargetConnID string           `json:"target_conn_id"`
	Kind         party.SignalKind `json:"kind"`
	FromUserID   string           `json:"from_user_id"`
	FromUsername string           `json:"from_username"`
	Payload      json.RawMessage  `json:"payload"`
}

// ViewerJoinedEvent is a targeted event telling the host's connection that a
// viewer joined an active stream and a signaling offer should be initiated.
type ViewerJoinedEvent struct {
	RoomID         string `json:"room_id"`
	TargetConnID   string `json:"target_conn_id"`
	ViewerUserID   string `json:"viewer_user_id"`
	ViewerUsername string `json:"viewer_username"`
}

// StatsUpdatedEvent fans the aggregate snapshot out to every client.
type StatsUpdatedEvent struct {
	Stats party.StatsSnapshot `json:"stats"`
}

// Event definitions for the watch-party domain.
var (
	UserJoinedV1 = helper.EventDefinition[UserJoinedEvent](
		"party",
		"UserJoined",
		"v1",
	)

	UserDisconnectedV1 = helper.EventDefinition[UserDisconnectedEvent](
		"party",
		"UserDisconnected",
		"v1",
	)

	UserLeftV1 = helper.EventDefinition[UserLeftEvent](
		"party",
		"UserLeft",
		"v1",
	)

	HostChangedV1 = helper.EventDefinition[HostChangedEvent](
		"party",
		"HostChanged",
		"v1",
	)

	ModeratorsUpdatedV1 = helper.EventDefinition[ModeratorsUpdatedEvent](
		"party",
		"ModeratorsUpdated",
		"v1",
	)

	ChatMessageV1 = helper.EventDefinition[ChatMessageEvent](
		"party",
		"ChatMessage",
		"v1",
	)

	ReactionUpdatedV1 = helper.EventDefinition[ReactionUpdatedEvent](
		"party",
		"ReactionUpdated",
		"v1",
	)

	StreamStateChangedV1 = helper.EventDefinition[StreamStateChangedEvent](
		"party",
		"StreamStateChanged",
		"v1",
	)

	SignalRelayedV1 = helper.EventDefinition[SignalRelayedEvent](
		"party",
		"SignalRelayed",
		"v1",
	)

	ViewerJoinedV1 = helper.EventDefinition[ViewerJoinedEvent](
		"party",
		"ViewerJoined",
		"v1",
	)

	StatsUpdatedV1 = helper.EventDefinition[StatsUpdatedEvent](
		"party",
		"StatsUpdated",
		"v1",
	)
)
