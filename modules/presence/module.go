// Package presence coordinates join/leave/reconnect against rooms:
// membership mutation, host election and migration, and event fan-out.
package presence

import (
	"context"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/events"
	"github.com/example/watch-party-demo/modules/rooms"
)

// Module implements the presence coordinator.
type Module struct {
	registry *rooms.Registry
	grace    time.Duration
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventBusAwareModule = (*Module)(nil)
	_ mono.EventEmitterModule  = (*Module)(nil)
)

// NewModule creates the presence module. grace is the reconnection window;
// zero selects immediate removal on disconnect.
func NewModule(registry *rooms.Registry, grace time.Duration, logger types.Logger) *Module {
	return &Module{
		registry: registry,
		grace:    grace,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserJoinedV1.ToBase(),
		events.UserDisconnectedV1.ToBase(),
		events.UserLeftV1.ToBase(),
		events.HostChangedV1.ToBase(),
		events.ModeratorsUpdatedV1.ToBase(),
		events.StreamStateChangedV1.ToBase(),
		events.ViewerJoinedV1.ToBase(),
	}
}

// Start initializes the module.
func (m *Module) Start(ctx context.Context) error {
	m.logger.Info("Presence module started", "gracePeriod", m.grace.String())
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(ctx context.Context) error {
	m.logger.Info("Presence module stopped")
	return nil
}

// CreateRoom creates a room with the caller as sole member and host. Fails
// with ErrRoomAlreadyActive when the id already has members; the caller can
// then decide to issue a join instead.
func (m *Module) CreateRoom(roomID, userID, username, connID, password string) (string, *rooms.JoinState, error) {
	rm, st, err := m.registry.CreateAndJoin(roomID, userID, username, connID, password)
	if err != nil {
		if rm != nil {
			return rm.ID(), nil, err
		}
		return "", nil, err
	}

	m.logger.Info("Room created", "roomID", rm.ID(), "hostID", userID)
	return rm.ID(), st, nil
}

// JoinRoom adds a member, auto-creating the room for the first joiner. A
// reconnect (same userID) only refreshes the connection handle: membership
// is unchanged and no user-joined broadcast fires.
func (m *Module) JoinRoom(roomID, userID, username, connID, password string) (string, *rooms.JoinState, error) {
	rm, created, st, err := m.registry.JoinOrCreate(roomID, userID, username, connID, password)
	if err != nil {
		if rm != nil {
			return rm.ID(), nil, err
		}
		return "", nil, err
	}
	if created {
		m.logger.Info("Room auto-created on join", "roomID", rm.ID(), "userID", userID)
	}

	if !st.Rejoined {
		m.publishUserJoined(rm.ID(), userID, username, connID, st.Users)
	}

	// The host initiates a signaling offer toward every viewer that joins
	// while its stream is live.
	if st.StreamActive && !st.IsHost && st.HostConnID != "" {
		ev := events.ViewerJoinedEvent{
			RoomID:         rm.ID(),
			TargetConnID:   st.HostConnID,
			ViewerUserID:   userID,
			ViewerUsername: username,
		}
		if m.eventBus != nil {
			if err := events.ViewerJoinedV1.Publish(m.eventBus, ev, nil); err != nil {
				m.logger.Warn("Failed to publish ViewerJoined event", "error", err)
			}
		}
	}

	m.logger.Info("User joined room",
		"roomID", rm.ID(), "userID", userID, "rejoined", st.Rejoined)
	return rm.ID(), st, nil
}

// LeaveRoom removes a member immediately, skipping any grace window.
func (m *Module) LeaveRoom(roomID, userID string) error {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return party.ErrRoomNotFound
	}

	res, err := rm.Leave(userID)
	if err != nil {
		return err
	}
	m.finishDeparture(rm.ID(), res)
	return nil
}

// Disconnect handles a closed connection. With a grace window configured the
// member's seat is held open and only a user-disconnected notice goes out; a
// rejoin before expiry cancels the departure entirely. connID identifies the
// socket that closed: if the member already reconnected on a newer socket,
// the stale close is ignored and the member stays seated.
func (m *Module) Disconnect(roomID, userID, connID string) {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return
	}

	if m.grace <= 0 {
		if res, err := rm.LeaveIfCurrent(userID, connID); err == nil && res != nil {
			m.finishDeparture(rm.ID(), res)
		}
		return
	}

	member, ok := rm.Member(userID)
	if !ok || member.ConnectionID != connID {
		return
	}

	roomID = rm.ID()
	armed, err := rm.ScheduleDeparture(userID, connID, m.grace, func(res *rooms.DepartureResult) {
		m.finishDeparture(roomID, res)
	})
	if err != nil || !armed {
		return
	}

	ev := events.UserDisconnectedEvent{
		RoomID:      roomID,
		UserID:      userID,
		Username:    member.Username,
		GracePeriod: m.grace.Milliseconds(),
		Timestamp:   time.Now(),
	}
	if m.eventBus != nil {
		if err := events.UserDisconnectedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish UserDisconnected event", "error", err)
		}
	}
	m.logger.Info("Grace period started", "roomID", roomID, "userID", userID)
}

// VerifyPassword is a pure check used to let a client retry a join.
func (m *Module) VerifyPassword(roomID, password string) (bool, error) {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return false, party.ErrRoomNotFound
	}
	return rm.CheckPassword(password) == nil, nil
}

// ToggleModerator flips a moderator grant. Host only.
func (m *Module) ToggleModerator(roomID, actingUserID, targetUserID string) ([]string, error) {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return nil, party.ErrRoomNotFound
	}

	mods, err := rm.ToggleModerator(actingUserID, targetUserID)
	if err != nil {
		return nil, err
	}

	ev := events.ModeratorsUpdatedEvent{
		RoomID:     rm.ID(),
		Moderators: mods,
		Timestamp:  time.Now(),
	}
	if m.eventBus != nil {
		if err := events.ModeratorsUpdatedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish ModeratorsUpdated event", "error", err)
		}
	}
	return mods, nil
}

// SetStreamActive flips the room's stream flag. Host only.
func (m *Module) SetStreamActive(roomID, userID string, active bool) error {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return party.ErrRoomNotFound
	}

	if err := rm.SetStreamActive(userID, active); err != nil {
		return err
	}

	ev := events.StreamStateChangedEvent{
		RoomID:    rm.ID(),
		HostID:    userID,
		Active:    active,
		Timestamp: time.Now(),
	}
	if m.eventBus != nil {
		if err := events.StreamStateChangedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish StreamStateChanged event", "error", err)
		}
	}
	m.logger.Info("Stream state changed", "roomID", rm.ID(), "active", active)
	return nil
}

func (m *Module) publishUserJoined(roomID, userID, username, connID string, users []party.UserSession) {
	ev := events.UserJoinedEvent{
		RoomID:       roomID,
		UserID:       userID,
		Username:     username,
		JoinerConnID: connID,
		Users:        users,
		Timestamp:    time.Now(),
	}
	if m.eventBus != nil {
		if err := events.UserJoinedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish UserJoined event", "error", err)
		}
	}
}

// finishDeparture publishes the outcome of a permanent removal and hands an
// emptied room back to the registry for deletion.
func (m *Module) finishDeparture(roomID string, res *rooms.DepartureResult) {
	if res == nil {
		return
	}

	if res.Empty {
		if err := m.registry.Delete(roomID); err != nil {
			m.logger.Warn("Failed to delete empty room", "roomID", roomID, "error", err)
		} else {
			m.logger.Info("Room deleted (empty)", "roomID", roomID)
		}
		return
	}

	if res.HostChanged {
		ev := events.HostChangedEvent{
			RoomID:     roomID,
			NewHostID:  res.NewHostID,
			Moderators: res.Moderators,
			Timestamp:  time.Now(),
		}
		if m.eventBus != nil {
			if err := events.HostChangedV1.Publish(m.eventBus, ev, nil); err != nil {
				m.logger.Warn("Failed to publish HostChanged event", "error", err)
			}
		}
		m.logger.Info("Host changed", "roomID", roomID, "newHostID", res.NewHostID)
	}

	ev := events.UserLeftEvent{
		RoomID:    roomID,
		UserID:    res.UserID,
		Username:  res.Username,
		Users:     res.Users,
		Timestamp: time.Now(),
	}
	if m.eventBus != nil {
		if err := events.UserLeftV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish UserLeft event", "error", err)
		}
	}
	m.logger.Info("User left room", "roomID", roomID, "userID", res.UserID)
}
