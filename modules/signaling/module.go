// Package signaling routes WebRTC handshake envelopes between exactly two
// peers. The relay is stateless and never inspects the payload; handshake
// correctness is entirely the concern of the calling peers.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/events"
	"github.com/example/watch-party-demo/modules/rooms"
)

// Module implements the signaling relay.
type Module struct {
	registry *rooms.Registry
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventBusAwareModule = (*Module)(nil)
	_ mono.EventEmitterModule  = (*Module)(nil)
)

// NewModule creates the signaling relay module.
func NewModule(registry *rooms.Registry, logger types.Logger) *Module {
	return &Module{
		registry: registry,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "signaling"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.SignalRelayedV1.ToBase(),
	}
}

// Start initializes the module.
func (m *Module) Start(ctx context.Context) error {
	m.logger.Info("Signaling module started")
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(ctx context.Context) error {
	m.logger.Info("Signaling module stopped")
	return nil
}

// Relay forwards a handshake envelope, tagged with the sender, to the
// target user's current connection. A target that has left the room is
// surfaced to the sender as ErrTargetNotInRoom rather than swallowed, so
// the caller is not left waiting on a handshake that will never complete.
func (m *Module) Relay(roomID, fromUserID, fromUsername, targetUserID string, kind party.SignalKind, payload json.RawMessage) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown signal kind %q", kind)
	}

	rm, ok := m.registry.Get(roomID)
	if !ok {
		return party.ErrRoomNotFound
	}

	// Only members may relay into a room.
	if _, ok := rm.Member(fromUserID); !ok {
		return party.ErrUserNotInRoom
	}

	targetConn, ok := rm.ConnectionOf(targetUserID)
	if !ok {
		m.logger.Warn("Signal relay target absent",
			"roomID", rm.ID(), "targetUserID", targetUserID, "kind", string(kind))
		return party.ErrTargetNotInRoom
	}

	ev := events.SignalRelayedEvent{
		RoomID:       rm.ID(),
		TargetConnID: targetConn,
		Kind:         kind,
		FromUserID:   fromUserID,
		FromUsername: fromUsername,
		Payload:      payload,
	}
	if m.eventBus != nil {
		if err := events.SignalRelayedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish SignalRelayed event", "error", err)
			return err
		}
	}

	m.logger.Debug("Signal relayed",
		"roomID", rm.ID(), "from", fromUserID, "to", targetUserID, "kind", string(kind))
	return nil
}
