package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/events"
)

// BroadcastModule is an EventConsumerModule that turns party bus events into
// wire frames for WebSocket clients.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[broadcast] Module started - WebSocket hub running")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait() // Wait for hub to finish
	}
	log.Printf("[broadcast] Module stopped - %d clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserJoinedV1, m.handleUserJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register UserJoined consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserDisconnectedV1, m.handleUserDisconnected, m,
	); err != nil {
		return fmt.Errorf("failed to register UserDisconnected consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserLeftV1, m.handleUserLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register UserLeft consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.HostChangedV1, m.handleHostChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register HostChanged consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ModeratorsUpdatedV1, m.handleModeratorsUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register ModeratorsUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ChatMessageV1, m.handleChatMessage, m,
	); err != nil {
		return fmt.Errorf("failed to register ChatMessage consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ReactionUpdatedV1, m.handleReactionUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register ReactionUpdated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.StreamStateChangedV1, m.handleStreamStateChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register StreamStateChanged consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.SignalRelayedV1, m.handleSignalRelayed, m,
	); err != nil {
		return fmt.Errorf("failed to register SignalRelayed consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ViewerJoinedV1, m.handleViewerJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register ViewerJoined consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.StatsUpdatedV1, m.handleStatsUpdated, m,
	); err != nil {
		return fmt.Errorf("failed to register StatsUpdated consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers for party events")
	return nil
}

// Event handlers

func (m *BroadcastModule) handleUserJoined(_ context.Context, event events.UserJoinedEvent, _ *mono.Msg) error {
	// The joiner receives the room snapshot as a direct reply; everyone
	// else gets the roster update.
	m.hub.BroadcastExcept(event.RoomID, event.JoinerConnID, "user-joined", RosterPayload{
		RoomID:    event.RoomID,
		UserID:    event.UserID,
		Username:  event.Username,
		Users:     event.Users,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleUserDisconnected(_ context.Context, event events.UserDisconnectedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, "user-disconnected", DisconnectPayload{
		RoomID:      event.RoomID,
		UserID:      event.UserID,
		Username:    event.Username,
		GracePeriod: event.GracePeriod,
		Timestamp:   event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleUserLeft(_ context.Context, event events.UserLeftEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, "user-left", RosterPayload{
		RoomID:    event.RoomID,
		UserID:    event.UserID,
		Username:  event.Username,
		Users:     event.Users,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleHostChanged(_ context.Context, event events.HostChangedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, "host-changed", HostChangedPayload{
		RoomID:     event.RoomID,
		NewHostID:  event.NewHostID,
		Moderators: event.Moderators,
		Timestamp:  event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleModeratorsUpdated(_ context.Context, event events.ModeratorsUpdatedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, "moderators-updated", ModeratorsPayload{
		RoomID:     event.RoomID,
		Moderators: event.Moderators,
		Timestamp:  event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleChatMessage(_ context.Context, event events.ChatMessageEvent, _ *mono.Msg) error {
	// Author included, so client UIs need no local echo special case.
	m.hub.Broadcast(event.RoomID, "chat-message", event.Message)
	return nil
}

func (m *BroadcastModule) handleReactionUpdated(_ context.Context, event events.ReactionUpdatedEvent, _ *mono.Msg) error {
	m.hub.Broadcast(event.RoomID, "reaction-updated", ReactionPayload{
		RoomID:    event.RoomID,
		MessageID: event.MessageID,
		Reactions: event.Reactions,
	})
	return nil
}

func (m *BroadcastModule) handleStreamStateChanged(_ context.Context, event events.StreamStateChangedEvent, _ *mono.Msg) error {
	frameType := "stream-stopped"
	if event.Active {
		frameType = "stream-started"
	}
	m.hub.Broadcast(event.RoomID, frameType, StreamPayload{
		RoomID:    event.RoomID,
		HostID:    event.HostID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *BroadcastModule) handleSignalRelayed(_ context.Context, event events.SignalRelayedEvent, _ *mono.Msg) error {
	m.hub.SendTo(event.TargetConnID, "webrtc-"+string(event.Kind), SignalPayload{
		RoomID:       event.RoomID,
		FromUserID:   event.FromUserID,
		FromUsername: event.FromUsername,
		Payload:      event.Payload,
	})
	return nil
}

func (m *BroadcastModule) handleViewerJoined(_ context.Context, event events.ViewerJoinedEvent, _ *mono.Msg) error {
	m.hub.SendTo(event.TargetConnID, "new-viewer-joined", ViewerPayload{
		RoomID:         event.RoomID,
		ViewerUserID:   event.ViewerUserID,
		ViewerUsername: event.ViewerUsername,
	})
	return nil
}

func (m *BroadcastModule) handleStatsUpdated(_ context.Context, event events.StatsUpdatedEvent, _ *mono.Msg) error {
	m.hub.BroadcastAll("stats-updated", event.Stats)
	return nil
}

// GetHub returns the WebSocket hub for the transport module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// Wire payload shapes.

// RosterPayload announces a membership change with the updated roster.
type RosterPayload struct {
	RoomID    string              `json:"room_id"`
	UserID    string              `json:"user_id"`
	Username  string              `json:"username"`
	Users     []party.UserSession `json:"users"`
	Timestamp time.Time           `json:"timestamp"`
}

// DisconnectPayload announces a temporary drop with the grace window.
type DisconnectPayload struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	GracePeriod int64     `json:"grace_period_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// HostChangedPayload announces host migration.
type HostChangedPayload struct {
	RoomID     string    `json:"room_id"`
	NewHostID  string    `json:"new_host_id"`
	Moderators []string  `json:"moderators"`
	Timestamp  time.Time `json:"timestamp"`
}

// ModeratorsPayload announces the updated moderator set.
type ModeratorsPayload struct {
	RoomID     string    `json:"room_id"`
	Moderators []string  `json:"moderators"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReactionPayload carries a message's full reaction map after a flip.
type ReactionPayload struct {
	RoomID    string                     `json:"room_id"`
	MessageID string                     `json:"message_id"`
	Reactions map[string][]party.Reactor `json:"reactions"`
}

// StreamPayload announces a stream state flip.
type StreamPayload struct {
	RoomID    string    `json:"room_id"`
	HostID    string    `json:"host_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalPayload is a relayed handshake envelope, tagged with the sender.
type SignalPayload struct {
	RoomID       string          `json:"room_id"`
	FromUserID   string          `json:"from_user_id"`
	FromUsername string          `json:"from_username"`
	Payload      json.RawMessage `json:"payload"`
}

// ViewerPayload tells the host to initiate an offer toward a new viewer.
type ViewerPayload struct {
	RoomID         string `json:"room_id"`
	ViewerUserID   string `json:"viewer_user_id"`
	ViewerUsername string `json:"viewer_username"`
}
