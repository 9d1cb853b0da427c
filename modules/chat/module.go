// Package chat appends messages to a room's bounded history and manages
// reply references and per-message emoji reactions.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/events"
	"github.com/example/watch-party-demo/modules/rooms"
)

// Default flood-protection budget: messages per user per window.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 10 * time.Second

	maxMessageLength = 2000
	sweepInterval    = time.Minute
)

// Module implements the chat service.
type Module struct {
	registry    *rooms.Registry
	limiter     *slidingWindow
	eventBus    mono.EventBus
	logger      types.Logger
	cancelSweep context.CancelFunc
}

// Compile-time interface checks.
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventBusAwareModule = (*Module)(nil)
	_ mono.EventEmitterModule  = (*Module)(nil)
)

// NewModule creates the chat module.
func NewModule(registry *rooms.Registry, rateLimit int, rateWindow time.Duration, logger types.Logger) *Module {
	return &Module{
		registry: registry,
		limiter:  newSlidingWindow(rateLimit, rateWindow),
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ChatMessageV1.ToBase(),
		events.ReactionUpdatedV1.ToBase(),
	}
}

// Start launches the limiter sweep loop.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelSweep = cancel
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.limiter.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
	m.logger.Info("Chat module started")
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.cancelSweep != nil {
		m.cancelSweep()
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// PostMessage appends a message to the room history and broadcasts it to
// the whole room, author included. replyToID optionally references an
// earlier message; the reference carries a denormalized snippet so it stays
// renderable after the original is evicted.
func (m *Module) PostMessage(roomID, userID, username, text, replyToID string) (*party.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is required")
	}
	if runes := []rune(text); len(runes) > maxMessageLength {
		text = string(runes[:maxMessageLength])
	}

	rm, ok := m.registry.Get(roomID)
	if !ok {
		return nil, party.ErrRoomNotFound
	}
	if _, ok := rm.Member(userID); !ok {
		return nil, party.ErrUserNotInRoom
	}

	if !m.limiter.allow(userID) {
		m.logger.Warn("Message rate limited", "roomID", rm.ID(), "userID", userID)
		return nil, party.ErrRateLimited
	}

	msg := party.ChatMessage{
		ID:        newMessageID(),
		UserID:    userID,
		Username:  username,
		Text:      text,
		Timestamp: time.Now(),
	}
	if replyToID != "" {
		msg.ReplyTo = rm.BuildReplyRef(replyToID)
	}

	rm.AppendMessage(msg)

	ev := events.ChatMessageEvent{RoomID: rm.ID(), Message: msg}
	if m.eventBus != nil {
		if err := events.ChatMessageV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish ChatMessage event", "error", err)
		}
	}

	m.logger.Debug("Message posted", "roomID", rm.ID(), "messageID", msg.ID)
	return &msg, nil
}

// ToggleReaction flips the caller's emoji reaction on a message and
// broadcasts the message's updated reaction map.
func (m *Module) ToggleReaction(roomID, messageID, emoji, userID, username string) (map[string][]party.Reactor, error) {
	if emoji == "" {
		return nil, fmt.Errorf("emoji is required")
	}

	rm, ok := m.registry.Get(roomID)
	if !ok {
		return nil, party.ErrRoomNotFound
	}
	if _, ok := rm.Member(userID); !ok {
		return nil, party.ErrUserNotInRoom
	}

	reactions, err := rm.ToggleReaction(messageID, emoji, party.Reactor{
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		return nil, err
	}

	ev := events.ReactionUpdatedEvent{
		RoomID:    rm.ID(),
		MessageID: messageID,
		Reactions: reactions,
	}
	if m.eventBus != nil {
		if err := events.ReactionUpdatedV1.Publish(m.eventBus, ev, nil); err != nil {
			m.logger.Warn("Failed to publish ReactionUpdated event", "error", err)
		}
	}
	return reactions, nil
}

// History returns a room's chat history in order.
func (m *Module) History(roomID string) ([]party.ChatMessage, error) {
	rm, ok := m.registry.Get(roomID)
	if !ok {
		return nil, party.ErrRoomNotFound
	}
	return rm.History(), nil
}

// newMessageID builds a collision-resistant id without a central counter:
// monotonic wall-clock millis plus a random suffix.
func newMessageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
