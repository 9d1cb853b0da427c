package wsserver

import (
	"encoding/json"
	"errors"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/watch-party-demo/domain/party"
	"github.com/example/watch-party-demo/modules/broadcast"
	"github.com/example/watch-party-demo/modules/chat"
	"github.com/example/watch-party-demo/modules/presence"
	"github.com/example/watch-party-demo/modules/rooms"
	"github.com/example/watch-party-demo/modules/signaling"
	"github.com/example/watch-party-demo/modules/stats"
)

// Frame is the wire envelope read from clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of a typed error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomPayload carries room create/join parameters.
type RoomPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// VerifyPasswordPayload carries a password pre-check.
type VerifyPasswordPayload struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password"`
}

// ToggleModeratorPayload carries a moderator grant/revoke request.
type ToggleModeratorPayload struct {
	RoomID       string `json:"room_id,omitempty"`
	TargetUserID string `json:"target_user_id"`
}

// ChatPayload carries an outgoing chat message.
type ChatPayload struct {
	RoomID  string `json:"room_id,omitempty"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// ReactionTogglePayload carries an emoji reaction flip.
type ReactionTogglePayload struct {
	RoomID    string `json:"room_id,omitempty"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// SignalRequestPayload carries an addressed WebRTC handshake envelope.
type SignalRequestPayload struct {
	RoomID       string          `json:"room_id,omitempty"`
	TargetUserID string          `json:"target_user_id"`
	Payload      json.RawMessage `json:"payload"`
}

// StreamTogglePayload carries a stream state flip.
type StreamTogglePayload struct {
	RoomID string `json:"room_id,omitempty"`
}

// RoomSnapshotPayload is the direct reply to a successful create or join.
type RoomSnapshotPayload struct {
	RoomID       string              `json:"room_id"`
	IsHost       bool                `json:"is_host"`
	HostID       string              `json:"host_id"`
	Users        []party.UserSession `json:"users"`
	Moderators   []string            `json:"moderators"`
	ChatHistory  []party.ChatMessage `json:"chat_history"`
	StreamActive bool                `json:"stream_active"`
	HasPassword  bool                `json:"has_password"`
}

// session binds a transient connection handle to the stable user identity
// behind it and the room it currently occupies.
type session struct {
	connID   string
	userID   string
	username string
	roomID   string
}

// Handlers contains the WebSocket and REST handlers.
type Handlers struct {
	presence  *presence.Module
	chat      *chat.Module
	signaling *signaling.Module
	stats     *stats.Module
	registry  *rooms.Registry
	hub       *broadcast.Hub
	logger    types.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	presenceModule *presence.Module,
	chatModule *chat.Module,
	signalingModule *signaling.Module,
	statsModule *stats.Module,
	registry *rooms.Registry,
	hub *broadcast.Hub,
	moduleLogger types.Logger,
) *Handlers {
	return &Handlers{
		presence:  presenceModule,
		chat:      chatModule,
		signaling: signalingModule,
		stats:     statsModule,
		registry:  registry,
		hub:       hub,
		logger:    moduleLogger,
	}
}

// HandleWebSocket runs the read loop for one connection. Connection close is
// treated like a drop, not a leave: the presence module decides whether a
// grace window applies.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	sess := &session{connID: uuid.New().String()}
	client := &broadcast.Client{ID: sess.connID, Conn: c}
	h.hub.Register(client)

	defer func() {
		h.hub.Unregister(client)
		if sess.roomID != "" && sess.userID != "" {
			h.presence.Disconnect(sess.roomID, sess.userID, sess.connID)
		}
		c.Close()
	}()

	h.logger.Info("WebSocket connected", "connID", sess.connID)

	// Push the aggregate snapshot so a fresh client need not wait for the
	// next stats tick.
	h.hub.SendTo(sess.connID, "stats-updated", h.stats.Snapshot())

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "connID", sess.connID, "error", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendErrorFrame(sess, "error", "invalid frame format")
			continue
		}

		h.handleFrame(sess, frame)
	}

	h.logger.Info("WebSocket disconnected", "connID", sess.connID, "userID", sess.userID)
}

// handleFrame dispatches an inbound frame by type.
func (h *Handlers) handleFrame(sess *session, frame Frame) {
	switch frame.Type {
	case "create-room":
		h.handleCreateRoom(sess, frame.Payload)
	case "join-room":
		h.handleJoinRoom(sess, frame.Payload)
	case "leave-room":
		h.handleLeaveRoom(sess)
	case "verify-password":
		h.handleVerifyPassword(sess, frame.Payload)
	case "toggle-moderator":
		h.handleToggleModerator(sess, frame.Payload)
	case "chat-message":
		h.handleChatMessage(sess, frame.Payload)
	case "toggle-reaction":
		h.handleToggleReaction(sess, frame.Payload)
	case "webrtc-offer":
		h.handleSignal(sess, party.SignalOffer, frame.Payload)
	case "webrtc-answer":
		h.handleSignal(sess, party.SignalAnswer, frame.Payload)
	case "webrtc-ice-candidate":
		h.handleSignal(sess, party.SignalICECandidate, frame.Payload)
	case "stream-started":
		h.handleStreamToggle(sess, frame.Payload, true)
	case "stream-stopped":
		h.handleStreamToggle(sess, frame.Payload, false)
	case "get-popular-rooms":
		h.hub.SendTo(sess.connID, "popular-rooms", h.stats.Snapshot())
	case "ping":
		h.hub.SendTo(sess.connID, "pong", nil)
	default:
		h.sendErrorFrame(sess, "error", "unknown frame type: "+frame.Type)
	}
}

func (h *Handlers) handleCreateRoom(sess *session, payload json.RawMessage) {
	var req RoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid create-room payload")
		return
	}
	if req.RoomID == "" || req.UserID == "" || req.Username == "" {
		h.sendErrorFrame(sess, "error", "room_id, user_id and username are required")
		return
	}

	roomID, st, err := h.presence.CreateRoom(req.RoomID, req.UserID, req.Username, sess.connID, req.Password)
	if err != nil {
		h.sendError(sess, err)
		return
	}

	h.leavePrevious(sess, roomID)
	sess.userID = req.UserID
	sess.username = req.Username
	sess.roomID = roomID
	h.hub.JoinRoom(sess.connID, roomID)

	h.hub.SendTo(sess.connID, "room-created", snapshotPayload(roomID, st))
}

func (h *Handlers) handleJoinRoom(sess *session, payload json.RawMessage) {
	var req RoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid join-room payload")
		return
	}
	if req.RoomID == "" || req.UserID == "" || req.Username == "" {
		h.sendErrorFrame(sess, "error", "room_id, user_id and username are required")
		return
	}

	roomID, st, err := h.presence.JoinRoom(req.RoomID, req.UserID, req.Username, sess.connID, req.Password)
	if err != nil {
		h.sendError(sess, err)
		return
	}

	h.leavePrevious(sess, roomID)
	sess.userID = req.UserID
	sess.username = req.Username
	sess.roomID = roomID
	h.hub.JoinRoom(sess.connID, roomID)

	h.hub.SendTo(sess.connID, "room-joined", snapshotPayload(roomID, st))
}

func (h *Handlers) handleLeaveRoom(sess *session) {
	if sess.roomID == "" || sess.userID == "" {
		h.sendErrorFrame(sess, "error", "not in a room")
		return
	}

	roomID := sess.roomID
	if err := h.presence.LeaveRoom(roomID, sess.userID); err != nil {
		h.sendError(sess, err)
		return
	}

	h.hub.LeaveRoom(sess.connID)
	sess.roomID = ""
	h.hub.SendTo(sess.connID, "room-left", fiber.Map{"room_id": roomID})
}

func (h *Handlers) handleVerifyPassword(sess *session, payload json.RawMessage) {
	var req VerifyPasswordPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid verify-password payload")
		return
	}

	ok, err := h.presence.VerifyPassword(req.RoomID, req.Password)
	if err != nil {
		h.sendError(sess, err)
		return
	}
	h.hub.SendTo(sess.connID, "password-result", fiber.Map{
		"room_id": req.RoomID,
		"success": ok,
	})
}

func (h *Handlers) handleToggleModerator(sess *session, payload json.RawMessage) {
	var req ToggleModeratorPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid toggle-moderator payload")
		return
	}

	if _, err := h.presence.ToggleModerator(h.roomFor(sess, req.RoomID), sess.userID, req.TargetUserID); err != nil {
		h.sendError(sess, err)
	}
}

func (h *Handlers) handleChatMessage(sess *session, payload json.RawMessage) {
	var req ChatPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid chat-message payload")
		return
	}

	if _, err := h.chat.PostMessage(h.roomFor(sess, req.RoomID), sess.userID, sess.username, req.Text, req.ReplyTo); err != nil {
		h.sendError(sess, err)
	}
}

func (h *Handlers) handleToggleReaction(sess *session, payload json.RawMessage) {
	var req ReactionTogglePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid toggle-reaction payload")
		return
	}

	if _, err := h.chat.ToggleReaction(h.roomFor(sess, req.RoomID), req.MessageID, req.Emoji, sess.userID, sess.username); err != nil {
		h.sendError(sess, err)
	}
}

func (h *Handlers) handleSignal(sess *session, kind party.SignalKind, payload json.RawMessage) {
	var req SignalRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendErrorFrame(sess, "error", "invalid signaling payload")
		return
	}

	if err := h.signaling.Relay(h.roomFor(sess, req.RoomID), sess.userID, sess.username, req.TargetUserID, kind, req.Payload); err != nil {
		h.sendError(sess, err)
	}
}

func (h *Handlers) handleStreamToggle(sess *session, payload json.RawMessage, active bool) {
	var req StreamTogglePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			h.sendErrorFrame(sess, "error", "invalid stream payload")
			return
		}
	}

	if err := h.presence.SetStreamActive(h.roomFor(sess, req.RoomID), sess.userID, active); err != nil {
		h.sendError(sess, err)
	}
}

// leavePrevious removes the session's membership in its old room after a
// switch to a different one, so no phantom seat (or host duty) lingers
// behind a live connection. Rejoining the same room is not a switch.
func (h *Handlers) leavePrevious(sess *session, newRoomID string) {
	if sess.roomID == "" || sess.roomID == newRoomID {
		return
	}
	if err := h.presence.LeaveRoom(sess.roomID, sess.userID); err != nil {
		h.logger.Warn("Failed to leave previous room",
			"roomID", sess.roomID, "userID", sess.userID, "error", err)
	}
	sess.roomID = ""
}

// roomFor resolves the target room: an explicit id in the payload wins,
// otherwise the session's current room is used.
func (h *Handlers) roomFor(sess *session, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return sess.roomID
}

// sendError maps a domain error onto its typed outbound frame. All of these
// are recoverable and reported to the calling connection only.
func (h *Handlers) sendError(sess *session, err error) {
	h.sendErrorFrame(sess, errorFrameType(err), err.Error())
}

func (h *Handlers) sendErrorFrame(sess *session, frameType, message string) {
	h.hub.SendTo(sess.connID, frameType, ErrorPayload{Message: message})
}

func errorFrameType(err error) string {
	switch {
	case errors.Is(err, party.ErrRoomNotFound):
		return "room-not-found"
	case errors.Is(err, party.ErrRoomAlreadyActive):
		return "room-already-exists"
	case errors.Is(err, party.ErrRoomFull):
		return "room-full"
	case errors.Is(err, party.ErrPasswordRequired):
		return "password-required"
	case errors.Is(err, party.ErrPasswordMismatch):
		return "password-mismatch"
	case errors.Is(err, party.ErrNotAuthorized):
		return "not-authorized"
	case errors.Is(err, party.ErrMessageNotFound):
		return "message-not-found"
	case errors.Is(err, party.ErrTargetNotInRoom):
		return "target-not-in-room"
	case errors.Is(err, party.ErrUserNotInRoom):
		return "user-not-in-room"
	case errors.Is(err, party.ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, party.ErrInvalidRoomID):
		return "invalid-room-id"
	default:
		return "error"
	}
}

func snapshotPayload(roomID string, st *rooms.JoinState) RoomSnapshotPayload {
	return RoomSnapshotPayload{
		RoomID:       roomID,
		IsHost:       st.IsHost,
		HostID:       st.HostID,
		Users:        st.Users,
		Moderators:   st.Moderators,
		ChatHistory:  st.History,
		StreamActive: st.StreamActive,
		HasPassword:  st.HasPassword,
	}
}

// REST Handlers

// ListRooms handles discovery requests (GET /api/v1/rooms). Password
// protected rooms never show up in discovery.
func (h *Handlers) ListRooms(c *fiber.Ctx) error {
	summaries := []party.RoomSummary{}
	for _, rm := range h.registry.ListActive() {
		if rm.HasPassword() {
			continue
		}
		if s := rm.Summary(); s.UserCount > 0 {
			summaries = append(summaries, s)
		}
	}
	return c.JSON(fiber.Map{
		"rooms": summaries,
		"total": len(summaries),
	})
}

// GetRoom handles room detail requests (GET /api/v1/rooms/:id).
func (h *Handlers) GetRoom(c *fiber.Ctx) error {
	rm, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Room not found",
		})
	}
	return c.JSON(fiber.Map{
		"room":         rm.Summary(),
		"has_password": rm.HasPassword(),
		"moderators":   rm.Moderators(),
	})
}

// GetStats handles aggregate snapshot requests (GET /api/v1/stats).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Snapshot())
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "watch-party-demo",
	})
}
