package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Client represents a connected WebSocket client.
type Client struct {
	ID       string // connection handle, unique per socket
	UserID   string
	Username string
	RoomID   string
	Conn     *websocket.Conn

	writeMu sync.Mutex // serializes frame writes on Conn
}

// Frame is the wire envelope written to clients.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections and fans frames out to rooms. Sends are
// fire-and-forget: a slow or dead peer logs a write error and never stalls
// processing for the rest of the room.
type Hub struct {
	clients   map[string]*Client         // connID -> Client
	rooms     map[string]map[string]bool // roomID -> set of connIDs
	broadcast chan *broadcastRequest
	done      chan struct{}
	mu        sync.RWMutex
}

type broadcastRequest struct {
	RoomID     string // "" broadcasts to all clients
	ExceptConn string // connID excluded from the fan-out, if any
	Frame      Frame
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]bool),
		broadcast: make(chan *broadcastRequest, 256),
		done:      make(chan struct{}),
	}
}

// Run starts the hub's main loop. It accepts a context for graceful shutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.done)
			return
		case req := <-h.broadcast:
			h.handleBroadcast(req)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		_ = client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]bool)
}

func (h *Hub) handleBroadcast(req *broadcastRequest) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(req.Frame)
	if err != nil {
		log.Printf("[hub] Failed to marshal broadcast frame: %v", err)
		return
	}

	if req.RoomID == "" {
		for _, client := range h.clients {
			if client.ID != req.ExceptConn {
				h.sendToClient(client, data)
			}
		}
		return
	}

	for connID := range h.rooms[req.RoomID] {
		if connID == req.ExceptConn {
			continue
		}
		if client, ok := h.clients[connID]; ok {
			h.sendToClient(client, data)
		}
	}
}

func (h *Hub) sendToClient(client *Client, data []byte) {
	client.writeMu.Lock()
	err := client.Conn.WriteMessage(websocket.TextMessage, data)
	client.writeMu.Unlock()
	if err != nil {
		log.Printf("[hub] Failed to send to connection %s: %v", client.ID, err)
	}
}

// Register adds a client to the hub. Synchronous, so a frame may be sent to
// the connection as soon as Register returns.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	log.Printf("[hub] Connection %s registered", client.ID)
}

// Unregister removes a client from the hub and its room fan-out set.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		h.leaveRoomLocked(client)
		log.Printf("[hub] Connection %s unregistered", client.ID)
	}
}

// Broadcast sends a frame to every connection in a room.
func (h *Hub) Broadcast(roomID, frameType string, payload any) {
	h.broadcast <- &broadcastRequest{
		RoomID: roomID,
		Frame:  Frame{Type: frameType, Payload: payload},
	}
}

// BroadcastExcept sends a frame to every connection in a room except one.
func (h *Hub) BroadcastExcept(roomID, exceptConnID, frameType string, payload any) {
	h.broadcast <- &broadcastRequest{
		RoomID:     roomID,
		ExceptConn: exceptConnID,
		Frame:      Frame{Type: frameType, Payload: payload},
	}
}

// BroadcastAll sends a frame to every connected client.
func (h *Hub) BroadcastAll(frameType string, payload any) {
	h.broadcast <- &broadcastRequest{
		Frame: Frame{Type: frameType, Payload: payload},
	}
}

// SendTo writes a frame to a single connection. Used for direct replies and
// peer-addressed signaling envelopes.
func (h *Hub) SendTo(connID, frameType string, payload any) {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(Frame{Type: frameType, Payload: payload})
	if err != nil {
		log.Printf("[hub] Failed to marshal frame: %v", err)
		return
	}
	h.sendToClient(client, data)
}

// JoinRoom moves a connection into a room's fan-out set.
func (h *Hub) JoinRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}

	h.leaveRoomLocked(client)
	client.RoomID = roomID
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][connID] = true
	log.Printf("[hub] Connection %s joined room %s", connID, roomID)
}

// LeaveRoom removes a connection from its current room's fan-out set.
func (h *Hub) LeaveRoom(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		h.leaveRoomLocked(client)
	}
}

func (h *Hub) leaveRoomLocked(client *Client) {
	if client.RoomID == "" {
		return
	}
	if conns := h.rooms[client.RoomID]; conns != nil {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.rooms, client.RoomID)
		}
	}
	client.RoomID = ""
}

// IsConnected reports whether a connection handle is still attached.
func (h *Hub) IsConnected(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connID]
	return ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
