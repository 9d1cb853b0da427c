package rooms

import (
	"fmt"
	"strings"
	"sync"

	"github.com/example/watch-party-demo/domain/party"
)

// Registry owns the collection of all rooms and is the sole authority for
// room lifecycle. It is constructed once at process start and passed by
// reference into every module that touches room state.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	opts  Options
}

// NewRegistry creates an empty registry with the given room policy.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// SanitizeID normalizes a client-chosen room id to [a-z0-9_-]. Whitespace
// becomes a hyphen; anything else outside the alphabet is dropped.
func SanitizeID(raw string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		case c == ' ' || c == '\t':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// GetOrCreate returns the room with the given id, creating it if absent.
// Creation is idempotent: an existing room is returned unchanged and the
// caller decides whether that means "join" or "reject as already-exists".
func (g *Registry) GetOrCreate(id string) (*Room, bool, error) {
	id = SanitizeID(id)
	if id == "" {
		return nil, false, party.ErrInvalidRoomID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rm, ok := g.rooms[id]; ok {
		return rm, false, nil
	}
	rm := newRoom(id, g.opts)
	g.rooms[id] = rm
	return rm, true, nil
}

// CreateAndJoin atomically creates a room (or reclaims a surviving empty
// one), applies the password, and joins the caller as its host. An id that
// is already occupied is rejected with ErrRoomAlreadyActive. The registry
// lock is held across the whole sequence, so no concurrent join, create, or
// delete can interleave with the room's setup.
func (g *Registry) CreateAndJoin(id, userID, username, connID, password string) (*Room, *JoinState, error) {
	id = SanitizeID(id)
	if id == "" {
		return nil, nil, party.ErrInvalidRoomID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rm, ok := g.rooms[id]
	if ok && rm.UserCount() > 0 {
		return rm, nil, party.ErrRoomAlreadyActive
	}
	created := false
	if !ok {
		rm = newRoom(id, g.opts)
		created = true
	}

	if err := rm.SetPassword(password); err != nil {
		return rm, nil, err
	}
	st, err := rm.Join(userID, username, connID, password)
	if err != nil {
		return rm, nil, err
	}

	// A fresh room only becomes visible once its host is seated.
	if created {
		g.rooms[id] = rm
	}
	return rm, st, nil
}

// JoinOrCreate atomically joins a room, creating it for the first joiner.
// A failed join never leaves behind an empty room: a freshly created one is
// simply not registered, and a surviving empty one is dropped.
func (g *Registry) JoinOrCreate(id, userID, username, connID, password string) (*Room, bool, *JoinState, error) {
	id = SanitizeID(id)
	if id == "" {
		return nil, false, nil, party.ErrInvalidRoomID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rm, ok := g.rooms[id]
	created := false
	if !ok {
		rm = newRoom(id, g.opts)
		created = true
	}

	st, err := rm.Join(userID, username, connID, password)
	if err != nil {
		if !created && rm.UserCount() == 0 {
			delete(g.rooms, id)
		}
		return rm, created, nil, err
	}

	if created {
		g.rooms[id] = rm
	}
	return rm, created, st, nil
}

// Get looks up a room by id.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rm, ok := g.rooms[SanitizeID(id)]
	return rm, ok
}

// Delete removes an empty room. Deleting a room that still has members is a
// bug in the caller's serialization discipline, so the registry refuses.
func (g *Registry) Delete(id string) error {
	id = SanitizeID(id)

	g.mu.Lock()
	defer g.mu.Unlock()

	rm, ok := g.rooms[id]
	if !ok {
		return party.ErrRoomNotFound
	}
	if n := rm.UserCount(); n > 0 {
		return fmt.Errorf("refusing to delete room %q with %d members", id, n)
	}
	delete(g.rooms, id)
	return nil
}

// ListActive returns all rooms.
func (g *Registry) ListActive() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		out = append(out, rm)
	}
	return out
}

// Count returns the number of rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
