package rooms

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/watch-party-demo/domain/party"
)

// replySnippetLimit caps the denormalized text copied into a reply reference.
const replySnippetLimit = 80

// Room is the authoritative state of one watch-party. Every mutation runs
// under the room's own mutex; cross-room operations never share a lock.
type Room struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	opts      Options

	hostID       string
	users        map[string]*party.UserSession
	order        []string // userIDs in join order; drives host migration
	moderators   map[string]struct{}
	passwordHash string
	streamActive bool
	history      []party.ChatMessage

	// departures holds the pending grace timer per disconnected member.
	departures map[string]*time.Timer
}

func newRoom(id string, opts Options) *Room {
	return &Room{
		id:         id,
		createdAt:  time.Now(),
		opts:       opts,
		users:      make(map[string]*party.UserSession),
		moderators: make(map[string]struct{}),
		departures: make(map[string]*time.Timer),
	}
}

// JoinState is the snapshot handed back to a joining connection.
type JoinState struct {
	Rejoined     bool
	IsHost       bool
	HostID       string
	HostConnID   string
	Users        []party.UserSession
	Moderators   []string
	History      []party.ChatMessage
	StreamActive bool
	HasPassword  bool
}

// DepartureResult describes the room after a member's permanent removal.
type DepartureResult struct {
	UserID      string
	Username    string
	Users       []party.UserSession
	Moderators  []string
	HostChanged bool
	NewHostID   string
	Empty       bool
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// SetPassword hashes and stores the room password. Empty clears it,
// making the room public.
func (r *Room) SetPassword(plain string) error {
	if plain == "" {
		r.mu.Lock()
		r.passwordHash = ""
		r.mu.Unlock()
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), r.opts.BcryptCost)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.passwordHash = string(hash)
	r.mu.Unlock()
	return nil
}

// HasPassword reports whether the room is password-protected.
func (r *Room) HasPassword() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passwordHash != ""
}

// CheckPassword verifies a candidate password without mutating the room.
func (r *Room) CheckPassword(password string) error {
	r.mu.Lock()
	hash := r.passwordHash
	r.mu.Unlock()

	if hash == "" {
		return nil
	}
	if password == "" {
		return party.ErrPasswordRequired
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return party.ErrPasswordMismatch
	}
	return nil
}

// Join inserts a member, or refreshes the connection id when the userID is
// already present (reconnect). A reconnect cancels any pending departure,
// changes no membership, and is reported via JoinState.Rejoined so callers
// can suppress the user-joined broadcast.
func (r *Room) Join(userID, username, connID, password string) (*JoinState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.passwordHash != "" {
		if password == "" {
			return nil, party.ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(r.passwordHash), []byte(password)) != nil {
			return nil, party.ErrPasswordMismatch
		}
	}

	existing, ok := r.users[userID]
	if ok {
		// Last writer wins on the connection handle.
		existing.ConnectionID = connID
		existing.Username = username
		if t, pending := r.departures[userID]; pending {
			t.Stop()
			delete(r.departures, userID)
		}
		return r.joinStateLocked(userID, true), nil
	}

	if r.opts.MaxParticipants > 0 && len(r.users) >= r.opts.MaxParticipants {
		return nil, party.ErrRoomFull
	}

	r.users[userID] = &party.UserSession{
		UserID:       userID,
		Username:     username,
		ConnectionID: connID,
		JoinedAt:     time.Now(),
	}
	r.order = append(r.order, userID)

	if r.hostID == "" {
		r.hostID = userID
		r.moderators[userID] = struct{}{}
	}

	return r.joinStateLocked(userID, false), nil
}

func (r *Room) joinStateLocked(userID string, rejoined bool) *JoinState {
	st := &JoinState{
		Rejoined:     rejoined,
		IsHost:       userID == r.hostID,
		HostID:       r.hostID,
		Users:        r.usersLocked(),
		Moderators:   r.moderatorsLocked(),
		History:      append([]party.ChatMessage(nil), r.history...),
		StreamActive: r.streamActive,
		HasPassword:  r.passwordHash != "",
	}
	if host, ok := r.users[r.hostID]; ok {
		st.HostConnID = host.ConnectionID
	}
	return st
}

// Leave removes a member immediately, canceling any pending departure.
func (r *Room) Leave(userID string) (*DepartureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return nil, party.ErrUserNotInRoom
	}
	if t, pending := r.departures[userID]; pending {
		t.Stop()
		delete(r.departures, userID)
	}
	return r.removeLocked(userID), nil
}

// ScheduleDeparture starts the grace timer for a disconnected member. When
// the window expires without a rejoin, the member is removed and fn receives
// the outcome (outside the room lock). Rescheduling replaces a prior timer.
// The timer is only armed while connID is still the member's live connection
// handle: a stale handle means the member already reconnected on a newer
// socket, and the old socket closing must not evict them. The bool reports
// whether the timer was armed.
func (r *Room) ScheduleDeparture(userID, connID string, grace time.Duration, fn func(*DepartureResult)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return false, party.ErrUserNotInRoom
	}
	if u.ConnectionID != connID {
		return false, nil
	}
	if t, pending := r.departures[userID]; pending {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		r.mu.Lock()
		if r.departures[userID] != t {
			// Canceled or superseded while the timer was firing.
			r.mu.Unlock()
			return
		}
		delete(r.departures, userID)
		res := r.removeLocked(userID)
		r.mu.Unlock()
		if res != nil {
			fn(res)
		}
	})
	r.departures[userID] = t
	return true, nil
}

// LeaveIfCurrent removes a member only while connID is still its live
// connection handle. Used for disconnects without a grace window, where a
// stale socket closing must not evict a reconnected member. Returns a nil
// result when the handle is stale.
func (r *Room) LeaveIfCurrent(userID, connID string) (*DepartureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, party.ErrUserNotInRoom
	}
	if u.ConnectionID != connID {
		return nil, nil
	}
	if t, pending := r.departures[userID]; pending {
		t.Stop()
		delete(r.departures, userID)
	}
	return r.removeLocked(userID), nil
}

// CancelDeparture stops a pending grace timer. Returns false if none was open.
func (r *Room) CancelDeparture(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.departures[userID]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.departures, userID)
	return true
}

// removeLocked deletes the member and migrates host duty to the earliest
// remaining joiner. Departed users are pruned from the moderator set.
func (r *Room) removeLocked(userID string) *DepartureResult {
	user, ok := r.users[userID]
	if !ok {
		return nil
	}

	delete(r.users, userID)
	delete(r.moderators, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	res := &DepartureResult{
		UserID:   userID,
		Username: user.Username,
	}

	if r.hostID == userID {
		if len(r.order) > 0 {
			r.hostID = r.order[0]
			r.moderators[r.hostID] = struct{}{}
			res.HostChanged = true
			res.NewHostID = r.hostID
		} else {
			r.hostID = ""
		}
	}

	res.Empty = len(r.users) == 0
	res.Users = r.usersLocked()
	res.Moderators = r.moderatorsLocked()
	return res
}

// ToggleModerator flips targetUserID's moderator grant. Host only.
func (r *Room) ToggleModerator(actingUserID, targetUserID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actingUserID != r.hostID {
		return nil, party.ErrNotAuthorized
	}
	if _, ok := r.users[targetUserID]; !ok {
		return nil, party.ErrUserNotInRoom
	}
	if _, ok := r.moderators[targetUserID]; ok {
		delete(r.moderators, targetUserID)
	} else {
		r.moderators[targetUserID] = struct{}{}
	}
	return r.moderatorsLocked(), nil
}

// SetStreamActive flips the stream flag. Only the host may originate.
func (r *Room) SetStreamActive(userID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID != r.hostID {
		return party.ErrNotAuthorized
	}
	r.streamActive = active
	return nil
}

// StreamActive reports whether the host's stream is live.
func (r *Room) StreamActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamActive
}

// AppendMessage appends to the bounded history, evicting oldest first.
func (r *Room) AppendMessage(msg party.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, msg)
	if over := len(r.history) - r.opts.HistoryLimit; over > 0 {
		r.history = append([]party.ChatMessage(nil), r.history[over:]...)
	}
}

// BuildReplyRef resolves a reply target into a denormalized reference.
// Returns nil if the target has already been evicted from history.
func (r *Room) BuildReplyRef(messageID string) *party.ReplyRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].ID == messageID {
			snippet := r.history[i].Text
			if runes := []rune(snippet); len(runes) > replySnippetLimit {
				snippet = string(runes[:replySnippetLimit])
			}
			return &party.ReplyRef{
				ID:       messageID,
				Username: r.history[i].Username,
				Snippet:  snippet,
			}
		}
	}
	return nil
}

// ToggleReaction flips who's reaction under emoji for a message and returns
// the message's updated reaction map. The flip is an involution: applying it
// twice restores the prior state exactly.
func (r *Room) ToggleReaction(messageID, emoji string, who party.Reactor) (map[string][]party.Reactor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msg *party.ChatMessage
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].ID == messageID {
			msg = &r.history[i]
			break
		}
	}
	if msg == nil {
		return nil, party.ErrMessageNotFound
	}

	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]party.Reactor)
	}

	reactors := msg.Reactions[emoji]
	removed := false
	for i, rx := range reactors {
		if rx.UserID == who.UserID {
			reactors = append(reactors[:i], reactors[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(reactors) == 0 {
			delete(msg.Reactions, emoji)
		} else {
			msg.Reactions[emoji] = reactors
		}
	} else {
		msg.Reactions[emoji] = append(reactors, who)
	}
	if len(msg.Reactions) == 0 {
		msg.Reactions = nil
	}

	return copyReactions(msg.Reactions), nil
}

// History returns a copy of the chat history in order.
func (r *Room) History() []party.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]party.ChatMessage(nil), r.history...)
}

// Member returns a copy of one member's session.
func (r *Room) Member(userID string) (party.UserSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return party.UserSession{}, false
	}
	return *u, true
}

// ConnectionOf returns the live connection handle of a member.
func (r *Room) ConnectionOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return "", false
	}
	return u.ConnectionID, true
}

// HostID returns the current host's user id, or "" while the room is empty.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// UserCount returns the number of members, including seats held open by a
// grace timer.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Users returns the members in join order.
func (r *Room) Users() []party.UserSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked()
}

// Moderators returns the moderator set in join order.
func (r *Room) Moderators() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moderatorsLocked()
}

// LiveConnectionIDs returns the connection handles of all members.
func (r *Room) LiveConnectionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.order))
	for _, uid := range r.order {
		ids = append(ids, r.users[uid].ConnectionID)
	}
	return ids
}

// Summary returns the discovery view of the room.
func (r *Room) Summary() party.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return party.RoomSummary{
		ID:           r.id,
		UserCount:    len(r.users),
		StreamActive: r.streamActive,
	}
}

// Clear drops all members and stops every pending timer. Used by the stats
// reaper before deleting a room whose connections are all dead.
func (r *Room) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.departures {
		t.Stop()
	}
	r.departures = make(map[string]*time.Timer)
	r.users = make(map[string]*party.UserSession)
	r.order = nil
	r.moderators = make(map[string]struct{})
	r.hostID = ""
	r.streamActive = false
}

func (r *Room) usersLocked() []party.UserSession {
	users := make([]party.UserSession, 0, len(r.order))
	for _, uid := range r.order {
		users = append(users, *r.users[uid])
	}
	return users
}

func (r *Room) moderatorsLocked() []string {
	mods := make([]string, 0, len(r.moderators))
	for _, uid := range r.order {
		if _, ok := r.moderators[uid]; ok {
			mods = append(mods, uid)
		}
	}
	return mods
}

func copyReactions(src map[string][]party.Reactor) map[string][]party.Reactor {
	if src == nil {
		return map[string][]party.Reactor{}
	}
	dst := make(map[string][]party.Reactor, len(src))
	for emoji, reactors := range src {
		dst[emoji] = append([]party.Reactor(nil), reactors...)
	}
	return dst
}
