package relay

// RoomKind distinguishes the two room policies: ephemeral 2-party rooms
// created by matchmaking and destroyed on first leave, and durable public
// rooms created at startup and never destroyed.
type RoomKind string

const (
	RoomEphemeral RoomKind = "ephemeral"
	RoomDurable   RoomKind = "durable"
)

// ephemeralCapacity is fixed: pairing rooms hold exactly two peers.
const ephemeralCapacity = 2

// Room is a set of peers that may exchange signaling and chat.
type Room struct {
	ID       string
	Kind     RoomKind
	Name     string
	Capacity int

	members []string
	history []ChatMessage
}

// MemberCount returns the current membership size.
func (r *Room) MemberCount() int {
	return len(r.members)
}

// Members returns the member ids in join order, excluding the given id.
// Pass "" to include everyone.
func (r *Room) Members(exclude string) []string {
	out := make([]string, 0, len(r.members))
	for _, id := range r.members {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// RoomTable tracks all live rooms. Not safe for concurrent use: owned by an
// Engine and mutated only under the engine's lock.
type RoomTable struct {
	rooms         map[string]*Room
	durableByName map[string]string

	newID      func() string
	historyCap int
}

func NewRoomTable(newID func() string, historyCap int) *RoomTable {
	return &RoomTable{
		rooms:         make(map[string]*Room),
		durableByName: make(map[string]string),
		newID:         newID,
		historyCap:    historyCap,
	}
}

// CreateEphemeral allocates a new 2-member room holding exactly the given
// pair and returns its id.
func (t *RoomTable) CreateEphemeral(peerA, peerB string) string {
	id := t.newID()
	t.rooms[id] = &Room{
		ID:       id,
		Kind:     RoomEphemeral,
		Capacity: ephemeralCapacity,
		members:  []string{peerA, peerB},
	}
	return id
}

// CreateOrGetDurable returns the durable room registered under name,
// creating it empty on first call. The room id is the name itself so clients
// see a stable, human-readable id (e.g. "public-chat").
func (t *RoomTable) CreateOrGetDurable(name, displayName string, capacity int) string {
	if id, ok := t.durableByName[name]; ok {
		return id
	}
	t.rooms[name] = &Room{
		ID:       name,
		Kind:     RoomDurable,
		Name:     displayName,
		Capacity: capacity,
	}
	t.durableByName[name] = name
	return name
}

func (t *RoomTable) Get(roomID string) (*Room, bool) {
	r, ok := t.rooms[roomID]
	return r, ok
}

// Join adds the peer to the room's membership.
func (t *RoomTable) Join(roomID, peerID string) error {
	r, ok := t.rooms[roomID]
	if !ok {
		return ErrUnknownRoom
	}
	switch r.Kind {
	case RoomEphemeral:
		if len(r.members) >= ephemeralCapacity {
			return ErrInvalidJoin
		}
	case RoomDurable:
		if r.Capacity > 0 && len(r.members) >= r.Capacity {
			return ErrRoomFull
		}
	}
	r.members = append(r.members, peerID)
	return nil
}

// Leave removes the peer from the room and returns the remaining member
// count. Empty ephemeral rooms are deleted; durable rooms are retained empty
// since they may be rejoined. Leaving a room the peer is not in, or an
// unknown room, is a no-op returning 0.
func (t *RoomTable) Leave(roomID, peerID string) int {
	r, ok := t.rooms[roomID]
	if !ok {
		return 0
	}
	for i, id := range r.members {
		if id == peerID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 && r.Kind == RoomEphemeral {
		delete(t.rooms, roomID)
	}
	return len(r.members)
}

// Delete removes the room outright, regardless of membership. Used for
// ephemeral teardown when one of the pair leaves.
func (t *RoomTable) Delete(roomID string) {
	r, ok := t.rooms[roomID]
	if !ok {
		return
	}
	if r.Kind == RoomDurable {
		return
	}
	delete(t.rooms, roomID)
}

// AppendMessage pushes onto the room's history, evicting the oldest entry
// once the cap is exceeded.
func (t *RoomTable) AppendMessage(roomID string, msg ChatMessage) {
	r, ok := t.rooms[roomID]
	if !ok {
		return
	}
	r.history = append(r.history, msg)
	if t.historyCap > 0 && len(r.history) > t.historyCap {
		// Copy down rather than reslicing so evicted entries are freed.
		n := copy(r.history, r.history[len(r.history)-t.historyCap:])
		r.history = r.history[:n]
	}
}

// RecentMessages returns up to the last n history entries in chronological
// order. It is a pure read: repeated calls return the same result.
func (t *RoomTable) RecentMessages(roomID string, n int) []ChatMessage {
	r, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	start := 0
	if n > 0 && len(r.history) > n {
		start = len(r.history) - n
	}
	out := make([]ChatMessage, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}
