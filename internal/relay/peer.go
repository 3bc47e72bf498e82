package relay

// Status is a peer's matchmaking state. It is kept explicit rather than
// inferred from room presence so the waiting state survives independently of
// room assignment.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWaiting Status = "waiting"
	StatusBusy    Status = "busy"
)

// Peer is one connected signaling client.
type Peer struct {
	ID       string
	Nickname string
	Status   Status

	// RoomID is the peer's current room, or "" when unassigned. A peer is in
	// at most one room at a time.
	RoomID string
}

// Registry tracks every connected peer. It performs no locking of its own:
// it is owned by an Engine and only mutated under the engine's lock.
type Registry struct {
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Register creates a peer with status idle and no room.
func (r *Registry) Register(id, nickname string) error {
	if _, ok := r.peers[id]; ok {
		return ErrDuplicatePeer
	}
	r.peers[id] = &Peer{
		ID:       id,
		Nickname: nickname,
		Status:   StatusIdle,
	}
	return nil
}

// SetRoom updates the peer's room reference. A non-empty room id implies
// status busy; clearing the room returns the peer to idle.
func (r *Registry) SetRoom(id, roomID string) error {
	p, ok := r.peers[id]
	if !ok {
		return ErrUnknownPeer
	}
	p.RoomID = roomID
	if roomID != "" {
		p.Status = StatusBusy
	} else {
		p.Status = StatusIdle
	}
	return nil
}

// SetWaiting marks a roomless peer as waiting for a partner.
func (r *Registry) SetWaiting(id string) error {
	p, ok := r.peers[id]
	if !ok {
		return ErrUnknownPeer
	}
	p.Status = StatusWaiting
	return nil
}

func (r *Registry) Get(id string) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Remove deletes the peer entry. Removing an absent id is a no-op so
// disconnect cleanup is safe to run more than once.
func (r *Registry) Remove(id string) {
	delete(r.peers, id)
}

func (r *Registry) Len() int {
	return len(r.peers)
}
