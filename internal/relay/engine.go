package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abyuwono/mivochat/internal/metrics"
	"github.com/abyuwono/mivochat/internal/nickname"
)

const (
	DefaultPublicRoomID       = "public-chat"
	DefaultPublicRoomName     = "Public Chat Room"
	DefaultPublicRoomCapacity = 50
	DefaultHistoryCap         = 100
	DefaultRecentMessageLimit = 50
)

// Config wires together the runtime dependencies for the matchmaking engine.
// Zero values select sensible defaults, so tests can use small struct
// literals.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Nickname generates display names for connecting peers.
	Nickname func() string

	// Now supplies chat message timestamps.
	Now func() time.Time

	// NewRoomID allocates ephemeral room ids.
	NewRoomID func() string

	// MaxPeers caps concurrently connected peers. <= 0 means unlimited.
	MaxPeers int

	PublicRoomID       string
	PublicRoomName     string
	PublicRoomCapacity int

	// HistoryCap bounds a durable room's stored message history.
	HistoryCap int
	// RecentMessageLimit bounds the history slice returned on join.
	RecentMessageLimit int
}

// Engine is the matchmaking and relay core: peer registry, room table,
// waiting queue, pairing, signal/chat relay and disconnect cleanup.
//
// All shared state is owned by the engine and guarded by a single mutex;
// handlers do no blocking I/O while holding it. Outbound delivery goes
// through per-peer EventSinks whose Send never blocks.
type Engine struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	nickname  func() string
	now       func() time.Time
	newRoomID func() string

	maxPeers     int
	publicRoomID string
	recentLimit  int

	mu       sync.Mutex
	registry *Registry
	rooms    *RoomTable
	queue    *waitingQueue
	sinks    map[string]EventSink
}

func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Nickname == nil {
		cfg.Nickname = nickname.Generate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = uuid.NewString
	}
	if cfg.PublicRoomID == "" {
		cfg.PublicRoomID = DefaultPublicRoomID
	}
	if cfg.PublicRoomName == "" {
		cfg.PublicRoomName = DefaultPublicRoomName
	}
	if cfg.PublicRoomCapacity == 0 {
		cfg.PublicRoomCapacity = DefaultPublicRoomCapacity
	}
	if cfg.HistoryCap == 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.RecentMessageLimit == 0 {
		cfg.RecentMessageLimit = DefaultRecentMessageLimit
	}

	e := &Engine{
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		nickname:     cfg.Nickname,
		now:          cfg.Now,
		newRoomID:    cfg.NewRoomID,
		maxPeers:     cfg.MaxPeers,
		publicRoomID: cfg.PublicRoomID,
		recentLimit:  cfg.RecentMessageLimit,
		registry:     NewRegistry(),
		rooms:        NewRoomTable(cfg.NewRoomID, cfg.HistoryCap),
		queue:        newWaitingQueue(),
		sinks:        make(map[string]EventSink),
	}

	// Durable rooms exist for the lifetime of the process.
	e.rooms.CreateOrGetDurable(cfg.PublicRoomID, cfg.PublicRoomName, cfg.PublicRoomCapacity)

	return e
}

// PublicRoomID returns the id of the durable public room.
func (e *Engine) PublicRoomID() string {
	return e.publicRoomID
}

// PeerCount returns the number of connected peers.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Len()
}

// Connect registers a new peer and delivers its generated nickname as the
// first event through sink. It returns the nickname, or ErrTooManyPeers /
// ErrDuplicatePeer when the connection must be dropped.
func (e *Engine) Connect(peerID string, sink EventSink) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxPeers > 0 && e.registry.Len() >= e.maxPeers {
		e.metrics.Inc(metrics.DropReasonTooManyPeers)
		return "", ErrTooManyPeers
	}

	nick := e.nickname()
	if err := e.registry.Register(peerID, nick); err != nil {
		return "", err
	}
	e.sinks[peerID] = sink

	e.metrics.Inc(metrics.PeerConnected)
	e.log.Info("peer connected", "peer", peerID, "nickname", nick)

	e.sendLocked(peerID, Event{Type: EventNickname, Nickname: nick})
	return nick, nil
}

// Disconnect runs the full cleanup path for a peer: waiting queue removal,
// room leave with co-member notification, registry removal. It is idempotent
// and also serves the explicit leave-room request, which the protocol treats
// as another form of exit.
func (e *Engine) Disconnect(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.registry.Get(peerID)
	if !ok {
		return
	}

	e.queue.Remove(peerID)
	if p.RoomID != "" {
		e.leaveRoomLocked(p)
	}
	e.registry.Remove(peerID)
	delete(e.sinks, peerID)

	e.metrics.Inc(metrics.PeerDisconnected)
	e.log.Info("peer disconnected", "peer", peerID)
}

// FindPeer pairs the caller with the longest-waiting peer, or enqueues the
// caller when nobody else is waiting. The caller that completes a pairing is
// the WebRTC initiator. A peer already in a room leaves it first.
func (e *Engine) FindPeer(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.registry.Get(peerID)
	if !ok {
		e.dropLocked(peerID, "find-peer", metrics.DropReasonUnknownPeer)
		return
	}

	if p.RoomID != "" {
		e.leaveRoomLocked(p)
	}

	if head, ok := e.queue.Head(); ok && head != peerID {
		partner, _ := e.queue.PopHead()
		pp, ok := e.registry.Get(partner)
		if !ok {
			// Disconnect removes peers from the queue, so a queued peer is
			// always registered.
			e.log.Error("waiting queue held unregistered peer", "peer", partner)
			return
		}

		roomID := e.rooms.CreateEphemeral(partner, peerID)
		_ = e.registry.SetRoom(partner, roomID)
		_ = e.registry.SetRoom(peerID, roomID)

		e.metrics.Inc(metrics.PairCreated)
		e.log.Info("peers paired", "room", roomID, "initiator", peerID, "partner", partner)

		e.sendLocked(partner, Event{Type: EventRoomJoined, RoomID: roomID})
		e.sendLocked(peerID, Event{Type: EventRoomJoined, RoomID: roomID})
		e.sendLocked(peerID, Event{
			Type:         EventPeerFound,
			IsInitiator:  ptr(true),
			PeerNickname: pp.Nickname,
			RoomID:       roomID,
		})
		e.sendLocked(partner, Event{
			Type:         EventPeerFound,
			IsInitiator:  ptr(false),
			PeerNickname: p.Nickname,
			RoomID:       roomID,
		})
		return
	}

	if e.queue.Push(peerID) {
		_ = e.registry.SetWaiting(peerID)
		e.log.Debug("peer queued for pairing", "peer", peerID)
	}
}

// JoinPublicRoom moves the peer into the durable public room: any current
// room is left first, a pending pairing request is cancelled, the caller
// receives the room snapshot with recent history and all other members get
// the updated member count. Returns ErrRoomFull when the room is at
// capacity.
func (e *Engine) JoinPublicRoom(peerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.registry.Get(peerID)
	if !ok {
		e.dropLocked(peerID, "join-public-room", metrics.DropReasonUnknownPeer)
		return ErrUnknownPeer
	}

	if p.RoomID == e.publicRoomID {
		// Already a member; resend the snapshot instead of double-joining.
		e.sendLocked(peerID, e.publicRoomSnapshotLocked(p))
		return nil
	}

	// Join first: a rejected request must leave the peer's queue position and
	// current room untouched.
	if err := e.rooms.Join(e.publicRoomID, peerID); err != nil {
		e.metrics.Inc(metrics.DropReasonRoomFull)
		e.log.Warn("public room join rejected", "peer", peerID, "err", err)
		return err
	}

	e.queue.Remove(peerID)
	if p.RoomID != "" {
		e.leaveRoomLocked(p)
	}
	_ = e.registry.SetRoom(peerID, e.publicRoomID)

	e.metrics.Inc(metrics.PublicRoomJoined)

	e.sendLocked(peerID, e.publicRoomSnapshotLocked(p))

	room, _ := e.rooms.Get(e.publicRoomID)
	count := room.MemberCount()
	for _, id := range room.Members(peerID) {
		e.sendLocked(id, Event{
			Type:      EventUserCountUpdated,
			RoomID:    e.publicRoomID,
			UserCount: ptr(count),
		})
	}
	return nil
}

func (e *Engine) publicRoomSnapshotLocked(p *Peer) Event {
	room, _ := e.rooms.Get(e.publicRoomID)
	recent := e.rooms.RecentMessages(e.publicRoomID, e.recentLimit)
	return Event{
		Type:           EventPublicRoomJoined,
		RoomID:         e.publicRoomID,
		Name:           room.Name,
		UserCount:      ptr(room.MemberCount()),
		RecentMessages: &recent,
		Nickname:       p.Nickname,
	}
}

// Signal forwards an opaque signaling payload to the sender's room
// co-members. The payload is never parsed. Peers without a room are a
// silent drop.
func (e *Engine) Signal(peerID string, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.registry.Get(peerID)
	if !ok {
		e.dropLocked(peerID, "signal", metrics.DropReasonUnknownPeer)
		return
	}
	room, ok := e.roomOfLocked(p)
	if !ok {
		return
	}

	for _, id := range room.Members(peerID) {
		e.sendLocked(id, Event{Type: EventSignal, Payload: payload})
	}
	e.metrics.Inc(metrics.SignalRelayed)
}

// SendChat wraps text with the sender's identity and a server timestamp and
// forwards it to the sender's room co-members. Durable rooms record the
// message in history before forwarding and deliver it as public-message;
// ephemeral rooms deliver it as message.
func (e *Engine) SendChat(peerID, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.registry.Get(peerID)
	if !ok {
		e.dropLocked(peerID, "message", metrics.DropReasonUnknownPeer)
		return
	}
	room, ok := e.roomOfLocked(p)
	if !ok {
		return
	}

	now := e.now()
	evType := EventMessage
	if room.Kind == RoomDurable {
		evType = EventPublicMessage
		e.rooms.AppendMessage(room.ID, ChatMessage{
			Sender:    peerID,
			Text:      text,
			Timestamp: now,
			Nickname:  p.Nickname,
		})
	}

	for _, id := range room.Members(peerID) {
		e.sendLocked(id, Event{
			Type:      evType,
			Sender:    peerID,
			Text:      text,
			Timestamp: &now,
			Nickname:  p.Nickname,
		})
	}
	e.metrics.Inc(metrics.ChatRelayed)
}

// roomOfLocked resolves the sender's room, counting a silent drop when the
// peer has none.
func (e *Engine) roomOfLocked(p *Peer) (*Room, bool) {
	if p.RoomID == "" {
		e.metrics.Inc(metrics.DropReasonNoRoom)
		return nil, false
	}
	room, ok := e.rooms.Get(p.RoomID)
	if !ok {
		e.metrics.Inc(metrics.DropReasonNoRoom)
		return nil, false
	}
	return room, true
}

// leaveRoomLocked removes p from its room and applies the per-kind policy:
// an ephemeral room is torn down immediately, its remaining member notified
// and freed for matchmaking; a durable room broadcasts the updated member
// count.
func (e *Engine) leaveRoomLocked(p *Peer) {
	roomID := p.RoomID
	room, ok := e.rooms.Get(roomID)
	_ = e.registry.SetRoom(p.ID, "")
	if !ok {
		return
	}

	remaining := e.rooms.Leave(roomID, p.ID)

	switch room.Kind {
	case RoomEphemeral:
		if remaining > 0 {
			for _, other := range room.Members("") {
				_ = e.registry.SetRoom(other, "")
				e.sendLocked(other, Event{Type: EventPeerDisconnected})
			}
			e.rooms.Delete(roomID)
			e.metrics.Inc(metrics.PairTornDown)
			e.log.Info("pair room torn down", "room", roomID)
		}
	case RoomDurable:
		count := room.MemberCount()
		for _, id := range room.Members("") {
			e.sendLocked(id, Event{
				Type:      EventUserCountUpdated,
				RoomID:    roomID,
				UserCount: ptr(count),
			})
		}
	}
}

func (e *Engine) sendLocked(peerID string, ev Event) {
	sink, ok := e.sinks[peerID]
	if !ok {
		return
	}
	if !sink.Send(ev) {
		e.metrics.Inc(metrics.DropReasonSlowConsumer)
		e.log.Warn("dropping event for slow consumer", "peer", peerID, "event", ev.Type)
	}
}

func (e *Engine) dropLocked(peerID, op, reason string) {
	e.metrics.Inc(reason)
	e.log.Debug("dropping stale event", "peer", peerID, "op", op)
}
