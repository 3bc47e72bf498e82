package metrics

import "sync"

// Counter names. Drop reasons use a drop_ prefix so dashboards can match
// them as a group.
const (
	PeerConnected    = "peer_connected"
	PeerDisconnected = "peer_disconnected"
	PairCreated      = "pair_created"
	PairTornDown     = "pair_torn_down"
	PublicRoomJoined = "public_room_joined"
	SignalRelayed    = "signal_relayed"
	ChatRelayed      = "chat_relayed"

	AuthFailure = "auth_failure"

	DropReasonUnknownPeer  = "drop_unknown_peer"
	DropReasonNoRoom       = "drop_no_room"
	DropReasonRateLimited  = "drop_rate_limited"
	DropReasonRoomFull     = "drop_room_full"
	DropReasonTooManyPeers = "drop_too_many_peers"
	DropReasonSlowConsumer = "drop_slow_consumer"
	DropReasonBadMessage   = "drop_bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and counts nothing, so wiring metrics stays
// optional in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
