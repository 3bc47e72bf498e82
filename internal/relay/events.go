package relay

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventNickname         EventType = "nickname"
	EventPeerFound        EventType = "peer-found"
	EventRoomJoined       EventType = "room-joined"
	EventPublicRoomJoined EventType = "public-room-joined"
	EventUserCountUpdated EventType = "user-count-updated"
	EventSignal           EventType = "signal"
	EventMessage          EventType = "message"
	EventPublicMessage    EventType = "public-message"
	EventPeerDisconnected EventType = "peer-disconnected"
)

// ChatMessage is a relayed chat line. The timestamp is server-assigned at
// relay time, RFC 3339 in JSON.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Nickname  string    `json:"nickname"`
}

// Event is a single outbound notification from the engine to one peer.
//
// All fields other than Type are optional and event-specific; the struct
// marshals directly to the wire shape consumed by browser clients, so field
// names follow the client vocabulary (isInitiator, roomId, userCount, ...).
type Event struct {
	Type EventType `json:"type"`

	// nickname
	Nickname string `json:"nickname,omitempty"`

	// peer-found
	IsInitiator  *bool  `json:"isInitiator,omitempty"`
	PeerNickname string `json:"peerNickname,omitempty"`

	// room-joined, public-room-joined, user-count-updated
	RoomID string `json:"roomId,omitempty"`

	// public-room-joined
	Name string `json:"name,omitempty"`
	// Pointer so an empty history still marshals as [] rather than being
	// omitted; clients iterate the field unconditionally.
	RecentMessages *[]ChatMessage `json:"recentMessages,omitempty"`

	// public-room-joined, user-count-updated
	UserCount *int `json:"userCount,omitempty"`

	// signal: the opaque payload, forwarded verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`

	// message, public-message
	Sender    string     `json:"sender,omitempty"`
	Text      string     `json:"text,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// EventSink delivers events to a single connected peer.
//
// Send must not block: the engine calls it while holding its state lock.
// Implementations enqueue into a bounded per-peer queue drained by a single
// writer, which preserves the engine's emission order to that peer. Send
// reports whether the event was accepted.
type EventSink interface {
	Send(Event) bool
}

func ptr[T any](v T) *T { return &v }
