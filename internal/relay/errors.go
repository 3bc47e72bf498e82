package relay

import "errors"

var (
	// ErrUnknownPeer indicates an operation referenced a peer id that is not in
	// the registry. Callers treat this as a stale event from an
	// already-disconnected peer: logged and dropped, never fatal.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrDuplicatePeer indicates a register with a peer id that is already
	// present. Transport adapters assign unique ids, so this points at a
	// transport bug; the new connection is dropped rather than corrupting state.
	ErrDuplicatePeer = errors.New("duplicate peer id")

	// ErrRoomFull indicates a durable room is at capacity.
	ErrRoomFull = errors.New("room full")

	// ErrInvalidJoin indicates an attempt to grow an ephemeral room beyond two
	// members.
	ErrInvalidJoin = errors.New("invalid join")

	// ErrTooManyPeers indicates the engine-wide peer quota is exhausted.
	ErrTooManyPeers = errors.New("too many peers")

	// ErrUnknownRoom indicates a room id that is not in the table.
	ErrUnknownRoom = errors.New("unknown room")
)
