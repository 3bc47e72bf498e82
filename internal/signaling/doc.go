// Package signaling contains the WebSocket surface for matchmaking, WebRTC
// signal relay and chat.
//
// Each connection maps to exactly one peer in the relay engine; the wire
// protocol is a small JSON envelope per message.
package signaling
