package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type messageType string

const (
	messageTypeAuth           messageType = "auth"
	messageTypeFindPeer       messageType = "find-peer"
	messageTypeJoinPublicRoom messageType = "join-public-room"
	messageTypeSignal         messageType = "signal"
	messageTypeMessage        messageType = "message"
	messageTypePublicMessage  messageType = "public-message"
	messageTypeLeaveRoom      messageType = "leave-room"
	messageTypeClose          messageType = "close"
)

// clientMessage is the inbound wire envelope. Exactly one payload shape is
// valid per type; anything else is rejected before it reaches the engine.
type clientMessage struct {
	Type messageType `json:"type"`

	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`

	// signal: opaque WebRTC payload, relayed verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`

	// message, public-message
	Text string `json:"text,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeAuth:
		if m.APIKey == "" && m.Token == "" {
			return fmt.Errorf("auth message missing apiKey/token")
		}
		if m.Payload != nil || m.Text != "" {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case messageTypeSignal:
		if len(m.Payload) == 0 {
			return fmt.Errorf("signal message missing payload")
		}
		if m.APIKey != "" || m.Token != "" || m.Text != "" {
			return fmt.Errorf("signal message has unexpected fields")
		}
	case messageTypeMessage, messageTypePublicMessage:
		if m.Text == "" {
			return fmt.Errorf("%s message missing text", m.Type)
		}
		if m.APIKey != "" || m.Token != "" || m.Payload != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeFindPeer, messageTypeJoinPublicRoom, messageTypeLeaveRoom, messageTypeClose:
		if m.APIKey != "" || m.Token != "" || m.Payload != nil || m.Text != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// wireError is the outbound error envelope for rejected requests that do not
// terminate the connection (and the last message before a terminating close).
type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
