package peersync

import (
	"encoding/json"
	"fmt"

	"github.com/illarion/lockpass/internal/core"
)

// MessageType names a wire message
type MessageType string

const (
	TypeWelcome      MessageType = "welcome"
	TypeSyncRequest  MessageType = "sync-request"
	TypeSyncResponse MessageType = "sync-response"
	TypeError        MessageType = "error"
)

// Message is one framed JSON document on the wire. ID ties a response or
// error to the request that caused it.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Welcome is sent by the responder as soon as a connection is accepted
type Welcome struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// SyncResponse carries the responder's live entries. Locked is set when the
// responder had nothing to offer because its vault is not unlocked.
type SyncResponse struct {
	Entries []core.SyncEntry `json:"entries"`
	Locked  bool             `json:"locked,omitempty"`
}

// ErrorPayload is the body of an error message
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage builds a message with payload encoded as JSON
func NewMessage(t MessageType, id string, payload any) (Message, error) {
	msg := Message{Type: t, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}

func errorMessage(id, text string) Message {
	msg, _ := NewMessage(TypeError, id, ErrorPayload{Message: text})
	return msg
}

func lockedResponse(id string) Message {
	msg, _ := NewMessage(TypeSyncResponse, id, SyncResponse{Entries: []core.SyncEntry{}, Locked: true})
	return msg
}
