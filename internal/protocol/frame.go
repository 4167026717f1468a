// Package protocol defines the push frames and REST records exchanged with
// the court API.
package protocol

import (
	"errors"

	"github.com/goccy/go-json"
)

// Recognized frame types. Frames of any other type are ignored.
const (
	TypeChatMessage  = "chat_message"
	TypeNotification = "notification"
)

// ErrEmptyPayload is returned when a frame carries neither data nor message.
var ErrEmptyPayload = errors.New("frame has no payload")

// Frame is one inbound push event. The record travels under "data" for
// notifications and under "message" for chat messages.
type Frame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	TempID  string          `json:"temp_id,omitempty"`
}

// DecodeFrame parses a raw push frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Payload returns the record carried by the frame.
func (f Frame) Payload() json.RawMessage {
	if len(f.Data) > 0 && string(f.Data) != "null" {
		return f.Data
	}
	if len(f.Message) > 0 && string(f.Message) != "null" {
		return f.Message
	}
	return nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	p := f.Payload()
	if p == nil {
		return ErrEmptyPayload
	}
	return json.Unmarshal(p, v)
}

// ChatFrame is the outbound frame for sending a chat message over the socket.
// The server echoes TempID on the resulting chat_message push.
type ChatFrame struct {
	Type        string `json:"type"`
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	TempID      string `json:"temp_id"`
}

// NewChatFrame builds a chat_message frame.
func NewChatFrame(recipientID int64, content, tempID string) ChatFrame {
	return ChatFrame{
		Type:        TypeChatMessage,
		RecipientID: recipientID,
		Content:     content,
		TempID:      tempID,
	}
}
