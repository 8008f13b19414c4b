package stream

import "encoding/json"

// Frame types pushed by the server
const (
	TypeNewMessage       = "new_message"
	TypeAdminMessageSent = "admin_message_sent"
	TypeTicketResolved   = "ticket_resolved"
)

// Frame is the JSON envelope of one server push. Depending on Type the
// body arrives either under payload or under message, with sender_id set
// for admin echoes.
type Frame struct {
	Type     string          `json:"type"`
	SenderId int64           `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// Decode decodes a raw frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
