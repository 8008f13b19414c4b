package inbox

import (
	"encoding/json"

	"github.com/lavoo/supportdesk/internal/api"
)

// ConversationStatus is the lifecycle state of a conversation summary.
type ConversationStatus string

const (
	// StatusActive marks new inbound activity since the admin last viewed.
	StatusActive ConversationStatus = "active"
	// StatusResolved marks every ticket of the conversation closed.
	StatusResolved ConversationStatus = "resolved"
	// StatusCaughtUp marks a viewed conversation with no new activity.
	StatusCaughtUp ConversationStatus = "caught_up"
)

// SendStatus is the delivery state of an optimistically sent message.
type SendStatus string

const (
	SendPending   SendStatus = "pending"
	SendConfirmed SendStatus = "confirmed"
	SendFailed    SendStatus = "failed"
)

// Sender roles
const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleSystem = "system"
)

// Conversation is one inbox entry: the aggregate thread with a single
// counterpart, spanning possibly several tickets. Entries are created by
// the snapshot fetch or by the first push naming an unseen counterpart,
// and are only ever mutated or reordered afterwards, never deleted.
type Conversation struct {
	CounterpartId    int64              `json:"counterpart_id"`
	CounterpartName  string             `json:"counterpart_name"`
	CounterpartEmail string             `json:"counterpart_email"`
	UnreadCount      int                `json:"unread_count"`
	LastMessage      string             `json:"last_message"`
	LastMessageAt    int64              `json:"last_message_at"`
	Status           ConversationStatus `json:"status"`
}

// Message is one timeline entry. Id is negative while the entry is a
// provisional optimistic insert and becomes the server-assigned positive
// id once confirmed.
type Message struct {
	Id         int64      `json:"id"`
	SenderRole string     `json:"sender_role"`
	SenderName string     `json:"sender_name,omitempty"`
	Body       string     `json:"body"`
	CreatedAt  int64      `json:"created_at"`
	TicketId   int64      `json:"ticket_id"`
	SendStatus SendStatus `json:"send_status,omitempty"`
}

// IsSystem reports whether the message is a delimiter entry, such as a
// ticket-resolved marker, rather than a chat bubble.
func (m *Message) IsSystem() bool {
	return m.SenderRole == RoleSystem
}

// Patch carries the summary fields a push event updates.
type Patch struct {
	LastMessage   string
	LastMessageAt int64
}

// ===== Push frame bodies (wire format of the streaming collaborator) =====

// NewMessagePayload is the body of a new_message frame: a counterpart
// sent a message.
type NewMessagePayload struct {
	Id         int64  `json:"id"`
	UserId     int64  `json:"user_id"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
	TicketId   int64  `json:"ticket_id"`
	SenderRole string `json:"sender_role,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// AdminMessageBody is the message field of an admin_message_sent frame:
// some admin session, possibly this one, posted a reply.
type AdminMessageBody struct {
	Id         int64  `json:"id"`
	UserId     int64  `json:"user_id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name,omitempty"`
	Message    string `json:"message"`
	CreatedAt  int64  `json:"created_at"`
	TicketId   int64  `json:"ticket_id"`
}

// TicketResolvedPayload is the body of a ticket_resolved frame.
type TicketResolvedPayload struct {
	UserId  int64 `json:"user_id"`
	Message struct {
		Id        int64  `json:"id"`
		Message   string `json:"message"`
		CreatedAt int64  `json:"created_at"`
		TicketId  int64  `json:"ticket_id"`
	} `json:"message"`
}

func decodeBody(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}

// ===== REST ↔ domain conversions =====

func conversationFromSummary(s *api.ConversationSummary) *Conversation {
	status := ConversationStatus(s.Status)
	switch status {
	case StatusActive, StatusResolved, StatusCaughtUp:
	default:
		status = StatusCaughtUp
	}
	return &Conversation{
		CounterpartId:    s.UserId,
		CounterpartName:  s.UserName,
		CounterpartEmail: s.UserEmail,
		UnreadCount:      s.UnreadCount,
		LastMessage:      s.LastMessage,
		LastMessageAt:    s.LastMessageAt,
		Status:           status,
	}
}

func messageFromAPI(m *api.Message) *Message {
	return &Message{
		Id:         m.Id,
		SenderRole: m.SenderRole,
		SenderName: m.SenderName,
		Body:       m.Message,
		CreatedAt:  m.CreatedAt,
		TicketId:   m.TicketId,
		SendStatus: SendConfirmed,
	}
}
