package api

import "encoding/json"

// Response represents the standard API response
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConversationSummary is one entry of the admin conversation list, keyed
// by the counterpart user.
type ConversationSummary struct {
	UserId        int64  `json:"user_id"`
	UserName      string `json:"user_name"`
	UserEmail     string `json:"user_email"`
	UnreadCount   int    `json:"unread_count"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"`
	Status        string `json:"status"`
}

// Message is a single support message as returned by the REST API.
type Message struct {
	Id         int64  `json:"id"`
	UserId     int64  `json:"user_id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name,omitempty"`
	Message    string `json:"message"`
	CreatedAt  int64  `json:"created_at"`
	TicketId   int64  `json:"ticket_id"`
}

// ReplyRequest is the body for posting an admin reply against a ticket.
type ReplyRequest struct {
	Message string `json:"message"`
}
