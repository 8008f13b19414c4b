package inbox

import "errors"

// Inbox errors
var (
	ErrClosed             = errors.New("inbox closed")
	ErrNoConversationOpen = errors.New("no conversation open")
	ErrNoOpenTicket       = errors.New("conversation has no ticket to reply to")
	ErrEmptyMessage       = errors.New("message body is empty")
)
