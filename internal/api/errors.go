package api

import "fmt"

// Error represents an API error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %d, msg: %s", e.Code, e.Msg)
}

// NewError creates a new error
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Common error codes
const (
	CodeSuccess = 0

	CodeInvalidParam   = 1001
	CodeInternalServer = 1002
	CodeUnauthorized   = 1003
	CodeForbidden      = 1004
	CodeNotFound       = 1005

	CodeTicketNotFound = 4001
	CodeTicketClosed   = 4002
	CodeConvNotFound   = 4003
	CodeSendFailed     = 4005
)

// Predefined errors
var (
	ErrInvalidParam   = NewError(CodeInvalidParam, "invalid parameter")
	ErrInternalServer = NewError(CodeInternalServer, "internal server error")
	ErrUnauthorized   = NewError(CodeUnauthorized, "unauthorized")
	ErrNotFound       = NewError(CodeNotFound, "not found")

	ErrTicketNotFound = NewError(CodeTicketNotFound, "ticket not found")
	ErrTicketClosed   = NewError(CodeTicketClosed, "ticket already closed")
	ErrConvNotFound   = NewError(CodeConvNotFound, "conversation not found")
	ErrSendFailed     = NewError(CodeSendFailed, "message send failed")
)
