package stream

import "errors"

// ErrConnClosed is returned by Connect after Close has been called.
var ErrConnClosed = errors.New("connection closed")
