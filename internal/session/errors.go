package session

import "errors"

// ErrConnClosed is returned by Bind when the connection is no longer open.
// A closed connection never displaces the device's current binding.
var ErrConnClosed = errors.New("session: connection closed")
