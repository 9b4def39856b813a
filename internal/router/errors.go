package router

import (
	"errors"

	"github.com/lumencanvas/clasp/pkg/wire"
)

// errConnClosed signals a clean transport-level disconnect to ServeConn's
// read loop; it is never sent to a client.
var errConnClosed = errors.New("clasp: connection closed")

// errHandshakeTimeout signals that a connection failed to send Hello within
// Config.HandshakeTimeout (§5).
var errHandshakeTimeout = errors.New("clasp: handshake timed out")

// Error codes per §6.3.
const (
	CodeInvalidPattern     uint16 = 202
	CodeUnauthorized       uint16 = 300
	CodeForbidden          uint16 = 301
	CodeTokenExpired       uint16 = 302
	CodeWriteRejected      uint16 = 400
	CodeServerError        uint16 = 500
)

func errMsg(code uint16, message, address string) wire.Message {
	return wire.Message{
		Type: wire.TypeError,
		Error: &wire.ErrorMessage{
			Code:    code,
			Message: message,
			Address: address,
		},
	}
}

func errUnauthorized() wire.Message {
	return errMsg(CodeUnauthorized, "Authentication required", "")
}

func errTokenExpired() wire.Message {
	return errMsg(CodeTokenExpired, "Token has expired", "")
}

func errForbidden(addr string) wire.Message {
	return errMsg(CodeForbidden, "Insufficient scope for this operation", addr)
}

func errInvalidPattern(addr string) wire.Message {
	return errMsg(CodeInvalidPattern, "Invalid subscription pattern", addr)
}

func errLocked(addr string) wire.Message {
	return errMsg(CodeWriteRejected, "Locked", addr)
}
