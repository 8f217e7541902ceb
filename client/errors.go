package client

import (
	"errors"
	"fmt"
)

// ErrorKind classifies client failures
type ErrorKind int

const (
	// KindConnection covers transport failures: refused connections, failed
	// websocket upgrades, failed setup writes, unexpected HTTP statuses.
	KindConnection ErrorKind = iota + 1
	// KindLogin means no usable token could be obtained, or the session
	// has none.
	KindLogin
	// KindRoomNotFound means the service does not know the room code.
	KindRoomNotFound
	// KindParse means a response or token did not have the expected shape.
	KindParse
	// KindURL means the configured endpoint is not a valid URL.
	KindURL
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindLogin:
		return "login"
	case KindRoomNotFound:
		return "room not found"
	case KindParse:
		return "parse"
	case KindURL:
		return "url"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ErrStreamEnded wraps the read error that terminated a stream
var ErrStreamEnded = errors.New("the stream ended")

// Error is a classified client failure. Callers can use errors.As to
// extract it:
//
//	var clientErr *client.Error
//	if errors.As(err, &clientErr) && clientErr.Kind == client.KindRoomNotFound {
//	    fmt.Println("no such room:", clientErr.ShortID)
//	}
type Error struct {
	// Op names the stage that failed, e.g. "login" or "subscribe".
	Op string
	// Kind classifies the failure.
	Kind ErrorKind
	// ShortID is the room code, set for KindRoomNotFound.
	ShortID string
	// Message adds detail for failures without an underlying error.
	Message string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindConnection:
		msg = "cannot connect"
	case KindLogin:
		msg = "cannot login"
	case KindRoomNotFound:
		msg = fmt.Sprintf("requested room '%s' not found", e.ShortID)
	case KindParse:
		msg = "cannot parse response"
	case KindURL:
		msg = "cannot parse given URL"
	default:
		msg = "client error"
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind == kind
	}
	return false
}

func connectionError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConnection, Err: err}
}

func parseError(op, message string, err error) *Error {
	return &Error{Op: op, Kind: KindParse, Message: message, Err: err}
}
