package host

import (
	"errors"
	"fmt"
)

// FailureKind categorizes fatal session errors.
type FailureKind int

const (
	MalformedFrame FailureKind = iota
	MalformedJSON
	ProtocolViolation
	UnknownCommand
	BlobNotFound
)

func (k FailureKind) String() string {
	switch k {
	case MalformedFrame:
		return "malformed frame"
	case MalformedJSON:
		return "malformed JSON"
	case ProtocolViolation:
		return "protocol violation"
	case UnknownCommand:
		return "unknown command"
	case BlobNotFound:
		return "blob not found"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// ProtocolError is a fatal session error. Once one occurs the channel can
// no longer be trusted and the session terminates immediately.
type ProtocolError struct {
	Kind FailureKind
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("host: %s: %s", e.Kind, e.Msg)
}

var (
	// ErrCanceled is the cancellation signal: it propagates through
	// ordinary control flow while the eval stack unwinds toward the
	// cancellation target. It resolves into a "canceled" response or
	// silent resumption and is never sent to the client.
	ErrCanceled = errors.New("host: evaluation canceled")

	// ErrDisconnected reports that the transport dropped; there is no
	// reconnect, the session is over.
	ErrDisconnected = errors.New("host: lost connection to client")

	// errTerminated is returned by internal operations once the session
	// has shut down for any reason; Run translates it into the recorded
	// exit status.
	errTerminated = errors.New("host: session terminated")
)
