// Package transport carries encoded protocol frames between the host and
// its client over a private, already-trusted 1:1 channel.
package transport

import "errors"

// ErrClosed is returned once the transport has disconnected. There is no
// reconnect: disconnection ends the session.
var ErrClosed = errors.New("transport: connection closed")

// Transport is a reliable, ordered frame channel to the client.
//
// Send may be called from any goroutine. Receive must be called from a
// single reader goroutine; it blocks until a frame arrives or the
// connection is lost.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Connected() bool
	Close() error
}
