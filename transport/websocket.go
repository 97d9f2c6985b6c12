package transport

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const controlWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
}

// WebSocket carries one protocol frame per binary WebSocket message, with
// an optional ping/pong heartbeat that detects a dead peer.
type WebSocket struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	closed    atomic.Bool
	heartbeat time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// Dial connects to a listening client at url (ws:// or wss://).
// A heartbeat of zero disables the ping/pong keepalive.
func Dial(url string, heartbeat time.Duration) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newWebSocket(conn, heartbeat), nil
}

// Upgrade accepts an incoming HTTP request as a WebSocket transport.
func Upgrade(w http.ResponseWriter, r *http.Request, heartbeat time.Duration) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}
	return newWebSocket(conn, heartbeat), nil
}

func newWebSocket(conn *websocket.Conn, heartbeat time.Duration) *WebSocket {
	t := &WebSocket{
		conn:      conn,
		heartbeat: heartbeat,
		stop:      make(chan struct{}),
	}
	if heartbeat > 0 {
		// A missing pong (or any read silence) past two heartbeat
		// intervals fails the pending read and ends the session.
		conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		})
		go t.pingLoop()
	}
	return t
}

func (t *WebSocket) pingLoop() {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(controlWriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.closed.Store(true)
				return
			}
		case <-t.stop:
			return
		}
	}
}

// Send writes one frame as a binary message.
func (t *WebSocket) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.closed.Store(true)
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive reads the next binary message; non-binary messages are skipped.
func (t *WebSocket) Receive() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.closed.Store(true)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Connected reports whether the connection is still usable.
func (t *WebSocket) Connected() bool {
	return !t.closed.Load()
}

// Close tears down the connection.
func (t *WebSocket) Close() error {
	t.closed.Store(true)
	t.stopOnce.Do(func() { close(t.stop) })
	return t.conn.Close()
}
