// Package host implements the session core: message routing,
// request/response correlation, and the evaluation-cancellation state
// machine that reconciles a single-threaded evaluator with asynchronously
// arriving control messages.
package host

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/int19h/R-Host/blobstore"
	"github.com/int19h/R-Host/protocol"
	"github.com/int19h/R-Host/transport"
)

// responseState tracks the single outstanding outbound request.
type responseState int

const (
	// responseUnexpected: no request outstanding; an arriving response is
	// a fatal protocol violation.
	responseUnexpected responseState = iota
	// responseExpected: a request has been sent and awaits its response.
	responseExpected
	// responseReceived: the response arrived and awaits consumption by
	// the waiting SendRequest.
	responseReceived
)

// evalFrame is one entry of the eval stack: an evaluation that is
// currently executing (as opposed to queued).
type evalFrame struct {
	id         protocol.MessageID
	cancelable bool
}

// Session owns all mutable state of one host session and serves as the
// top-level dispatch target for the transport.
//
// Concurrency model: one evaluator goroutine runs Run and executes all
// evaluations; the session's receive goroutine decodes inbound frames and
// dispatches them. Each shared structure has its own short-held lock,
// never held across a send or an evaluation. The allowReentrant and
// allowInterrupt flags belong to the evaluator goroutine exclusively.
type Session struct {
	tr    transport.Transport
	ev    Evaluator
	blobs blobstore.Store
	log   commonlog.Logger
	trace *protocol.Recorder

	nextID atomic.Uint64

	respMu    sync.Mutex
	respState responseState
	resp      protocol.Message

	queueMu   sync.Mutex
	evalQueue []protocol.Message

	stackMu      sync.Mutex
	evalStack    []evalFrame
	canceling    bool
	cancelTarget protocol.MessageID

	// Evaluator-goroutine state; never touched from the receive side.
	allowReentrant bool
	allowInterrupt bool

	// wake holds at most one pending poke for the correlator wait loop.
	wake chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	fatalMu   sync.Mutex
	fatalErr  error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBlobStore replaces the default in-memory blob store.
func WithBlobStore(store blobstore.Store) SessionOption {
	return func(s *Session) { s.blobs = store }
}

// WithTrace records all protocol traffic to w.
func WithTrace(w io.Writer) SessionOption {
	return func(s *Session) { s.trace = protocol.NewRecorder(w) }
}

// New creates a session over the given transport, driving the given
// evaluator. The eval stack starts with the permanent root frame, which
// represents evaluation of top-level console input and is never removed.
func New(tr transport.Transport, ev Evaluator, opts ...SessionOption) *Session {
	s := &Session{
		tr:             tr,
		ev:             ev,
		log:            commonlog.GetLogger("rhost.session"),
		evalStack:      []evalFrame{{id: 0, cancelable: true}},
		allowReentrant: true,
		allowInterrupt: true,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blobs == nil {
		s.blobs = blobstore.NewMemStore()
	}
	return s
}

// shutdown records the session exit status and tears down the transport.
// The first caller wins; nil means an orderly client-requested shutdown.
func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.fatalMu.Lock()
		s.fatalErr = err
		s.fatalMu.Unlock()
		close(s.done)
		s.tr.Close()
	})
}

// exitStatus maps the internal termination sentinel to the recorded
// session outcome.
func (s *Session) exitStatus(err error) error {
	if errors.Is(err, errTerminated) {
		s.fatalMu.Lock()
		defer s.fatalMu.Unlock()
		return s.fatalErr
	}
	return err
}

// fatalf terminates the session with a protocol error. The channel cannot
// be trusted after one; the error is logged with full context and the
// session shuts down immediately.
func (s *Session) fatalf(kind FailureKind, format string, args ...any) error {
	err := &ProtocolError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	s.log.Critical(err.Error())
	s.shutdown(err)
	s.poke()
	return errTerminated
}

// poke wakes a parked correlator wait loop. The channel buffers a single
// pending wake: extra pokes coalesce and a waiter drains it on its next
// loop iteration, so a wake is never lost.
func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// checkAlive reports termination once the session is shut down or the
// transport has dropped.
func (s *Session) checkAlive() error {
	select {
	case <-s.done:
		return errTerminated
	default:
	}
	if !s.tr.Connected() {
		s.shutdown(ErrDisconnected)
		return errTerminated
	}
	return nil
}

// receiveLoop decodes inbound frames and dispatches until the session
// ends. Runs on its own goroutine, started by Run.
func (s *Session) receiveLoop() {
	for {
		frame, err := s.tr.Receive()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				s.log.Errorf("transport receive failed: %v", err)
			}
			s.shutdown(ErrDisconnected)
			s.poke()
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			kind := MalformedFrame
			if errors.Is(err, protocol.ErrMalformedJSON) {
				kind = MalformedJSON
			}
			s.fatalf(kind, "%v", err)
			return
		}

		if err := s.dispatch(msg); err != nil {
			// Fatal; the exit status is already recorded.
			return
		}
	}
}

// dispatch classifies one inbound message and routes it. Runs on the
// receive goroutine; evaluation requests are queued for the evaluator
// goroutine, everything else is handled in place.
func (s *Session) dispatch(msg protocol.Message) error {
	s.traceMessage(protocol.Inbound, msg)

	switch msg.Kind() {
	case protocol.KindShutdown:
		s.log.Info("shutdown request received")
		s.shutdown(nil)
		s.poke()
		return errTerminated

	case protocol.KindCancel:
		return s.handleCancel(msg)

	case protocol.KindCreateBlob:
		return s.handleCreateBlob(msg)

	case protocol.KindGetBlob:
		return s.handleGetBlob(msg)

	case protocol.KindDestroyBlob:
		return s.handleDestroyBlob(msg)

	case protocol.KindEvalRequest:
		s.queueMu.Lock()
		s.evalQueue = append(s.evalQueue, msg)
		s.queueMu.Unlock()
		s.poke()
		return nil

	case protocol.KindResponse:
		s.respMu.Lock()
		state := s.respState
		if state == responseExpected {
			s.resp = msg
			s.respState = responseReceived
		}
		s.respMu.Unlock()

		switch state {
		case responseUnexpected:
			return s.fatalf(ProtocolViolation, "unexpected client response [%d,%q]", msg.RequestID, msg.Name)
		case responseReceived:
			return s.fatalf(ProtocolViolation, "second response [%d,%q] while one is already pending", msg.RequestID, msg.Name)
		}
		s.poke()
		return nil

	default:
		return s.fatalf(UnknownCommand, "unrecognized incoming message name %q", msg.Name)
	}
}

// --- blob operations (receive goroutine) ---

func (s *Session) handleCreateBlob(msg protocol.Message) error {
	id, err := s.blobs.Create(msg.Blob)
	if err != nil {
		return s.fatalf(ProtocolViolation, "CreateBlob: %v", err)
	}
	return s.respond(msg, nil, float64(id))
}

func (s *Session) handleGetBlob(msg protocol.Message) error {
	id, err := s.blobIDArg(msg)
	if err != nil {
		return err
	}
	data, err := s.blobs.Get(id)
	if err != nil {
		return s.fatalf(BlobNotFound, "GetBlob: no blob with ID %d", id)
	}
	return s.respond(msg, data)
}

func (s *Session) handleDestroyBlob(msg protocol.Message) error {
	args, err := msg.Args()
	if err != nil {
		return s.fatalf(MalformedJSON, "DestroyBlob: %v", err)
	}
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, ok := arg.(float64)
		if !ok {
			return s.fatalf(ProtocolViolation, "DestroyBlob: non-numeric blob ID %v", arg)
		}
		ids = append(ids, uint64(id))
	}
	s.blobs.DestroyAll(ids)
	return nil
}

func (s *Session) blobIDArg(msg protocol.Message) (uint64, error) {
	args, err := msg.Args()
	if err != nil {
		return 0, s.fatalf(MalformedJSON, "%s: %v", msg.Name, err)
	}
	if len(args) != 1 {
		return 0, s.fatalf(ProtocolViolation, "%s: must have form [id]", msg.Name)
	}
	id, ok := args[0].(float64)
	if !ok {
		return 0, s.fatalf(ProtocolViolation, "%s: non-numeric blob ID %v", msg.Name, args[0])
	}
	return uint64(id), nil
}

// --- outbound plumbing ---

func (s *Session) send(msg protocol.Message) error {
	s.traceMessage(protocol.Outbound, msg)
	if err := s.tr.Send(msg.Encode()); err != nil {
		s.shutdown(ErrDisconnected)
		s.poke()
		return errTerminated
	}
	return nil
}

// SendNotification sends a message that expects no response.
func (s *Session) SendNotification(name string, args ...any) error {
	if len(name) == 0 || name[0] != '!' {
		return fmt.Errorf("host: notification name %q must start with '!'", name)
	}
	msg, err := protocol.NewNotification(s.nextID.Add(1), name, args...)
	if err != nil {
		return err
	}
	return s.send(msg)
}

// respond answers a request synchronously.
func (s *Session) respond(req protocol.Message, blob []byte, args ...any) error {
	resp, err := protocol.NewResponse(s.nextID.Add(1), req, blob, args...)
	if err != nil {
		return s.fatalf(ProtocolViolation, "responding to %q: %v", req.Name, err)
	}
	return s.send(resp)
}

func (s *Session) traceMessage(dir protocol.Direction, msg protocol.Message) {
	if s.trace != nil {
		if err := s.trace.Record(dir, msg); err != nil {
			s.log.Errorf("trace: %v", err)
		}
	}
	arrow := "<=="
	if dir == protocol.Inbound {
		arrow = "==>"
	}
	s.log.Debugf("%s #%d# %s %s <raw %d bytes>", arrow, msg.ID, msg.Name, msg.JSON, len(msg.Blob))
}
