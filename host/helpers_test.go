package host

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/int19h/R-Host/protocol"
	"github.com/int19h/R-Host/transport"
)

const testTimeout = 5 * time.Second

// testLink is an in-process loopback transport. The host side implements
// transport.Transport; the test plays the client on the other end.
type testLink struct {
	toHost   chan []byte
	fromHost chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newTestLink() *testLink {
	return &testLink{
		toHost:   make(chan []byte, 64),
		fromHost: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (l *testLink) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case <-l.closed:
		return transport.ErrClosed
	case l.fromHost <- cp:
		return nil
	}
}

func (l *testLink) Receive() ([]byte, error) {
	select {
	case <-l.closed:
		return nil, transport.ErrClosed
	case frame := <-l.toHost:
		return frame, nil
	}
}

func (l *testLink) Connected() bool {
	select {
	case <-l.closed:
		return false
	default:
		return true
	}
}

func (l *testLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// interruptSignal is the fake evaluator's non-local exit; Interrupt panics
// with it and the innermost Evaluate recovers it.
type interruptSignal struct{}

// fakeEvaluator runs scripted Go functions keyed by expression text.
// Unknown expressions evaluate to themselves. A script may return a Result
// to control the outcome precisely; any other value becomes the
// evaluation's value.
type fakeEvaluator struct {
	s       *Session
	scripts map[string]func(*fakeEvaluator) any
	context []any
}

func (e *fakeEvaluator) Context() []any {
	if e.context == nil {
		return []any{}
	}
	return e.context
}

func (e *fakeEvaluator) Evaluate(expr string, opts protocol.EvalOptions, enter, exit func()) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(interruptSignal); !ok {
				panic(r)
			}
			res = Result{IsCanceled: true}
		}
	}()

	enter()
	var out any = expr
	if script, ok := e.scripts[expr]; ok {
		out = script(e)
	}
	exit()

	if r, ok := out.(Result); ok {
		return r
	}
	return Result{ParseStatus: "OK", HasValue: true, Value: out}
}

func (e *fakeEvaluator) Interrupt() {
	panic(interruptSignal{})
}

// fixture wires a session running on its own goroutine to a scripted
// client driven by the test.
type fixture struct {
	t        *testing.T
	link     *testLink
	ev       *fakeEvaluator
	sess     *Session
	done     chan error
	finished bool
	clientID protocol.MessageID
}

// startSession spins up a session and consumes the handshake
// notification, leaving the client positioned at the first prompt.
func startSession(t *testing.T, scripts map[string]func(*fakeEvaluator) any, opts ...SessionOption) *fixture {
	t.Helper()
	return startConfiguredSession(t, scripts, nil, opts...)
}

// startConfiguredSession additionally lets the test adjust the evaluator
// before the session starts running.
func startConfiguredSession(t *testing.T, scripts map[string]func(*fakeEvaluator) any, configure func(*fakeEvaluator), opts ...SessionOption) *fixture {
	t.Helper()

	link := newTestLink()
	ev := &fakeEvaluator{scripts: scripts}
	sess := New(link, ev, opts...)
	ev.s = sess
	if configure != nil {
		configure(ev)
	}

	f := &fixture{
		t:        t,
		link:     link,
		ev:       ev,
		sess:     sess,
		done:     make(chan error, 1),
		clientID: 1000,
	}
	go func() { f.done <- sess.Run() }()

	t.Cleanup(func() {
		link.Close()
		if !f.finished {
			select {
			case <-f.done:
			case <-time.After(testTimeout):
				t.Errorf("session did not stop after transport close")
			}
		}
	})

	handshake := f.expect("!Microsoft.R.Host")
	f.expectArgs(handshake, float64(1))
	return f
}

func (f *fixture) nextClientID() protocol.MessageID {
	f.clientID++
	return f.clientID
}

// wait blocks until Run returns and yields its error.
func (f *fixture) wait() error {
	f.t.Helper()
	select {
	case err := <-f.done:
		f.finished = true
		return err
	case <-time.After(testTimeout):
		f.t.Fatalf("session did not finish")
		return nil
	}
}

func (f *fixture) push(m protocol.Message) {
	f.t.Helper()
	f.pushRaw(m.Encode())
}

func (f *fixture) pushRaw(frame []byte) {
	f.t.Helper()
	select {
	case f.link.toHost <- frame:
	case <-time.After(testTimeout):
		f.t.Fatalf("host is not reading; cannot deliver frame")
	}
}

// next returns the next message sent by the host.
func (f *fixture) next() protocol.Message {
	f.t.Helper()
	select {
	case frame := <-f.link.fromHost:
		m, err := protocol.Decode(frame)
		if err != nil {
			f.t.Fatalf("host sent an undecodable frame: %v", err)
		}
		return m
	case <-time.After(testTimeout):
		f.t.Fatalf("timed out waiting for a host message")
		return protocol.Message{}
	}
}

// expect returns the next host message, failing unless it carries the
// given name.
func (f *fixture) expect(name string) protocol.Message {
	f.t.Helper()
	m := f.next()
	if m.Name != name {
		f.t.Fatalf("host sent %q %s, want %q", m.Name, m.JSON, name)
	}
	return m
}

func (f *fixture) expectPrompt() protocol.Message {
	f.t.Helper()
	return f.expect("?>")
}

// expectResponse returns the next host message, failing unless it is the
// response to the client request with the given name and id.
func (f *fixture) expectResponse(name string, requestID protocol.MessageID) protocol.Message {
	f.t.Helper()
	m := f.expect(":" + name[1:])
	if m.RequestID != requestID {
		f.t.Fatalf("response %q has request ID %d, want %d", m.Name, m.RequestID, requestID)
	}
	return m
}

func (f *fixture) expectArgs(m protocol.Message, want ...any) {
	f.t.Helper()
	got, err := m.Args()
	if err != nil {
		f.t.Fatalf("host message %q has bad arguments: %v", m.Name, err)
	}
	if want == nil {
		want = []any{}
	}
	if !reflect.DeepEqual(got, want) {
		f.t.Fatalf("host message %q arguments = %v, want %v", m.Name, got, want)
	}
}

// reply answers a host request.
func (f *fixture) reply(req protocol.Message, args ...any) {
	f.t.Helper()
	resp, err := protocol.NewResponse(f.nextClientID(), req, nil, args...)
	if err != nil {
		f.t.Fatalf("building response to %q: %v", req.Name, err)
	}
	f.push(resp)
}

// notify sends a client notification.
func (f *fixture) notify(name string, args ...any) {
	f.t.Helper()
	m, err := protocol.NewNotification(f.nextClientID(), name, args...)
	if err != nil {
		f.t.Fatalf("building notification %q: %v", name, err)
	}
	f.push(m)
}

// request sends a client request with an explicit id.
func (f *fixture) request(id protocol.MessageID, name string, blob []byte, args ...any) {
	f.t.Helper()
	m, err := protocol.NewRequest(id, name, args...)
	if err != nil {
		f.t.Fatalf("building request %q: %v", name, err)
	}
	m.Blob = blob
	f.push(m)
}

// sendEval sends a client evaluation request.
func (f *fixture) sendEval(id protocol.MessageID, name, expr string) {
	f.t.Helper()
	f.request(id, name, nil, expr)
}

// expectFatal waits for Run to return and asserts it failed with a
// protocol error of the given kind.
func (f *fixture) expectFatal(kind FailureKind) {
	f.t.Helper()
	err := f.wait()
	perr, ok := err.(*ProtocolError)
	if !ok {
		f.t.Fatalf("Run returned %v, want a protocol error", err)
	}
	if perr.Kind != kind {
		f.t.Fatalf("Run failed with %q, want kind %q", perr, kind)
	}
}
