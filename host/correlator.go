package host

import (
	"fmt"
	"time"

	"github.com/int19h/R-Host/protocol"
)

// pollInterval bounds how long the correlator sleeps between liveness
// checks while waiting for a response. Wakes normally arrive via poke
// well before it elapses.
const pollInterval = 100 * time.Millisecond

// SendRequest sends a client request and blocks until its response
// arrives, returning the response arguments. name must carry the '?'
// request tag.
//
// At most one request is outstanding at any moment, but requests nest:
// while blocked, the correlator services queued evaluation requests, and
// an evaluation may issue its own SendRequest. The pending-response state
// is saved on entry and restored once this request's response is
// consumed, so the nested exchange is invisible to the outer one.
//
// If cancellation fires for every evaluation on the stack while waiting,
// SendRequest abandons the wait and returns ErrCanceled. The saved state
// is deliberately not restored then: the stack is unwinding and nobody
// above will consume the outer response slot before the unwind resolves.
func (s *Session) SendRequest(name string, args ...any) ([]any, error) {
	if len(name) == 0 || name[0] != '?' {
		return nil, fmt.Errorf("host: request name %q must start with '?'", name)
	}
	if err := s.checkAlive(); err != nil {
		return nil, err
	}

	s.respMu.Lock()
	savedState, savedResp := s.respState, s.resp
	s.respState = responseExpected
	s.resp = protocol.Message{}
	s.respMu.Unlock()

	req, err := protocol.NewRequest(s.nextID.Add(1), name, args...)
	if err != nil {
		return nil, err
	}
	if err := s.send(req); err != nil {
		return nil, err
	}

	for {
		// Queued evaluations take priority over waiting: the client may
		// need an evaluation's result before it can answer our request.
		if eval, ok := s.popEval(); ok {
			if err := s.handleEval(eval); err != nil {
				return nil, err
			}
			continue
		}

		s.respMu.Lock()
		received := s.respState == responseReceived
		resp := s.resp
		if received {
			s.respState, s.resp = savedState, savedResp
		}
		s.respMu.Unlock()

		if received {
			wantName := ":" + name[1:]
			if resp.RequestID != req.ID || resp.Name != wantName {
				return nil, s.fatalf(ProtocolViolation,
					"response [%d,%q] does not match pending request [%d,%q]",
					resp.RequestID, resp.Name, req.ID, req.Name)
			}
			return resp.Args()
		}

		if s.queryInterrupt() {
			return nil, ErrCanceled
		}

		select {
		case <-s.wake:
		case <-s.done:
		case <-time.After(pollInterval):
		}
		if err := s.checkAlive(); err != nil {
			return nil, err
		}
	}
}
