package host

import (
	"errors"

	"github.com/int19h/R-Host/protocol"
)

// popEval takes the oldest queued evaluation request, if any.
func (s *Session) popEval() (protocol.Message, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.evalQueue) == 0 {
		return protocol.Message{}, false
	}
	msg := s.evalQueue[0]
	s.evalQueue = s.evalQueue[1:]
	return msg, true
}

// handleEval runs one evaluation request on the evaluator goroutine and
// sends its response. It maintains the eval stack: the frame is pushed by
// the enter hook once the evaluator can be interrupted safely, and popped
// by the exit hook while it still can. If a cancellation unwind skips the
// exit hook, handleEval invokes it itself.
//
// Returns ErrCanceled when, after this evaluation resolves, the
// cancellation campaign still wants the frames below it, so the caller
// must keep unwinding.
func (s *Session) handleEval(msg protocol.Message) error {
	opts, err := protocol.ParseEvalOptions(msg.Name)
	if err != nil {
		return s.fatalf(UnknownCommand, "%v", err)
	}

	args, err := msg.Args()
	if err != nil {
		return s.fatalf(MalformedJSON, "%s: %v", msg.Name, err)
	}
	if len(args) != 1 {
		return s.fatalf(ProtocolViolation, "%s: must have form [expr]", msg.Name)
	}
	expr, ok := args[0].(string)
	if !ok {
		return s.fatalf(ProtocolViolation, "%s: expression must be a string", msg.Name)
	}

	savedReentrant := s.allowReentrant
	s.allowReentrant = opts.Reentrant
	defer func() { s.allowReentrant = savedReentrant }()

	var wasEntered, wasExited bool
	enter := func() {
		s.stackMu.Lock()
		s.evalStack = append(s.evalStack, evalFrame{id: msg.ID, cancelable: opts.Cancelable})
		s.stackMu.Unlock()
		wasEntered = true
	}
	exit := func() {
		s.stackMu.Lock()
		if s.canceling && s.cancelTarget == msg.ID {
			// This evaluation was the campaign target; reaching its exit
			// ends the campaign.
			s.canceling = false
		}
		if wasEntered {
			s.evalStack = s.evalStack[:len(s.evalStack)-1]
		}
		s.stackMu.Unlock()
		wasExited = true
	}

	result := s.ev.Evaluate(expr, opts, enter, exit)
	if !wasExited {
		// The unwind bypassed the evaluator's exit path.
		exit()
	}
	s.allowInterrupt = true

	status := result.ParseStatus
	if status == "" {
		status = "OK"
	}
	if result.IsCanceled {
		// A single null argument marks the canceled response.
		if err := s.respond(msg, nil, nil); err != nil {
			return err
		}
	} else {
		var errVal any
		if result.HasError {
			errVal = result.Error
		}
		// NoResult suppresses only the value; parse status and errors
		// are still reported.
		var value any
		var blob []byte
		if result.HasValue && !opts.NoResult {
			if opts.RawResult {
				blob = result.Raw
			} else {
				value = result.Value
			}
		}
		if err := s.respond(msg, blob, status, errVal, value); err != nil {
			return err
		}
	}

	if s.queryInterrupt() {
		return ErrCanceled
	}
	return nil
}

// handleCancel processes a client "!/" cancellation notification. Its
// single argument is the ID of the evaluation to cancel, or null to
// cancel everything including top-level console input.
//
// Runs on the receive goroutine. It only adjusts campaign state; the
// actual interruption is delivered by the evaluator goroutine from Poll.
func (s *Session) handleCancel(msg protocol.Message) error {
	args, err := msg.Args()
	if err != nil {
		return s.fatalf(MalformedJSON, "%s: %v", msg.Name, err)
	}
	if len(args) != 1 {
		return s.fatalf(ProtocolViolation, "%s: must have form [id]", msg.Name)
	}

	var target protocol.MessageID
	switch v := args[0].(type) {
	case nil:
		target = 0 // the root frame: cancel everything
	case float64:
		target = protocol.MessageID(v)
	default:
		return s.fatalf(ProtocolViolation, "%s: evaluation ID must be numeric or null", msg.Name)
	}

	s.stackMu.Lock()
	active := false
	// Walk from the bottom: if an active campaign already targets a frame
	// at or below the requested one, unwinding to the requested frame is
	// subsumed by it and this cancellation needs no separate campaign.
	for _, f := range s.evalStack {
		if s.canceling && f.id == s.cancelTarget {
			break
		}
		if f.id == target {
			s.canceling = true
			s.cancelTarget = f.id
			active = true
			break
		}
	}
	s.stackMu.Unlock()

	if active {
		s.poke()
	}
	// A target not on the stack means the evaluation already completed;
	// the cancellation lost the race and is dropped silently.
	return nil
}

// queryInterrupt reports whether the cancellation campaign can make
// progress right now: a campaign is active and every frame on the eval
// stack consents to being unwound. A single non-cancelable frame blocks
// the whole campaign until that frame exits, because unwinding the frames
// above it would have to tear through it.
func (s *Session) queryInterrupt() bool {
	s.stackMu.Lock()
	defer s.stackMu.Unlock()
	if !s.canceling {
		return false
	}
	for _, f := range s.evalStack {
		if !f.cancelable {
			return false
		}
	}
	return true
}

// Poll must be called by the evaluator periodically during evaluation.
// It delivers a pending interruption to the innermost evaluation, and
// services queued evaluation requests when the current evaluation
// permits reentrancy.
func (s *Session) Poll() {
	if !s.allowInterrupt {
		return
	}
	if s.queryInterrupt() {
		s.allowInterrupt = false
		s.ev.Interrupt()
		return
	}
	if !s.allowReentrant {
		return
	}
	for {
		msg, ok := s.popEval()
		if !ok {
			return
		}
		if err := s.handleEval(msg); err != nil {
			if errors.Is(err, ErrCanceled) {
				// The campaign extends below the nested evaluation we just
				// finished; unwind the evaluation that called Poll too.
				s.PropagateCancellation()
			}
			return
		}
	}
}

// PropagateCancellation continues an in-progress unwind into the current
// evaluation. It must only be called on the evaluator goroutine while an
// evaluation is running, and it does not return: the evaluator's
// Interrupt aborts the evaluation via its own non-local exit.
func (s *Session) PropagateCancellation() {
	s.allowInterrupt = false
	s.ev.Interrupt()
	panic("host: evaluator Interrupt returned")
}
