package host

import (
	"errors"
	"fmt"

	"github.com/int19h/R-Host/protocol"
)

// protocolVersion is announced in the handshake notification.
const protocolVersion = 1.0

// MessageBoxResult is the button chosen by the user in a client-side
// message box.
type MessageBoxResult int

const (
	MBYes MessageBoxResult = iota
	MBNo
	MBCancel
	MBOK
)

// ReadConsole requests a line of console input from the client. ok is
// false on end of input. When lenLimit is positive and the client sends a
// longer line, the request is re-issued with a BUFFER_OVERFLOW retry
// reason until the input fits.
//
// ReadConsole is where a completed cancel-everything campaign resolves:
// if the previous top-level evaluation was interrupted, prompting for the
// next input proves the stack has fully unwound, so the campaign is
// cleared and the client is told via !CanceledAll.
func (s *Session) ReadConsole(prompt string, lenLimit int, addToHistory bool) (input string, ok bool, err error) {
	if !s.allowInterrupt {
		s.stackMu.Lock()
		s.canceling = false
		s.stackMu.Unlock()
		s.allowInterrupt = true
		if err := s.SendNotification("!CanceledAll"); err != nil {
			return "", false, err
		}
	}
	if !s.allowReentrant {
		return "", false, fmt.Errorf("host: ReadConsole is not allowed in a non-reentrant evaluation")
	}

	evalContext := []any{}
	if cp, ok := s.ev.(ContextProvider); ok {
		evalContext = cp.Context()
	}

	var retryReason any
	for {
		args, err := s.SendRequest("?>", evalContext, float64(lenLimit), addToHistory, retryReason, prompt)
		if err != nil {
			return "", false, err
		}
		if len(args) != 1 {
			return "", false, s.fatalf(ProtocolViolation, "?>: response must have form [input]")
		}
		switch v := args[0].(type) {
		case nil:
			return "", false, nil
		case string:
			if lenLimit > 0 && len(v) >= lenLimit {
				retryReason = "BUFFER_OVERFLOW"
				continue
			}
			return v, true, nil
		default:
			return "", false, s.fatalf(ProtocolViolation, "?>: input must be a string or null")
		}
	}
}

// WriteConsole sends evaluator output to the client console.
func (s *Session) WriteConsole(text string, isError bool) error {
	name := "!"
	if isError {
		name = "!!"
	}
	return s.SendNotification(name, text)
}

// Busy reports a change in the evaluator's busy state.
func (s *Session) Busy(busy bool) error {
	name := "!+"
	if !busy {
		name = "!-"
	}
	return s.SendNotification(name)
}

// ShowMessage displays an informational message in the client UI.
func (s *Session) ShowMessage(text string) error {
	return s.SendNotification("!ShowMessage", text)
}

// YesNoCancel asks the client a yes/no/cancel question and blocks until
// the user answers.
func (s *Session) YesNoCancel(text string) (MessageBoxResult, error) {
	return s.messageBox("?YesNoCancel", text)
}

// YesNo asks the client a yes/no question.
func (s *Session) YesNo(text string) (MessageBoxResult, error) {
	return s.messageBox("?YesNo", text)
}

// OkCancel asks the client an ok/cancel question.
func (s *Session) OkCancel(text string) (MessageBoxResult, error) {
	return s.messageBox("?OkCancel", text)
}

func (s *Session) messageBox(name, text string) (MessageBoxResult, error) {
	if !s.allowReentrant {
		return 0, fmt.Errorf("host: %s is not allowed in a non-reentrant evaluation", name)
	}
	args, err := s.SendRequest(name, text)
	if err != nil {
		return 0, err
	}
	if len(args) != 1 {
		return 0, s.fatalf(ProtocolViolation, "%s: response must have form [button]", name)
	}
	button, _ := args[0].(string)
	switch button {
	case "Y":
		return MBYes, nil
	case "N":
		return MBNo, nil
	case "C":
		return MBCancel, nil
	case "O":
		return MBOK, nil
	default:
		return 0, s.fatalf(ProtocolViolation, "%s: unrecognized button %v", name, args[0])
	}
}

// Run drives the session to completion: it announces the protocol
// version, then repeatedly prompts the client for top-level input and
// evaluates it, until the client ends input, requests shutdown, or a
// fatal error occurs. Run returns nil on orderly shutdown.
func (s *Session) Run() error {
	go s.receiveLoop()

	if err := s.SendNotification("!Microsoft.R.Host", protocolVersion); err != nil {
		return s.exitStatus(err)
	}

	for {
		input, ok, err := s.ReadConsole("> ", 0, true)
		switch {
		case errors.Is(err, ErrCanceled):
			// The cancel-everything campaign caught us between
			// evaluations; the next prompt will resolve it.
			s.allowInterrupt = false
			continue
		case err != nil:
			return s.exitStatus(err)
		case !ok:
			s.SendNotification("!End")
			s.shutdown(nil)
			return nil
		}

		// Top-level input evaluates under the permanent root frame, so no
		// frame is pushed for it.
		result := s.ev.Evaluate(input, protocol.EvalOptions{
			Reentrant:  true,
			Cancelable: true,
		}, func() {}, func() {})
		if result.IsCanceled {
			continue
		}
		s.allowInterrupt = true

		if result.HasError {
			if err := s.WriteConsole(result.Error, true); err != nil {
				return s.exitStatus(err)
			}
		} else if result.HasValue {
			if err := s.WriteConsole(fmt.Sprintln(result.Value), false); err != nil {
				return s.exitStatus(err)
			}
		}
	}
}
