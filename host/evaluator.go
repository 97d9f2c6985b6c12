package host

import "github.com/int19h/R-Host/protocol"

// Result describes the outcome of a single evaluation.
type Result struct {
	// ParseStatus is "OK", "INCOMPLETE", "ERROR", "EOF" or "NULL".
	ParseStatus string
	HasValue    bool
	HasError    bool
	IsCanceled  bool
	// Value is the JSON-marshalable result, valid when HasValue is set
	// and a raw result was not requested.
	Value any
	// Raw is the result payload when EvalOptions.RawResult was requested.
	Raw   []byte
	Error string
}

// Evaluator is the embedded expression evaluator driven by the session.
//
// Evaluate runs a single expression to completion. The contract mirrors an
// interpreter with its own non-local unwind machinery:
//
//   - enter must be invoked only after the evaluator has established its
//     unwind/recovery context, and exit before that context is torn down.
//     An interrupt arriving outside that window would otherwise target the
//     wrong evaluation. If an interrupt unwinds past exit, the session
//     re-invokes it, so the evaluator must not.
//
//   - The evaluator must call Session.Poll periodically during evaluation.
//     Poll delivers pending interruptions and services queued evaluation
//     requests when reentrancy is permitted.
//
// Interrupt aborts the innermost Evaluate, which then reports IsCanceled.
// It never returns normally.
type Evaluator interface {
	Evaluate(expr string, opts protocol.EvalOptions, enter, exit func()) Result
	Interrupt()
}

// ContextProvider is implemented by evaluators that can describe their
// current execution context (for example, the active browser or debug
// frames). ReadConsole forwards it to the client with every prompt.
type ContextProvider interface {
	Context() []any
}
