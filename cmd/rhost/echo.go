package main

import (
	"github.com/int19h/R-Host/host"
	"github.com/int19h/R-Host/protocol"
)

// interrupted is the echo evaluator's non-local exit for cancellation.
type interrupted struct{}

// echoEvaluator is a stand-in for a real interpreter: every expression
// evaluates to its own text. It exists so the host binary can exercise
// clients end to end without an evaluator attached, including the
// cancellation paths.
type echoEvaluator struct {
	sess *host.Session
}

func (e *echoEvaluator) Evaluate(expr string, opts protocol.EvalOptions, enter, exit func()) (res host.Result) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(interrupted); !ok {
				panic(r)
			}
			res = host.Result{IsCanceled: true}
		}
	}()

	enter()
	e.sess.Poll()
	exit()

	return host.Result{ParseStatus: "OK", HasValue: true, Value: expr}
}

func (e *echoEvaluator) Interrupt() {
	panic(interrupted{})
}
