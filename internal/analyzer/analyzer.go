// Package analyzer performs the static checks that run before lowering:
// unit validation and the whole-program strategy classification.
package analyzer

import (
	"fmt"

	"github.com/pylift/pylift/internal/asyncir"
)

// Classify picks one lowering strategy for the whole unit from the
// front-end trait records.
//
// Rule: if any async function performs I/O, every function is lowered as a
// state machine. Mixing is unsound, because a thread-spawn frame cannot be
// polled and blocking-waiting a state-machine frame forfeits its purpose.
// The rule is deliberately coarse: CPU-bound functions in an I/O-bearing
// unit pay the state-machine overhead too, and narrowing that would change
// observable scheduling behavior.
//
// When traits are unavailable the fallback is THREAD_SPAWN: blocking but
// simple.
func Classify(u *asyncir.Unit) asyncir.Strategy {
	if !u.TraitsKnown {
		return asyncir.StrategyThreadSpawn
	}
	for _, fn := range u.Funcs {
		if fn.HasIO {
			return asyncir.StrategyStateMachine
		}
	}
	return asyncir.StrategyThreadSpawn
}

// Validate checks a unit's descriptors and returns every problem found, in
// declaration order. Only declared shapes are checked; executable block
// bodies are opaque.
func Validate(u *asyncir.Unit) []error {
	var errs []error

	seen := make(map[string]bool)
	for _, fn := range u.Funcs {
		if seen[fn.Name] {
			errs = append(errs, fmt.Errorf("analyzer: duplicate async function %q", fn.Name))
			continue
		}
		seen[fn.Name] = true
	}

	for _, fn := range u.Funcs {
		if fn.Name == "" {
			errs = append(errs, fmt.Errorf("analyzer: unnamed async function in unit %q", u.Name))
			continue
		}
		if len(fn.Blocks) == 0 {
			errs = append(errs, fmt.Errorf("analyzer: %s: function has no blocks", fn.Name))
		}
		for i, b := range fn.Blocks {
			if b.Body == nil && b.Shape == nil {
				errs = append(errs, fmt.Errorf("analyzer: %s: block %d has neither body nor shape", fn.Name, i))
				continue
			}
			if b.Shape != nil {
				errs = append(errs, validateShape(u, fn, i, b.Shape)...)
			}
		}
	}
	return errs
}

func validateShape(u *asyncir.Unit, fn *asyncir.FuncDesc, block int, s *asyncir.TermShape) []error {
	var errs []error
	at := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("analyzer: %s: block %d: %s", fn.Name, block, fmt.Sprintf(format, args...)))
	}

	switch s.Kind {
	case asyncir.TermReturn:
		if s.Callee != "" || s.Bind != "" || len(s.Children) > 0 {
			at("return terminator carries await fields")
		}
	case asyncir.TermAwait:
		switch s.Await {
		case asyncir.AwaitSleep:
			if s.Callee != "" {
				at("sleep await names a callee %q", s.Callee)
			}
		case asyncir.AwaitUserCall:
			// An empty callee means the block awaits a handle computed at
			// run time (a created task or a queue frame); nothing to check.
			if s.Callee != "" && u.Lookup(s.Callee) == nil {
				at("awaited coroutine %q is not defined in unit %q", s.Callee, u.Name)
			}
		case asyncir.AwaitGather:
			for j, child := range s.Children {
				if child.Kind != asyncir.TermAwait {
					at("gather child %d is not an await", j)
					continue
				}
				if child.Await == asyncir.AwaitGather {
					at("gather child %d is a nested gather", j)
					continue
				}
				childCopy := child
				errs = append(errs, validateShape(u, fn, block, &childCopy)...)
			}
		default:
			at("unknown await kind %d", int(s.Await))
		}
	default:
		at("unknown terminator kind %d", int(s.Kind))
	}
	return errs
}
