// Package asyncir defines the intermediate form the async lowering pass
// consumes: one descriptor per async function, its body already segmented
// into basic blocks at await boundaries by the front-end.
package asyncir

import (
	"fmt"
	"time"
)

// Strategy is the whole-program lowering choice. Exactly one strategy applies
// to every async function of a unit; call sites are never mixed.
type Strategy int

const (
	// StrategyStateMachine lowers each function into a pollable frame plus
	// a resume-point switch.
	StrategyStateMachine Strategy = iota

	// StrategyThreadSpawn lowers each function into a blocking worker body
	// plus a non-blocking spawn wrapper.
	StrategyThreadSpawn
)

func (s Strategy) String() string {
	switch s {
	case StrategyStateMachine:
		return "STATE_MACHINE"
	case StrategyThreadSpawn:
		return "THREAD_SPAWN"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// AwaitKind is the closed set of await forms. The kind is fixed when the
// front-end segments the body; nothing downstream re-derives it from names.
type AwaitKind int

const (
	AwaitSleep AwaitKind = iota
	AwaitGather
	AwaitUserCall
)

func (k AwaitKind) String() string {
	switch k {
	case AwaitSleep:
		return "sleep"
	case AwaitGather:
		return "gather"
	case AwaitUserCall:
		return "call"
	default:
		return fmt.Sprintf("AwaitKind(%d)", int(k))
	}
}

// TermKind distinguishes how a basic block ends.
type TermKind int

const (
	// TermReturn ends the function with a value.
	TermReturn TermKind = iota

	// TermAwait suspends at the block boundary and resumes in the next block.
	TermAwait
)

// Env holds one activation's locals that live across suspension points.
// Block bodies read and write it directly.
type Env map[string]any

// Runtime is what a block body may call back into while executing. It is
// implemented by the lowered program and mirrors the surface the generated
// code links against.
type Runtime interface {
	// CreateTask spawns the named coroutine without an implicit await and
	// returns an opaque handle that a later await may consume (or never).
	CreateTask(name string, args ...any) (any, error)
}

// CallSpec names an awaited coroutine call. Either Callee/Args identify a
// coroutine of the unit to spawn lazily, or Handle carries something already
// spawned (a task handle or a suspendable frame) whose completion is awaited.
type CallSpec struct {
	Callee string
	Args   []any
	Handle any
}

// Awaitable is one child of an await. For AwaitGather terminators the
// children list is dynamic (comprehension-built task lists have no static
// arity); each child is itself a sleep or a user call, never a nested gather.
type Awaitable struct {
	Kind  AwaitKind
	Call  CallSpec      // AwaitUserCall
	Sleep time.Duration // AwaitSleep
}

// Terminator is the value a block body computes for its trailing await or
// return. Operands (arguments, durations, gather children) are runtime
// values; the kind tags come from the closed AwaitKind set.
type Terminator struct {
	Kind  TermKind
	Value any // TermReturn

	Await    Awaitable   // TermAwait, non-gather
	Children []Awaitable // TermAwait with Await.Kind == AwaitGather

	// Bind is the local receiving the awaited value, "" to discard it.
	Bind string
}

// Return builds a returning terminator.
func Return(v any) (Terminator, error) {
	return Terminator{Kind: TermReturn, Value: v}, nil
}

// AwaitSleepFor builds a sleep-awaiting terminator.
func AwaitSleepFor(d time.Duration) (Terminator, error) {
	return Terminator{
		Kind:  TermAwait,
		Await: Awaitable{Kind: AwaitSleep, Sleep: d},
	}, nil
}

// AwaitCall builds a terminator awaiting the named coroutine.
func AwaitCall(bind, callee string, args ...any) (Terminator, error) {
	return Terminator{
		Kind:  TermAwait,
		Await: Awaitable{Kind: AwaitUserCall, Call: CallSpec{Callee: callee, Args: args}},
		Bind:  bind,
	}, nil
}

// AwaitHandle builds a terminator awaiting an already-spawned handle.
func AwaitHandle(bind string, handle any) (Terminator, error) {
	return Terminator{
		Kind:  TermAwait,
		Await: Awaitable{Kind: AwaitUserCall, Call: CallSpec{Handle: handle}},
		Bind:  bind,
	}, nil
}

// AwaitAll builds a gather-awaiting terminator over the given children.
func AwaitAll(bind string, children ...Awaitable) (Terminator, error) {
	return Terminator{
		Kind:     TermAwait,
		Await:    Awaitable{Kind: AwaitGather},
		Children: children,
		Bind:     bind,
	}, nil
}

// BlockFn executes one straight-line block against the activation's locals
// and reports how the block ends. A returned error fails the whole frame.
type BlockFn func(rt Runtime, env Env) (Terminator, error)

// TermShape is the static form of a block's terminator, enough for
// validation and code emission when no executable body is attached.
type TermShape struct {
	Kind   TermKind
	Await  AwaitKind // Kind == TermAwait
	Callee string    // Await == AwaitUserCall spawning by name
	Bind   string

	// Children describes gather children with static arity; nil means the
	// child list is built at run time.
	Children []TermShape
}

// BasicBlock is one straight-line segment between await boundaries.
// Executable units carry a Body; declarative units (loaded from a manifest
// for emission only) carry just the Shape.
type BasicBlock struct {
	Body  BlockFn
	Shape *TermShape
}

// FuncDesc describes one async function. Immutable during lowering.
type FuncDesc struct {
	Name   string
	Params []string
	Blocks []BasicBlock

	// HasIO is the front-end trait: true when the function's transitive
	// call graph performs I/O.
	HasIO bool
}

// Arity returns the declared parameter count.
func (fn *FuncDesc) Arity() int { return len(fn.Params) }

// Unit is one whole-program compilation unit of async functions.
type Unit struct {
	Name  string
	Funcs []*FuncDesc

	// TraitsKnown is false when the front-end could not provide trait
	// records; the classifier then falls back conservatively.
	TraitsKnown bool
}

// Lookup finds a function by name, nil if absent.
func (u *Unit) Lookup(name string) *FuncDesc {
	for _, fn := range u.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}
