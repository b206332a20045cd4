// Package green is the concurrency runtime the lowered code links against:
// pollable coroutine frames, a worker-pool scheduler with green-thread
// handles, the netpoller that drives pending frames, and the composition
// primitives (sleep, gather, tasks, queues) shared by both lowering
// strategies.
package green

import (
	"errors"
	"fmt"
	"time"
)

// Status is a frame's completion slot tag.
type Status int

const (
	// Pending means the frame has not finished; poll again later.
	Pending Status = iota

	// Completed means the frame finished and its value is available.
	Completed

	// Failed means the frame finished with an error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var errFrameNoStep = errors.New("green: frame has no step function")

// PollFn advances a frame from its current resume point to the next
// suspension boundary or to completion. It must eventually call Complete or
// Fail; until then every invocation leaves the frame Pending.
type PollFn func(f *Frame)

// Frame is a suspended computation: the locals that live across suspension
// points, the resume-point discriminant, the await bookkeeping for the arm
// currently suspended on, and the completion slot.
//
// A frame is exclusively owned by whichever poll loop created it until it
// completes; it is not safe for concurrent polling.
type Frame struct {
	// Step is the poll dispatch installed at spawn time.
	Step PollFn

	// Env holds the saved locals.
	Env map[string]any

	// Resume is the resume-point discriminant. It only ever advances, and
	// only after the current arm's await has completed: a pending return
	// leaves it untouched so the same arm is re-entered next poll.
	Resume int

	// Child is the lazily spawned frame of a pending nested await.
	Child *Frame

	// Children, Done and Results track a pending gather: eagerly spawned
	// child frames, the per-child completion bitmap, and the values kept
	// in input order.
	Children []*Frame
	Done     []bool
	Results  []any

	// Deadline is the inline sleep deadline; Armed records that the
	// current arm already initialized its await state, so re-entries must
	// not redo it.
	Deadline time.Time
	Armed    bool

	status Status
	value  any
	err    error
}

// NewFrame allocates a frame at resume point 0 with empty locals.
func NewFrame(step PollFn) *Frame {
	return &Frame{Step: step, Env: make(map[string]any)}
}

// Poll drives the frame one step. Polling a finished frame is defined
// behavior: it idempotently reports the same completed or failed result,
// which gather loops rely on when re-polling finished children.
func (f *Frame) Poll() Status {
	if f.status != Pending {
		return f.status
	}
	if f.Step == nil {
		f.Fail(errFrameNoStep)
		return f.status
	}
	f.Step(f)
	return f.status
}

// Complete writes the completion slot with a value. The first completion
// wins; later calls are ignored.
func (f *Frame) Complete(v any) {
	if f.status != Pending {
		return
	}
	f.status = Completed
	f.value = v
}

// Fail writes the completion slot with an error.
func (f *Frame) Fail(err error) {
	if f.status != Pending {
		return
	}
	f.status = Failed
	f.err = err
}

// Status returns the completion slot tag.
func (f *Frame) Status() Status { return f.status }

// Value returns the completed value; nil while pending or failed.
func (f *Frame) Value() any { return f.value }

// Err returns the failure; nil unless the frame failed.
func (f *Frame) Err() error { return f.err }

// Result unwraps the completion slot.
func (f *Frame) Result() (any, error) {
	if f.status == Failed {
		return nil, f.err
	}
	return f.value, nil
}

// ClearAwait resets the await bookkeeping after an arm's await completed,
// before the resume point advances into the next arm.
func (f *Frame) ClearAwait() {
	f.Child = nil
	f.Children = nil
	f.Done = nil
	f.Results = nil
	f.Deadline = time.Time{}
	f.Armed = false
}

// SleepFrame returns a frame that completes (with a nil value) once the
// duration has elapsed. The deadline is computed on the first poll; no child
// frame is allocated.
func SleepFrame(d time.Duration) *Frame {
	f := NewFrame(nil)
	f.Step = func(f *Frame) {
		if !f.Armed {
			f.Deadline = time.Now().Add(d)
			f.Armed = true
		}
		if !time.Now().Before(f.Deadline) {
			f.Complete(nil)
		}
	}
	return f
}

// GatherFrame returns a frame that drives the given children and completes
// with their values as a []any in input order, regardless of completion
// order. Each poll ticks every still-pending child once. A failing child
// fails the gather with that child's error; children are checked in input
// order, so the first failure by position wins deterministically.
func GatherFrame(children []*Frame) *Frame {
	f := NewFrame(nil)
	f.Children = children
	f.Done = make([]bool, len(children))
	f.Results = make([]any, len(children))
	f.Step = func(f *Frame) {
		remaining := 0
		for i, c := range f.Children {
			if f.Done[i] {
				continue
			}
			switch c.Poll() {
			case Completed:
				f.Done[i] = true
				f.Results[i] = c.Value()
			case Failed:
				f.Fail(c.Err())
				return
			default:
				remaining++
			}
		}
		if remaining == 0 {
			out := make([]any, len(f.Results))
			copy(out, f.Results)
			f.Complete(out)
		}
	}
	return f
}

// CompletedFrame returns an already-completed frame holding v. Used where an
// await site needs a frame for a value that required no suspension.
func CompletedFrame(v any) *Frame {
	f := NewFrame(func(f *Frame) {})
	f.Complete(v)
	return f
}
