package lowering

import (
	"fmt"
	"time"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/green"
)

// lowerStateMachine compiles a function into a frame factory. Each basic
// block becomes one arm of a switch on the frame's resume-point
// discriminant; a poll executes from the current resume point to the next
// suspension boundary or to completion.
//
// The arm currently suspended memoizes its terminator next to the frame:
// returning pending does not advance the resume point, and re-entering the
// arm on the next poll must not re-run the block body (its side effects
// already happened). Await state (child frame, gather children, sleep
// deadline) is created on first entry into the arm and reused afterwards.
func (p *Program) lowerStateMachine(fn *asyncir.FuncDesc) *Artifact {
	art := &Artifact{Name: fn.Name, Strategy: asyncir.StrategyStateMachine}

	blocks := fn.Blocks
	art.spawnFrame = func(args []any) (*green.Frame, error) {
		env, err := bindParams(fn, args)
		if err != nil {
			return nil, err
		}
		f := green.NewFrame(nil)
		f.Env = env

		// cur is the memoized terminator of the arm the frame is suspended
		// in; nil means the next poll enters a fresh arm.
		var cur *asyncir.Terminator

		f.Step = func(f *green.Frame) {
			for {
				if cur == nil {
					if f.Resume >= len(blocks) {
						// Fell off the end: implicit None return.
						f.Complete(nil)
						return
					}
					term, err := blocks[f.Resume].Body(p, f.Env)
					if err != nil {
						f.Fail(err)
						return
					}
					cur = &term
				}

				if cur.Kind == asyncir.TermReturn {
					f.Complete(cur.Value)
					return
				}

				done, val, err := p.pollAwait(f, cur)
				if err != nil {
					f.Fail(err)
					return
				}
				if !done {
					// Suspended. The resume point stays where it is so the
					// same arm is re-entered, via the memo, next poll.
					return
				}
				if cur.Bind != "" {
					f.Env[cur.Bind] = val
				}
				f.ClearAwait()
				cur = nil
				f.Resume++
			}
		}
		return f, nil
	}
	return art
}

// pollAwait advances the current arm's await one step. It reports (done,
// value) on completion; a false done with nil error means still pending.
func (p *Program) pollAwait(f *green.Frame, t *asyncir.Terminator) (bool, any, error) {
	switch t.Await.Kind {
	case asyncir.AwaitSleep:
		// Inline deadline: no child frame per sleep.
		if !f.Armed {
			f.Deadline = time.Now().Add(t.Await.Sleep)
			f.Armed = true
		}
		if time.Now().Before(f.Deadline) {
			return false, nil, nil
		}
		return true, nil, nil

	case asyncir.AwaitUserCall:
		if !f.Armed {
			child, err := p.frameFor(t.Await)
			if err != nil {
				return false, nil, err
			}
			f.Child = child
			f.Armed = true
		}
		switch f.Child.Poll() {
		case green.Completed:
			return true, f.Child.Value(), nil
		case green.Failed:
			return false, nil, f.Child.Err()
		default:
			return false, nil, nil
		}

	case asyncir.AwaitGather:
		if !f.Armed {
			frames := make([]*green.Frame, len(t.Children))
			for i, child := range t.Children {
				cf, err := p.frameFor(child)
				if err != nil {
					return false, nil, err
				}
				frames[i] = cf
			}
			f.Children = frames
			f.Done = make([]bool, len(frames))
			f.Results = make([]any, len(frames))
			f.Armed = true
		}
		remaining := 0
		for i, c := range f.Children {
			if f.Done[i] {
				continue
			}
			switch c.Poll() {
			case green.Completed:
				f.Done[i] = true
				f.Results[i] = c.Value()
			case green.Failed:
				return false, nil, c.Err()
			default:
				remaining++
			}
		}
		if remaining > 0 {
			return false, nil, nil
		}
		out := make([]any, len(f.Results))
		copy(out, f.Results)
		return true, out, nil

	default:
		return false, nil, fmt.Errorf("lowering: unknown await kind %d", int(t.Await.Kind))
	}
}

// frameFor builds (or unwraps) the child frame for one awaitable.
func (p *Program) frameFor(a asyncir.Awaitable) (*green.Frame, error) {
	switch a.Kind {
	case asyncir.AwaitSleep:
		return green.SleepFrame(a.Sleep), nil
	case asyncir.AwaitUserCall:
		if a.Call.Handle != nil {
			switch h := a.Call.Handle.(type) {
			case *green.Frame:
				return h, nil
			case *green.Task:
				if fr := h.Frame(); fr != nil {
					return fr, nil
				}
				return nil, fmt.Errorf("lowering: thread-backed task awaited under %s", asyncir.StrategyStateMachine)
			default:
				return nil, fmt.Errorf("lowering: cannot await handle of type %T", a.Call.Handle)
			}
		}
		art := p.arts[a.Call.Callee]
		if art == nil {
			return nil, fmt.Errorf("lowering: unknown coroutine %q", a.Call.Callee)
		}
		return art.SpawnFrame(a.Call.Args)
	default:
		return nil, fmt.Errorf("lowering: gather children cannot nest gathers")
	}
}
