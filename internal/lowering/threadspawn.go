package lowering

import (
	"fmt"
	"time"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/green"
)

// lowerThreadSpawn compiles a function into a blocking implementation that
// runs top to bottom with ordinary blocking calls, plus a non-blocking
// spawn wrapper that enqueues it onto the scheduler. An await becomes:
// spawn the callee, block this worker until its green thread completes,
// unwrap the result. One worker per concurrent await; simple and correct
// for non-interruptible work, wasteful for high-fan-out I/O.
func (p *Program) lowerThreadSpawn(fn *asyncir.FuncDesc) *Artifact {
	art := &Artifact{Name: fn.Name, Strategy: asyncir.StrategyThreadSpawn}

	blocks := fn.Blocks
	impl := func(args []any) (any, error) {
		env, err := bindParams(fn, args)
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(blocks); i++ {
			term, err := blocks[i].Body(p, env)
			if err != nil {
				return nil, err
			}
			if term.Kind == asyncir.TermReturn {
				return term.Value, nil
			}
			val, err := p.awaitBlocking(&term)
			if err != nil {
				return nil, err
			}
			if term.Bind != "" {
				env[term.Bind] = val
			}
		}
		// Fell off the end: implicit None return.
		return nil, nil
	}

	art.impl = impl
	art.spawnThread = func(args []any) (*green.GreenThread, error) {
		return p.scheduler().Spawn(func() (any, error) {
			return impl(args)
		})
	}
	return art
}

// awaitBlocking services one await on the calling worker.
func (p *Program) awaitBlocking(t *asyncir.Terminator) (any, error) {
	switch t.Await.Kind {
	case asyncir.AwaitSleep:
		// The worker is dedicated to this coroutine; blocking it is fine.
		time.Sleep(t.Await.Sleep)
		return nil, nil

	case asyncir.AwaitUserCall:
		if t.Await.Call.Handle != nil {
			return p.awaitHandleBlocking(t.Await.Call.Handle)
		}
		gt, err := p.threadFor(t.Await)
		if err != nil {
			return nil, err
		}
		return p.scheduler().Wait(gt)

	case asyncir.AwaitGather:
		// Eager spawn so children run concurrently, then sequential waits
		// in input order; the result order is the submission order by
		// construction.
		handles := make([]*green.GreenThread, len(t.Children))
		for i, child := range t.Children {
			gt, err := p.threadFor(child)
			if err != nil {
				return nil, err
			}
			handles[i] = gt
		}
		// A failing child still waits out the remaining handles, so every
		// spawned child is reaped from the registry; the first failure by
		// input order wins.
		out := make([]any, len(handles))
		var firstErr error
		for i, gt := range handles {
			v, err := p.scheduler().Wait(gt)
			if firstErr != nil {
				continue
			}
			if err != nil {
				firstErr = err
				continue
			}
			out[i] = v
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return out, nil

	default:
		return nil, fmt.Errorf("lowering: unknown await kind %d", int(t.Await.Kind))
	}
}

// threadFor spawns the green thread for one awaitable child.
func (p *Program) threadFor(a asyncir.Awaitable) (*green.GreenThread, error) {
	switch a.Kind {
	case asyncir.AwaitSleep:
		d := a.Sleep
		return p.scheduler().Spawn(func() (any, error) {
			time.Sleep(d)
			return nil, nil
		})
	case asyncir.AwaitUserCall:
		if a.Call.Handle != nil {
			handle := a.Call.Handle
			return p.scheduler().Spawn(func() (any, error) {
				return p.awaitHandleBlocking(handle)
			})
		}
		art := p.arts[a.Call.Callee]
		if art == nil {
			return nil, fmt.Errorf("lowering: unknown coroutine %q", a.Call.Callee)
		}
		return art.SpawnThread(a.Call.Args)
	default:
		return nil, fmt.Errorf("lowering: gather children cannot nest gathers")
	}
}

// awaitHandleBlocking consumes an already-spawned handle on this worker.
func (p *Program) awaitHandleBlocking(handle any) (any, error) {
	switch h := handle.(type) {
	case *green.Task:
		return h.Await()
	case *green.Frame:
		// Queue put/get frames appear here under THREAD_SPAWN; drive them
		// on the dedicated worker.
		return p.np.Drive(h)
	default:
		return nil, fmt.Errorf("lowering: cannot await handle of type %T", handle)
	}
}
