// Package lowering turns async function descriptors into executable
// artifacts under one of two whole-program strategies: a pollable state
// machine per function, or a blocking worker body plus a non-blocking spawn
// wrapper. The surface the lowered program exposes (Run, CreateTask, the
// green primitives) mirrors the asyncio calls the front-end maps onto it.
package lowering

import (
	"errors"
	"fmt"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/green"
)

var (
	// ErrNotExecutable is returned when a unit loaded for emission only
	// (shape-only blocks) is lowered for execution.
	ErrNotExecutable = errors.New("lowering: unit has shape-only blocks and cannot be executed")

	// ErrWrongStrategy is returned when an artifact is spawned under the
	// strategy it was not lowered for. Strategies are never mixed.
	ErrWrongStrategy = errors.New("lowering: artifact spawned under the wrong strategy")
)

// Artifact is the executable form of one lowered async function.
type Artifact struct {
	Name     string
	Strategy asyncir.Strategy

	spawnFrame  func(args []any) (*green.Frame, error)
	spawnThread func(args []any) (*green.GreenThread, error)
	impl        func(args []any) (any, error)
}

// SpawnFrame allocates and initializes a frame at resume point 0. It never
// runs any of the body; the first Poll does. Only STATE_MACHINE artifacts
// can be spawned as frames.
func (a *Artifact) SpawnFrame(args []any) (*green.Frame, error) {
	if a.spawnFrame == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongStrategy, a.Name, a.Strategy)
	}
	return a.spawnFrame(args)
}

// SpawnThread enqueues the blocking implementation onto the scheduler and
// returns its handle without blocking the caller. Only THREAD_SPAWN
// artifacts can be spawned as green threads.
func (a *Artifact) SpawnThread(args []any) (*green.GreenThread, error) {
	if a.spawnThread == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongStrategy, a.Name, a.Strategy)
	}
	return a.spawnThread(args)
}

// Program is a lowered unit: every artifact plus the runtime context they
// share. Awaited callees resolve by name through the program's registry.
type Program struct {
	Unit     *asyncir.Unit
	Strategy asyncir.Strategy

	arts map[string]*Artifact

	// sched, when set, replaces the lazy process-wide default. Tests use
	// this to run independent schedulers in one process.
	sched *green.Scheduler

	np green.Netpoller
}

// Lower lowers every function of the unit under the given strategy.
func Lower(u *asyncir.Unit, strategy asyncir.Strategy) (*Program, error) {
	p := &Program{
		Unit:     u,
		Strategy: strategy,
		arts:     make(map[string]*Artifact, len(u.Funcs)),
	}
	for _, fn := range u.Funcs {
		for i, b := range fn.Blocks {
			if b.Body == nil {
				return nil, fmt.Errorf("%w (%s block %d)", ErrNotExecutable, fn.Name, i)
			}
		}
		switch strategy {
		case asyncir.StrategyStateMachine:
			p.arts[fn.Name] = p.lowerStateMachine(fn)
		case asyncir.StrategyThreadSpawn:
			p.arts[fn.Name] = p.lowerThreadSpawn(fn)
		default:
			return nil, fmt.Errorf("lowering: unknown strategy %d", int(strategy))
		}
	}
	return p, nil
}

// SetScheduler injects an explicit scheduler, replacing the lazy default.
func (p *Program) SetScheduler(s *green.Scheduler) { p.sched = s }

// scheduler returns the injected scheduler or lazily initializes the
// process default, sized to the logical CPU count, exactly once.
func (p *Program) scheduler() *green.Scheduler {
	if p.sched != nil {
		return p.sched
	}
	return green.Default()
}

// Artifact returns the lowered form of the named function, nil if absent.
func (p *Program) Artifact(name string) *Artifact { return p.arts[name] }

// Run is the asyncio.run surface: spawn the named coroutine, drive or wait
// it to completion, and unwrap its result.
func (p *Program) Run(name string, args ...any) (any, error) {
	art := p.arts[name]
	if art == nil {
		return nil, fmt.Errorf("lowering: unknown coroutine %q", name)
	}
	switch p.Strategy {
	case asyncir.StrategyStateMachine:
		f, err := art.SpawnFrame(args)
		if err != nil {
			return nil, err
		}
		return p.np.Drive(f)
	default:
		gt, err := art.SpawnThread(args)
		if err != nil {
			return nil, err
		}
		return p.scheduler().Wait(gt)
	}
}

// CreateTask is the asyncio.create_task surface: spawn without an implicit
// await. The returned handle may be awaited later through an AwaitUserCall
// terminator carrying it, or never.
func (p *Program) CreateTask(name string, args ...any) (any, error) {
	art := p.arts[name]
	if art == nil {
		return nil, fmt.Errorf("lowering: unknown coroutine %q", name)
	}
	switch p.Strategy {
	case asyncir.StrategyStateMachine:
		f, err := art.SpawnFrame(args)
		if err != nil {
			return nil, err
		}
		return green.NewFrameTask(f), nil
	default:
		gt, err := art.SpawnThread(args)
		if err != nil {
			return nil, err
		}
		return green.NewThreadTask(p.scheduler(), gt), nil
	}
}

// bindParams builds the activation's locals from the call arguments.
func bindParams(fn *asyncir.FuncDesc, args []any) (asyncir.Env, error) {
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("lowering: %s expects %d argument(s), got %d",
			fn.Name, len(fn.Params), len(args))
	}
	env := make(asyncir.Env, len(fn.Params))
	for i, name := range fn.Params {
		env[name] = args[i]
	}
	return env, nil
}
