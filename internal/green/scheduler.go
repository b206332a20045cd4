package green

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pylift/pylift/internal/config"
)

var (
	// ErrPoolSize is returned when a scheduler is created with no workers.
	ErrPoolSize = errors.New("green: scheduler pool size must be at least 1")

	// ErrSchedulerDown is returned when work is spawned after shutdown.
	ErrSchedulerDown = errors.New("green: scheduler is shut down")
)

// WorkFn is one unit of green-thread work.
type WorkFn func() (any, error)

// GreenThread is the handle for one spawned unit of work: worker-assigned
// identity, a write-once result slot, and the synchronization needed for a
// single blocking wait. A handle may be waited on at most once.
type GreenThread struct {
	id string

	mu       sync.Mutex
	consumed bool

	// done is closed exactly once, after the result slot is written.
	done  chan struct{}
	value any
	err   error

	work WorkFn
}

// ID returns the handle's identity.
func (h *GreenThread) ID() string { return h.id }

// Finished reports whether the result slot has been written, without
// consuming it.
func (h *GreenThread) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// wait blocks until the result slot is written and consumes it. The slot is
// read-once: a second wait on the same handle is a programming error and
// panics rather than returning stale data.
func (h *GreenThread) wait() (any, error) {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		panic(fmt.Sprintf("green: green thread %s waited twice", h.id))
	}
	h.consumed = true
	h.mu.Unlock()

	<-h.done
	return h.value, h.err
}

// finish writes the result slot. Exactly one worker calls this, once.
func (h *GreenThread) finish(v any, err error) {
	h.value = v
	h.err = err
	close(h.done)
}

// Scheduler owns the worker pool and the live-handle registry. It is an
// explicit context object: create one per program (or per test) and thread
// it through spawn/wait calls rather than relying on hidden global state.
//
// Lifecycle: New starts the pool immediately (initialized and running);
// Shutdown drains queued work and stops the workers.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*GreenThread // FIFO
	registry map[string]*GreenThread
	down     bool

	poolSize int
	wg       sync.WaitGroup
}

// New creates a scheduler with the given worker pool size and starts the
// workers. A pool size below the minimum is rejected.
func New(poolSize int) (*Scheduler, error) {
	if poolSize < config.MinPoolSize {
		return nil, ErrPoolSize
	}
	s := &Scheduler{
		registry: make(map[string]*GreenThread),
		poolSize: poolSize,
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go s.worker(i)
	}
	Logger().Debug("scheduler started", zap.Int("pool_size", poolSize))
	return s, nil
}

// PoolSize returns the number of workers.
func (s *Scheduler) PoolSize() int { return s.poolSize }

// Spawn enqueues work FIFO onto the pool and returns its handle without
// blocking the caller.
func (s *Scheduler) Spawn(fn WorkFn) (*GreenThread, error) {
	h := &GreenThread{
		id:   uuid.NewString(),
		done: make(chan struct{}),
		work: fn,
	}

	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil, ErrSchedulerDown
	}
	s.queue = append(s.queue, h)
	s.registry[h.id] = h
	s.mu.Unlock()
	s.cond.Signal()
	return h, nil
}

// Wait blocks the calling thread until the handle's result slot is written,
// removes the handle from the registry, and returns the result exactly once.
// Waiting twice on the same handle panics.
func (s *Scheduler) Wait(h *GreenThread) (any, error) {
	v, err := h.wait()
	s.mu.Lock()
	delete(s.registry, h.id)
	s.mu.Unlock()
	return v, err
}

// Live returns the number of handles spawned but not yet waited on.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Shutdown stops accepting work, lets queued items finish, and joins the
// workers. It never interrupts a running item: frames and green threads run
// to completion once spawned.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
	Logger().Debug("scheduler shut down")
}

// worker pulls queued items FIFO and executes them. The result slot is
// written exactly once by whichever worker ran the item; a panicking body is
// recorded as a failed result rather than killing the worker.
func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.down {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.down {
			s.mu.Unlock()
			return
		}
		h := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(n, h)
	}
}

func (s *Scheduler) run(worker int, h *GreenThread) {
	defer func() {
		if r := recover(); r != nil {
			h.finish(nil, fmt.Errorf("green: green thread %s panicked on worker %d: %v", h.id, worker, r))
		}
	}()
	v, err := h.work()
	h.finish(v, err)
}

var (
	defaultSched *Scheduler
	defaultOnce  sync.Once
)

// Default returns the process-wide scheduler, initializing it lazily exactly
// once, sized to the logical CPU count. The sync.Once makes the lazy path
// safe against concurrent first use from generated spawn wrappers.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		n := runtime.NumCPU()
		if n < config.MinPoolSize {
			n = config.MinPoolSize
		}
		s, err := New(n)
		if err != nil {
			// Unreachable: the size is clamped above the minimum.
			panic(err)
		}
		defaultSched = s
	})
	return defaultSched
}
