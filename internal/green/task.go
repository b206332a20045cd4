package green

import (
	"github.com/google/uuid"
)

// Task is a spawned-but-not-awaited coroutine: what create_task returns.
// Under STATE_MACHINE it wraps a frame the caller (or the netpoller) must
// keep polling; under THREAD_SPAWN it wraps a green thread already running
// on the pool. An un-awaited task is not fatal, but a frame-backed task is
// not guaranteed to finish before process exit unless something drives it.
type Task struct {
	id string

	frame *Frame

	sched *Scheduler
	gt    *GreenThread
}

// NewFrameTask wraps a spawned frame as a task.
func NewFrameTask(f *Frame) *Task {
	return &Task{id: uuid.NewString(), frame: f}
}

// NewThreadTask wraps a spawned green thread as a task.
func NewThreadTask(s *Scheduler, gt *GreenThread) *Task {
	return &Task{id: uuid.NewString(), sched: s, gt: gt}
}

// ID returns the task's identity.
func (t *Task) ID() string { return t.id }

// Frame returns the underlying frame, nil for thread-backed tasks.
func (t *Task) Frame() *Frame { return t.frame }

// Await blocks (or drives) until the task finishes and unwraps its result.
// For a thread-backed task the usual wait-once rule applies.
func (t *Task) Await() (any, error) {
	if t.frame != nil {
		return Netpoller{}.Drive(t.frame)
	}
	return t.sched.Wait(t.gt)
}
