package green

import "sync"

// Queue is the asyncio.Queue analogue: a FIFO channel whose put suspends (or
// blocks) when full and whose get suspends (or blocks) when empty. maxsize 0
// means unbounded, matching the Python surface.
//
// Suspension reuses the ordinary await mechanism: under STATE_MACHINE a
// put/get is awaited through the frame returned by PutFrame/GetFrame; under
// THREAD_SPAWN the blocking Put/Get run directly on the dedicated worker.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []any
	maxsize  int
}

// NewQueue creates a queue; maxsize <= 0 means unbounded.
func NewQueue(maxsize int) *Queue {
	q := &Queue{maxsize: maxsize}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Len returns the current item count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) full() bool {
	return q.maxsize > 0 && len(q.items) >= q.maxsize
}

// Put blocks the calling worker until there is room, then appends.
func (q *Queue) Put(v any) {
	q.mu.Lock()
	for q.full() {
		q.notFull.Wait()
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Get blocks the calling worker until an item is available.
func (q *Queue) Get() any {
	q.mu.Lock()
	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	v := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	q.notFull.Signal()
	return v
}

// PutFrame returns a frame that stays pending while the queue is full and
// completes (with a nil value) once the item is appended.
func (q *Queue) PutFrame(v any) *Frame {
	f := NewFrame(nil)
	f.Step = func(f *Frame) {
		q.mu.Lock()
		if q.full() {
			q.mu.Unlock()
			return
		}
		q.items = append(q.items, v)
		q.mu.Unlock()
		q.notEmpty.Signal()
		f.Complete(nil)
	}
	return f
}

// GetFrame returns a frame that stays pending while the queue is empty and
// completes with the dequeued item.
func (q *Queue) GetFrame() *Frame {
	f := NewFrame(nil)
	f.Step = func(f *Frame) {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		q.notFull.Signal()
		f.Complete(v)
	}
	return f
}
