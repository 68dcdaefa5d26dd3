package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// DefaultIdleTimeout is how long a lane worker waits for new work before exiting.
const DefaultIdleTimeout = 2 * time.Minute

// workItem is a unit of work submitted to a lane.
type workItem struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// lane processes work items sequentially via a single goroutine.
// refs counts submitters that hold the lane but have not finished sending; it is
// guarded by LaneQueue.mu.
type lane struct {
	work chan workItem
	refs int
}

// run is the lane's worker loop. It processes items from the work channel in
// FIFO order and exits once it has been idle for the queue's idle timeout.
func (q *LaneQueue) run(id domain.Identity, l *lane) {
	idle := time.NewTimer(q.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case item := <-l.work:
			if item.ctx.Err() != nil {
				item.done <- item.ctx.Err()
			} else {
				item.done <- safeExec(item.fn)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.idleTimeout)

		case <-idle.C:
			if q.reap(id, l) {
				return
			}
			idle.Reset(q.idleTimeout)
		}
	}
}

// safeExec runs fn and recovers from panics, converting them to errors.
func safeExec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn()
}

// defaultLaneBufferSize is the capacity of each lane's work channel.
// Tests in this package may override it to exercise full-buffer paths.
var defaultLaneBufferSize = 256

// LaneQueue serializes work per identity. Different identities execute
// concurrently, but work for the same identity is processed in FIFO order.
// Each lane has a single worker goroutine that exits when idle.
type LaneQueue struct {
	idleTimeout time.Duration

	mu    sync.Mutex
	lanes map[domain.Identity]*lane
}

// Option configures a LaneQueue.
type Option func(*LaneQueue)

// WithIdleTimeout sets how long an idle lane keeps its worker goroutine.
func WithIdleTimeout(d time.Duration) Option {
	return func(q *LaneQueue) {
		if d > 0 {
			q.idleTimeout = d
		}
	}
}

// NewLaneQueue creates a new LaneQueue ready for use.
func NewLaneQueue(opts ...Option) *LaneQueue {
	q := &LaneQueue{
		idleTimeout: DefaultIdleTimeout,
		lanes:       make(map[domain.Identity]*lane),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues fn on id's lane and returns a channel that receives its result.
// It blocks only while the lane's buffer is full. Work submitted from one goroutine
// runs in submission order. If ctx ends before fn is queued, the channel carries ctx.Err().
func (q *LaneQueue) Submit(ctx context.Context, id domain.Identity, fn func() error) <-chan error {
	l := q.acquire(id)
	defer q.release(l)
	item := workItem{
		ctx:  ctx,
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case l.work <- item:
	case <-ctx.Done():
		item.done <- ctx.Err()
	}
	return item.done
}

// Do executes fn serially within id's lane. It blocks until the work
// completes or the context is cancelled. Returns the error from fn, or
// ctx.Err() if the context is cancelled while waiting.
func (q *LaneQueue) Do(ctx context.Context, id domain.Identity, fn func() error) error {
	done := q.Submit(ctx, id, fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire returns the lane for id, creating it (with a worker goroutine) if it
// doesn't exist, and pins it against reaping until release.
func (q *LaneQueue) acquire(id domain.Identity) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[id]
	if !ok {
		l = &lane{work: make(chan workItem, defaultLaneBufferSize)}
		q.lanes[id] = l
		go q.run(id, l)
	}
	l.refs++
	return l
}

func (q *LaneQueue) release(l *lane) {
	q.mu.Lock()
	l.refs--
	q.mu.Unlock()
}

// reap removes l if nothing is queued or being submitted. It reports whether the
// worker should exit.
func (q *LaneQueue) reap(id domain.Identity, l *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l.refs > 0 || len(l.work) > 0 {
		return false
	}
	if q.lanes[id] == l {
		delete(q.lanes, id)
	}
	return true
}

// LaneCount returns the number of active lanes.
func (q *LaneQueue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
