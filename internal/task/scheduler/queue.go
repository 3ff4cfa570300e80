package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "covidboard/pkg/logx"
)

// ID identifies a pending entry. IDs are never reused within a Queue.
type ID uint64

// Entry is one pending timed action.
type Entry[T any] struct {
	ID       ID
	FireAt   time.Time
	Priority int
	Payload  T

	seq   uint64
	index int
}

// DispatchFunc executes the payload of a due entry.
type DispatchFunc[T any] func(ctx context.Context, payload T) error

// QueueStats are best-effort counters for health output.
type QueueStats struct {
	Pending    int    `json:"pending"`
	Scheduled  uint64 `json:"scheduled"`
	Dispatched uint64 `json:"dispatched"`
	Cancelled  uint64 `json:"cancelled"`
	Failed     uint64 `json:"failed"`
	Panics     uint64 `json:"panics"`
}

type queueConfig struct {
	now func() time.Time
	log logx.Logger
}

type QueueOption func(*queueConfig)

// WithClock overrides time.Now (tests advance a fake clock).
func WithClock(now func() time.Time) QueueOption {
	return func(c *queueConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log logx.Logger) QueueOption {
	return func(c *queueConfig) { c.log = log }
}

// Queue holds pending timed actions and runs the due ones when pumped.
//
// Nothing runs on its own: RunPending is the only place payloads are
// dispatched, and it never waits for a future entry.
type Queue[T any] struct {
	mu   sync.Mutex
	h    entryHeap[T]
	byID map[ID]*Entry[T]
	seq  uint64

	// runMu serializes pumps; a pump that finds another in progress returns.
	runMu sync.Mutex

	now      func() time.Time
	dispatch DispatchFunc[T]
	log      logx.Logger

	scheduled  atomic.Uint64
	dispatched atomic.Uint64
	cancelled  atomic.Uint64
	failed     atomic.Uint64
	panics     atomic.Uint64
}

func NewQueue[T any](dispatch DispatchFunc[T], opts ...QueueOption) *Queue[T] {
	cfg := queueConfig{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log.IsZero() {
		cfg.log = logx.Nop()
	}
	return &Queue[T]{
		byID:     map[ID]*Entry[T]{},
		now:      cfg.now,
		dispatch: dispatch,
		log:      cfg.log,
	}
}

// Schedule enqueues payload to fire no earlier than now+delay. Entries due at
// the same instant fire by ascending priority, then in scheduling order.
func (q *Queue[T]) Schedule(delay time.Duration, priority int, payload T) ID {
	if delay < 0 {
		delay = 0
	}
	fireAt := q.now().Add(delay)

	q.mu.Lock()
	q.seq++
	e := &Entry[T]{
		ID:       ID(q.seq),
		FireAt:   fireAt,
		Priority: priority,
		Payload:  payload,
		seq:      q.seq,
	}
	heapPush(&q.h, e)
	q.byID[e.ID] = e
	q.mu.Unlock()

	q.scheduled.Add(1)
	return e.ID
}

// Cancel removes a pending entry. It reports false when the entry already
// fired, was cancelled before, or never existed.
func (q *Queue[T]) Cancel(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heapRemove(&q.h, e)
	delete(q.byID, id)
	q.cancelled.Add(1)
	return true
}

// RunPending dispatches every entry whose fire time has passed and returns how
// many ran. Due entries leave the pending set before any of them runs, so
// entries scheduled by a dispatched payload wait for the next pump. A failing
// or panicking payload is logged and the rest still run.
func (q *Queue[T]) RunPending(ctx context.Context) int {
	if !q.runMu.TryLock() {
		return 0
	}
	defer q.runMu.Unlock()

	now := q.now()
	q.mu.Lock()
	var due []*Entry[T]
	for q.h.Len() > 0 && !q.h[0].FireAt.After(now) {
		e := heapPop(&q.h)
		delete(q.byID, e.ID)
		due = append(due, e)
	}
	q.mu.Unlock()

	for _, e := range due {
		q.run(ctx, e)
	}
	return len(due)
}

func (q *Queue[T]) run(ctx context.Context, e *Entry[T]) {
	q.dispatched.Add(1)
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.log.Error("scheduled action panicked",
				logx.Uint64("id", uint64(e.ID)),
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	if q.dispatch == nil {
		return
	}
	if err := q.dispatch(ctx, e.Payload); err != nil {
		q.failed.Add(1)
		q.log.Warn("scheduled action failed", logx.Uint64("id", uint64(e.ID)), logx.Err(err))
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Has reports whether id is still pending.
func (q *Queue[T]) Has(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[id]
	return ok
}

// NextAt returns the fire time of the earliest pending entry.
func (q *Queue[T]) NextAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h[0].FireAt, true
}

// Pending returns a snapshot of pending entries in fire order.
func (q *Queue[T]) Pending() []Entry[T] {
	q.mu.Lock()
	snap := make(entryHeap[T], 0, q.h.Len())
	for _, e := range q.h {
		cp := *e
		snap = append(snap, &cp)
	}
	q.mu.Unlock()

	sort.Slice(snap, snap.Less)
	out := make([]Entry[T], len(snap))
	for i, e := range snap {
		out[i] = *e
		out[i].index = -1
	}
	return out
}

func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		Pending:    q.Len(),
		Scheduled:  q.scheduled.Load(),
		Dispatched: q.dispatched.Load(),
		Cancelled:  q.cancelled.Load(),
		Failed:     q.failed.Load(),
		Panics:     q.panics.Load(),
	}
}
