package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuq/internal/logging"
)

// OverflowPolicy decides what Push does when a bounded queue is full.
type OverflowPolicy uint8

const (
	// OverflowBlock waits for space.
	OverflowBlock OverflowPolicy = iota
	// OverflowDrop rejects the task with ErrQueueFull.
	OverflowDrop
	// OverflowGrow enqueues past capacity and logs a warning once per
	// crossing of the capacity.
	OverflowGrow
)

var overflowNames = [...]string{
	OverflowBlock: "block",
	OverflowDrop:  "drop",
	OverflowGrow:  "grow",
}

// String returns the policy name.
func (p OverflowPolicy) String() string {
	if int(p) < len(overflowNames) {
		return overflowNames[p]
	}
	return fmt.Sprintf("OverflowPolicy(%d)", p)
}

// MarshalText implements encoding.TextMarshaler.
func (p OverflowPolicy) MarshalText() ([]byte, error) {
	if int(p) >= len(overflowNames) {
		return nil, fmt.Errorf("task: unknown overflow policy %d", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *OverflowPolicy) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range overflowNames {
		if name == s {
			*p = OverflowPolicy(i)
			return nil
		}
	}
	return fmt.Errorf("task: unknown overflow policy %q", text)
}

// ShutdownMode decides what Close does with pending tasks.
type ShutdownMode uint8

const (
	// ShutdownDrain lets the consumer execute every pending task.
	ShutdownDrain ShutdownMode = iota
	// ShutdownDiscard drops pending tasks.
	ShutdownDiscard
)

// String returns the mode name.
func (m ShutdownMode) String() string {
	switch m {
	case ShutdownDrain:
		return "drain"
	case ShutdownDiscard:
		return "discard"
	default:
		return fmt.Sprintf("ShutdownMode(%d)", m)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ShutdownMode) MarshalText() ([]byte, error) {
	if m > ShutdownDiscard {
		return nil, fmt.Errorf("task: unknown shutdown mode %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ShutdownMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "drain":
		*m = ShutdownDrain
	case "discard":
		*m = ShutdownDiscard
	default:
		return fmt.Errorf("task: unknown shutdown mode %q", text)
	}
	return nil
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pushed    uint64
	Executed  uint64
	Discarded uint64
	Dropped   uint64
	// HighWater is the largest length the queue reached.
	HighWater int
	Len       int
}

// Queue is a FIFO of tasks, safe for concurrent producers and one
// consumer. Tasks pushed by one goroutine execute in push order; tasks
// from different goroutines interleave in the order their pushes took
// the lock.
type Queue struct {
	mu       sync.Mutex
	nonEmpty sync.Cond
	space    sync.Cond

	// ring holds n tasks starting at head.
	ring []Task
	head int
	n    int

	capacity int
	policy   OverflowPolicy
	closed   bool
	over     bool

	pushed    uint64
	discarded uint64
	dropped   uint64
	highWater int
	executed  atomic.Uint64
}

// NewQueue returns a queue. capacity 0 means unbounded, in which case
// policy is ignored.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	q := &Queue{capacity: max(capacity, 0), policy: policy}
	q.nonEmpty.L = &q.mu
	q.space.L = &q.mu
	q.ring = make([]Task, 16)
	return q
}

// Capacity returns the configured capacity, 0 for unbounded.
func (q *Queue) Capacity() int { return q.capacity }

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }

// Push enqueues t. It blocks only under OverflowBlock on a full queue.
func (q *Queue) Push(t Task) error {
	return q.PushContext(context.Background(), t)
}

// PushContext is Push with a context bounding the OverflowBlock wait.
func (q *Queue) PushContext(ctx context.Context, t Task) error {
	if t == nil {
		return ErrNilTask
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && q.n >= q.capacity {
		switch q.policy {
		case OverflowDrop:
			q.dropped++
			return ErrQueueFull
		case OverflowGrow:
			if !q.over {
				q.over = true
				logging.L().Warn("task: queue grew past capacity", "capacity", q.capacity, "task", t.Kind())
			}
		default:
			stop := context.AfterFunc(ctx, func() {
				q.mu.Lock()
				q.space.Broadcast()
				q.mu.Unlock()
			})
			defer stop()
			for q.n >= q.capacity && !q.closed && ctx.Err() == nil {
				q.space.Wait()
			}
			if q.closed {
				return ErrQueueClosed
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	q.pushBack(t)
	q.pushed++
	q.highWater = max(q.highWater, q.n)
	q.nonEmpty.Signal()
	return nil
}

func (q *Queue) pushBack(t Task) {
	if q.n == len(q.ring) {
		grown := make([]Task, 2*len(q.ring))
		k := copy(grown, q.ring[q.head:])
		copy(grown[k:], q.ring[:q.head])
		q.ring, q.head = grown, 0
	}
	q.ring[(q.head+q.n)%len(q.ring)] = t
	q.n++
}

// popFront removes the oldest task. q.n must be positive.
func (q *Queue) popFront() Task {
	t := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	if q.capacity > 0 && q.n < q.capacity {
		q.over = false
		q.space.Signal()
	}
	return t
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	return q.popFront(), true
}

func (q *Queue) execute(t Task, e *Exec) {
	t.Execute(e)
	q.executed.Add(1)
}

// Drain executes the tasks queued at the time of the call and returns how
// many ran. Tasks pushed while draining wait for the next call.
func (q *Queue) Drain(e *Exec) int {
	q.mu.Lock()
	pending := q.n
	q.mu.Unlock()

	ran := 0
	for ; ran < pending; ran++ {
		t, ok := q.pop()
		if !ok {
			break
		}
		q.execute(t, e)
	}
	return ran
}

// Run executes tasks as they arrive. It returns nil once the queue is
// closed and empty, or the context error on cancellation.
func (q *Queue) Run(ctx context.Context, e *Exec) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.nonEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for {
		q.mu.Lock()
		for q.n == 0 && !q.closed && ctx.Err() == nil {
			q.nonEmpty.Wait()
		}
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			return err
		}
		if q.n == 0 {
			q.mu.Unlock()
			return nil
		}
		t := q.popFront()
		q.mu.Unlock()
		q.execute(t, e)
	}
}

// Close stops accepting tasks. Under ShutdownDrain pending tasks stay
// queued for the consumer and their count is returned. Under
// ShutdownDiscard they are dropped, Discard is called on each Discarder,
// and the number dropped is returned. Closing twice returns 0.
func (q *Queue) Close(mode ShutdownMode) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	if mode != ShutdownDiscard {
		n := q.n
		q.nonEmpty.Broadcast()
		q.space.Broadcast()
		q.mu.Unlock()
		return n
	}

	dropped := make([]Task, 0, q.n)
	for q.n > 0 {
		dropped = append(dropped, q.popFront())
	}
	q.discarded += uint64(len(dropped))
	q.nonEmpty.Broadcast()
	q.space.Broadcast()
	q.mu.Unlock()

	for _, t := range dropped {
		if d, ok := t.(Discarder); ok {
			d.Discard()
		}
	}
	if len(dropped) > 0 {
		logging.L().Debug("task: discarded pending tasks", "count", len(dropped))
	}
	return len(dropped)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pushed:    q.pushed,
		Executed:  q.executed.Load(),
		Discarded: q.discarded,
		Dropped:   q.dropped,
		HighWater: q.highWater,
		Len:       q.n,
	}
}
