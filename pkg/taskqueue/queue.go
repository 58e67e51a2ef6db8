package taskqueue

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskq/internal/eventbus"
	"taskq/pkg/future"
	logx "taskq/pkg/logx"
	"taskq/pkg/priorityqueue"
)

// Queue runs tasks in descending priority order under an optional
// concurrency cap. All methods are safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	name string
	ctx  context.Context
	log  logx.Logger
	bus  eventbus.Bus

	concurrency      int
	pauseWhenDrained bool

	pending    *priorityqueue.PriorityQueue[*pendingItem]
	numRunning int
	running    bool

	// Drain detection. processingLastFulfillment is set when the queue first
	// looks empty and cleared by any push; drainGen invalidates stale
	// re-checks. idle is true from a confirmed drain until the next push.
	processingLastFulfillment bool
	drainGen                  uint64
	idle                      bool

	drainWaiters []*future.Future[struct{}]
	drainSubs    map[uint64]func()
	subSeq       uint64

	started   uint64
	succeeded uint64
	failed    uint64
	cancelled uint64
	drains    uint64

	idSeq atomic.Uint64
}

type pendingItem struct {
	id         string
	name       string
	priority   float64
	enqueuedAt time.Time

	// run executes the task and returns a closure that settles its future.
	run    func(ctx context.Context) (settle func(), err error)
	cancel func(err error)
}

// New validates cfg and returns a queue. It starts running unless
// cfg.StartPaused is set.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, cfg.Concurrency)
	}
	q := &Queue{
		name:             "default",
		ctx:              context.Background(),
		concurrency:      cfg.Concurrency,
		pauseWhenDrained: cfg.PauseWhenDrained,
		pending:          priorityqueue.New[*pendingItem](),
		running:          !cfg.StartPaused,
		idle:             true,
		drainSubs:        map[uint64]func(){},
	}
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	if q.ctx == nil {
		q.ctx = context.Background()
	}
	if strings.TrimSpace(q.name) == "" {
		q.name = "default"
	}
	if q.log.IsZero() {
		q.log = logx.Nop()
	}
	return q, nil
}

// Push enqueues task at priority and returns a future for its result.
func Push[R any](q *Queue, task Task[R], priority float64) *future.Future[R] {
	return PushNamed(q, "", task, priority)
}

// PushNamed is Push with a name used in logs, events and TaskInfo.
func PushNamed[R any](q *Queue, name string, task Task[R], priority float64) *future.Future[R] {
	result := future.New[R]()
	if task == nil {
		result.Reject(ErrNilTask)
		return result
	}

	now := time.Now()
	it := &pendingItem{
		id:         q.newTaskID(now),
		name:       strings.TrimSpace(name),
		priority:   priority,
		enqueuedAt: now,
	}
	if it.name == "" {
		it.name = "task"
	}
	it.run = func(ctx context.Context) (func(), error) {
		v, err := call(ctx, task)
		return func() { result.Settle(v, err) }, err
	}
	it.cancel = func(err error) { result.Reject(err) }

	q.mu.Lock()
	q.pending.Push(it, priority)
	q.scheduleLocked(true)
	q.mu.Unlock()

	q.publish(EventTaskQueued, q.taskEvent(it, time.Time{}, 0, nil))
	return result
}

// Push is the untyped form of the package-level Push.
func (q *Queue) Push(task Task[any], priority float64) *future.Future[any] {
	return Push(q, task, priority)
}

// CancelAllPending rejects every task that has not started yet with err
// (ErrCancelled when nil). Running tasks are not affected. It returns the
// number of cancelled tasks.
func (q *Queue) CancelAllPending(err error) int {
	if err == nil {
		err = ErrCancelled
	}

	q.mu.Lock()
	var items []*pendingItem
	for {
		it, ok := q.pending.Pop()
		if !ok {
			break
		}
		items = append(items, it)
	}
	q.cancelled += uint64(len(items))
	q.mu.Unlock()

	if len(items) == 0 {
		return 0
	}
	for _, it := range items {
		it.cancel(err)
		q.publish(EventTaskCancelled, q.taskEvent(it, time.Time{}, 0, err))
	}
	q.log.Debug("pending tasks cancelled", logx.Int("count", len(items)), logx.Err(err))

	// An emptied queue with nothing running has just drained.
	q.mu.Lock()
	q.scheduleLocked(false)
	q.mu.Unlock()
	return len(items)
}

// Drain returns a future resolved once the queue has no pending and no
// running tasks. If that is already the case it is resolved immediately.
func (q *Queue) Drain() *future.Future[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.IsEmpty() && q.numRunning == 0 && !q.processingLastFulfillment {
		return future.Resolved(struct{}{})
	}
	f := future.New[struct{}]()
	q.drainWaiters = append(q.drainWaiters, f)
	return f
}

// Run resumes a paused queue that has pending work.
func (q *Queue) Run() {
	q.mu.Lock()
	if q.running || q.pending.IsEmpty() {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.scheduleLocked(false)
	ev := q.queueEventLocked()
	q.mu.Unlock()

	q.log.Debug("queue resumed", logx.Int("pending", ev.Pending))
	q.publish(EventQueueResumed, ev)
}

// Pause stops new tasks from starting. Running tasks continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	ev := q.queueEventLocked()
	q.mu.Unlock()

	q.log.Debug("queue paused", logx.Int("pending", ev.Pending), logx.Int("running", ev.Running))
	q.publish(EventQueuePaused, ev)
}

// OnDrained registers fn to be called each time the queue drains.
func (q *Queue) OnDrained(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	q.mu.Lock()
	q.subSeq++
	id := q.subSeq
	q.drainSubs[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.drainSubs, id)
			q.mu.Unlock()
		})
	}
}

// SetConcurrency swaps the concurrency cap. Raising it starts waiting work
// immediately; lowering it lets running tasks finish.
func (q *Queue) SetConcurrency(n int) error {
	if n < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, n)
	}
	q.mu.Lock()
	prev := q.concurrency
	q.concurrency = n
	if !q.pending.IsEmpty() {
		q.scheduleLocked(false)
	}
	q.mu.Unlock()
	if prev != n {
		q.log.Info("queue concurrency changed", logx.Int("from", prev), logx.Int("to", n))
	}
	return nil
}

func (q *Queue) SetPauseWhenDrained(enabled bool) {
	q.mu.Lock()
	q.pauseWhenDrained = enabled
	q.mu.Unlock()
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Queue) NumRunning() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numRunning
}

func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Name:        q.name,
		Concurrency: q.concurrency,
		Pending:     q.pending.Len(),
		Running:     q.numRunning,
		Paused:      !q.running,
		Draining:    q.processingLastFulfillment,
		Started:     q.started,
		Succeeded:   q.succeeded,
		Failed:      q.failed,
		Cancelled:   q.cancelled,
		Drains:      q.drains,
	}
}

// scheduleLocked is the scheduling step run after every push and every
// settlement. Must be called with q.mu held.
func (q *Queue) scheduleLocked(pushed bool) {
	if pushed {
		q.processingLastFulfillment = false
		q.idle = false
	}

	if q.pending.IsEmpty() && q.numRunning == 0 {
		if q.idle {
			return
		}
		// Defer the verdict by one turn: a settled task's continuations
		// commonly push the next task of a chain.
		q.processingLastFulfillment = true
		q.drainGen++
		go q.confirmDrained(q.drainGen)
		return
	}

	for !q.pending.IsEmpty() && q.running && (q.concurrency == Unbounded || q.numRunning < q.concurrency) {
		it, _ := q.pending.Pop()
		q.numRunning++
		q.started++
		go q.execute(it)
	}
}

func (q *Queue) confirmDrained(gen uint64) {
	runtime.Gosched()

	q.mu.Lock()
	if !q.processingLastFulfillment || q.drainGen != gen || !q.pending.IsEmpty() || q.numRunning != 0 {
		q.mu.Unlock()
		return
	}
	q.processingLastFulfillment = false
	q.idle = true
	q.drains++

	paused := false
	if q.pauseWhenDrained && q.running {
		q.running = false
		paused = true
	}

	waiters := q.drainWaiters
	q.drainWaiters = nil

	ids := make([]uint64, 0, len(q.drainSubs))
	for id := range q.drainSubs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, q.drainSubs[id])
	}
	ev := q.queueEventLocked()
	q.mu.Unlock()

	if paused {
		q.log.Debug("queue paused after drain")
		q.publish(EventQueuePaused, ev)
	}
	q.log.Debug("queue drained", logx.Bool("paused", ev.Paused))
	q.publish(EventQueueDrained, ev)

	for _, w := range waiters {
		w.Resolve(struct{}{})
	}
	for _, fn := range subs {
		fn()
	}
}

func (q *Queue) queueEventLocked() QueueEvent {
	return QueueEvent{
		Queue:   q.name,
		Pending: q.pending.Len(),
		Running: q.numRunning,
		Paused:  !q.running,
	}
}

func (q *Queue) newTaskID(now time.Time) string {
	seq := q.idSeq.Add(1)
	// Make it short but still unique-ish across restarts.
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), seq)
}

func (q *Queue) publish(typ string, data any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
