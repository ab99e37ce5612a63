package sched

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/reflow/internal/observability"
)

// Observer event types emitted by the scheduler.
const (
	EventTaskFault     observability.EventType = "sched.task_fault"
	EventTaskCancelled observability.EventType = "sched.task_cancelled"
	EventTaskDropped   observability.EventType = "sched.task_dropped"
)

// Task is a unit of work executed on a scheduler. The context is cancelled
// when the owning scheduler stops; tasks must check it between sub-steps.
type Task = func(ctx context.Context) error

// Scheduler runs tasks for a single owner on one goroutine.
type Scheduler struct {
	owner     string
	queueSize int
	observer  observability.Observer

	// State
	mu      sync.Mutex // protects queue/timer lifecycle
	queue   chan Task
	timers  map[*Timer]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	stopped atomic.Bool

	// Stats
	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	cancelled atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithQueueSize sets the task queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Scheduler) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithObserver sets the observer that receives task fault signals.
func WithObserver(obs observability.Observer) Option {
	return func(s *Scheduler) {
		s.observer = obs
	}
}

// New creates a scheduler for the given owner.
func New(owner string, opts ...Option) *Scheduler {
	s := &Scheduler{
		owner:     owner,
		queueSize: 256,
		observer:  observability.NoOpObserver{},
		timers:    make(map[*Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the identity the scheduler was created for.
func (s *Scheduler) Owner() string {
	return s.owner
}

// Start starts the worker goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if s.stopped.Load() {
		return ErrStopped
	}

	s.queue = make(chan Task, s.queueSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)

	s.wg.Add(1)
	go s.worker()
	return nil
}

// Submit queues a task for execution.
// Returns ErrStopped if the scheduler is not running and ErrQueueFull if the
// queue is at capacity.
func (s *Scheduler) Submit(task Task) error {
	if !s.running.Load() {
		return ErrStopped
	}
	select {
	case s.queue <- task:
		s.submitted.Add(1)
		// Re-check after the enqueue: if Stop won the race the worker may
		// already have drained and exited, leaving the task stranded in
		// the buffer. Sweep it here so it is counted as cancelled rather
		// than lost.
		if !s.running.Load() {
			s.drain()
			return ErrStopped
		}
		return nil
	default:
		s.dropped.Add(1)
		observability.Emit(context.Background(), s.observer, EventTaskDropped,
			observability.LevelWarn, s.owner, nil)
		return ErrQueueFull
	}
}

// Timer is a handle to work scheduled with SubmitAfter.
type Timer struct {
	timer *time.Timer
	sched *Scheduler
	done  atomic.Bool
}

// Cancel stops the timer if the task has not been queued yet.
// Returns true if the task was prevented from running.
func (t *Timer) Cancel() bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	stopped := t.timer.Stop()
	t.sched.removeTimer(t)
	return stopped
}

// SubmitAfter queues a task after the given delay.
// The returned Timer can cancel the task before it is queued. Stopping the
// scheduler cancels all pending timers.
func (s *Scheduler) SubmitAfter(d time.Duration, task Task) (*Timer, error) {
	if !s.running.Load() {
		return nil, ErrStopped
	}

	t := &Timer{sched: s}
	t.timer = time.AfterFunc(d, func() {
		if !t.done.CompareAndSwap(false, true) {
			return
		}
		s.removeTimer(t)
		if err := s.Submit(task); err != nil {
			s.cancelled.Add(1)
			observability.Emit(context.Background(), s.observer, EventTaskCancelled,
				observability.LevelDebug, s.owner, map[string]any{"reason": err.Error()})
		}
	})

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		t.Cancel()
		return nil, ErrStopped
	}
	s.timers[t] = struct{}{}
	s.mu.Unlock()
	return t, nil
}

func (s *Scheduler) removeTimer(t *Timer) {
	s.mu.Lock()
	delete(s.timers, t)
	s.mu.Unlock()
}

// Stop cancels pending timers and queued tasks, signals the running task via
// context cancellation, and waits for the worker to exit or ctx to expire.
// Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.Swap(false) {
		s.mu.Unlock()
		if s.stopped.Load() {
			return s.wait(ctx)
		}
		return nil
	}
	s.stopped.Store(true)

	for t := range s.timers {
		t.done.Store(true)
		t.timer.Stop()
	}
	s.timers = make(map[*Timer]struct{})

	s.cancel()
	s.mu.Unlock()

	return s.wait(ctx)
}

// wait blocks until the worker goroutine has exited or ctx expires.
func (s *Scheduler) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the scheduler accepts work.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// worker drains the queue until the scheduler context is cancelled.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case task := <-s.queue:
			// Cancellation wins over a simultaneously ready task, so
			// nothing queued before Stop starts after it.
			if s.ctx.Err() != nil {
				s.cancelled.Add(1)
				observability.Emit(context.Background(), s.observer, EventTaskCancelled,
					observability.LevelDebug, s.owner, nil)
				s.drain()
				return
			}
			s.run(task)
		}
	}
}

// drain marks all queued tasks as cancelled without running them.
func (s *Scheduler) drain() {
	for {
		select {
		case <-s.queue:
			s.cancelled.Add(1)
			observability.Emit(context.Background(), s.observer, EventTaskCancelled,
				observability.LevelDebug, s.owner, nil)
		default:
			return
		}
	}
}

// run executes one task with panic recovery.
func (s *Scheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			fault := &TaskFault{Owner: s.owner, PanicValue: r, Stack: debug.Stack()}
			observability.Emit(context.Background(), s.observer, EventTaskFault,
				observability.LevelError, s.owner, map[string]any{"fault": fault.Error()})
		}
	}()

	s.executed.Add(1)
	if err := task(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			s.cancelled.Add(1)
			observability.Emit(context.Background(), s.observer, EventTaskCancelled,
				observability.LevelDebug, s.owner, nil)
			return
		}
		s.failed.Add(1)
		fault := &TaskFault{Owner: s.owner, Err: err}
		observability.Emit(context.Background(), s.observer, EventTaskFault,
			observability.LevelError, s.owner, map[string]any{"fault": fault.Error()})
	}
}

// Stats contains scheduler counters.
type Stats struct {
	Submitted  uint64
	Executed   uint64
	Failed     uint64
	Panicked   uint64
	Cancelled  uint64
	Dropped    uint64
	QueueDepth int
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	depth := 0
	if s.running.Load() {
		depth = len(s.queue)
	}
	return Stats{
		Submitted:  s.submitted.Load(),
		Executed:   s.executed.Load(),
		Failed:     s.failed.Load(),
		Panicked:   s.panicked.Load(),
		Cancelled:  s.cancelled.Load(),
		Dropped:    s.dropped.Load(),
		QueueDepth: depth,
	}
}
