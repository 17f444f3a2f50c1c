package pipeline

import (
	"context"
	"log"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default size of the worker pool.
const DefaultWorkers = 4

// Task is one unit of stage work for one application.
type Task struct {
	ApplicationID uuid.UUID
	Stage         string
	// Attempt counts from 1.
	Attempt int
}

// Handler processes one task. Failures are handled inside; the dispatcher
// only schedules.
type Handler func(ctx context.Context, t Task)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the production backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before retrying after the given failed attempt.
// The result lies in [d/2, d] where d = Base * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

// Dispatcher runs tasks on a bounded pool of workers. The queue itself is
// unbounded so that handlers can dispatch follow-up work without blocking.
type Dispatcher struct {
	workers int
	handler Handler
	verbose bool

	mu      sync.Mutex
	pending []Task
	notify  chan struct{}
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewDispatcher creates a Dispatcher with the given pool size.
func NewDispatcher(workers int, handler Handler, verbose bool) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		workers: workers,
		handler: handler,
		verbose: verbose,
		notify:  make(chan struct{}, 1),
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Dispatch enqueues t for immediate processing.
func (d *Dispatcher) Dispatch(t Task) {
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, t)
	d.mu.Unlock()
	d.wake()
}

// DispatchAfter enqueues t once delay has elapsed.
func (d *Dispatcher) DispatchAfter(t Task, delay time.Duration) {
	if delay <= 0 {
		d.Dispatch(t)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		d.mu.Unlock()
		d.Dispatch(t)
	})
	d.timers[timer] = struct{}{}
}

// Pending returns the number of queued and delayed tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) + len(d.timers)
}

// Run processes tasks until ctx is cancelled. Delayed tasks that have not
// fired yet are dropped on return; Recover re-dispatches their applications
// on the next start.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				t, ok := d.next(gCtx)
				if !ok {
					return nil
				}
				d.run(gCtx, t)
			}
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.stopped = true
	for timer := range d.timers {
		timer.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	d.mu.Unlock()
	return err
}

func (d *Dispatcher) run(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PIPELINE] Panic in %s task for %s: %v\n%s", t.Stage, t.ApplicationID, r, debug.Stack())
		}
	}()
	if d.verbose {
		log.Printf("[PIPELINE] Running %s (attempt %d) for %s", t.Stage, t.Attempt, t.ApplicationID)
	}
	d.handler(ctx, t)
}

func (d *Dispatcher) next(ctx context.Context) (Task, bool) {
	for {
		d.mu.Lock()
		if len(d.pending) > 0 {
			t := d.pending[0]
			d.pending = d.pending[1:]
			more := len(d.pending) > 0
			d.mu.Unlock()
			if more {
				d.wake()
			}
			return t, true
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-d.notify:
		}
	}
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
