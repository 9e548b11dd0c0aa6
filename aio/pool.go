// Package aio provides the worker-task dispatch substrate (component B
// of spec.md), plus the Timer and Backoff built on top of it. A Pool of
// goroutines, each driven by a gopkg.in/tomb.v2 Tomb, services
// cross-thread Tasks: user-calling goroutines enqueue a Task, and the
// assigned worker runs it and posts completion back to an fsm.Owner via
// a Task-supplied callback. Every usock and Timer is bound to exactly
// one worker for its lifetime (spec.md §5's choose_worker), so events
// from a single source are always delivered in emission order.
package aio

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Task is a unit of cross-thread intent, e.g. "start this timer" or
// "begin this connect". Run executes on the assigned worker's
// goroutine; it must not block indefinitely.
type Task func()

// Pool is a fixed set of workers, each single-threaded with respect to
// the Tasks and Timers assigned to it.
type Pool struct {
	workers []*worker
	next    uint64
}

type worker struct {
	t     tomb.Tomb
	tasks chan Task
}

// NewPool starts n workers. n must be >= 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	var p = &Pool{workers: make([]*worker, n)}
	for i := range p.workers {
		var w = &worker{tasks: make(chan Task, 64)}
		w.t.Go(w.run)
		p.workers[i] = w
	}
	return p
}

func (w *worker) run() error {
	for {
		select {
		case task := <-w.tasks:
			w.safeRun(task)
		case <-w.t.Dying():
			// Drain any tasks already enqueued before we exit, so a
			// stop_task racing with in-flight timer starts doesn't leak
			// a goroutine waiting to send.
			for {
				select {
				case task := <-w.tasks:
					w.safeRun(task)
				default:
					return nil
				}
			}
		}
	}
}

func (w *worker) safeRun(task Task) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("aio: worker task panicked")
			panic(r) // re-raise: an FSM Violation must still abort the process.
		}
	}()
	task()
}

// Choose assigns a worker by round-robin, matching spec.md §5's
// choose_worker: the binding is made once, at creation of the owning
// usock/Timer, and never migrates.
func (p *Pool) Choose() Worker {
	var i = atomic.AddUint64(&p.next, 1) % uint64(len(p.workers))
	return Worker{w: p.workers[i]}
}

// Stop requests every worker to exit after draining its queue, and
// waits for them to do so.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.t.Kill(nil)
	}
	for _, w := range p.workers {
		_ = w.t.Wait()
	}
}

// Worker is a handle to one pool worker, bound for the lifetime of
// whatever object requested it.
type Worker struct {
	w *worker
}

// Execute enqueues task to run on this worker. Execute never blocks the
// caller beyond the worker's queue capacity; it is the one-shot,
// cross-thread hop named by spec.md §5's worker_execute.
func (w Worker) Execute(task Task) {
	w.w.tasks <- task
}
