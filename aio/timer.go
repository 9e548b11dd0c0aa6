package aio

import (
	"time"

	"go.spmsg.dev/core/fsm"
)

// Timer events, posted to whatever fsm.Owner is supplied to NewTimer.
var (
	// EvTimeout fires once after the requested delay, unless Stop won
	// the race.
	EvTimeout = fsm.NewType()
	// EvStopped fires exactly once after Stop, whether or not a Timeout
	// was already in flight — a timeout that arrives after Stop was
	// called is absorbed into this single terminal event, per spec.md
	// §4.B and §5 ("a timeout that already fired may be in the queue —
	// this is absorbed by the state machine").
	EvStopped = fsm.NewType()
)

type timerState int

const (
	timerIdle timerState = iota
	timerRunning
	timerStopping
)

// Timer is a single-shot timer driven by a Worker. It is not an
// fsm.FSM itself (it has no children and no Start/Stop shutdown
// protocol beyond Stop/EvStopped) but it participates in the same
// event-delivery discipline: at most one outstanding Timeout is ever
// delivered, and Stop always yields exactly one Stopped.
type Timer struct {
	owner  fsm.Owner
	src    fsm.Src
	worker Worker

	state timerState
	gen   uint64 // generation counter: a stale timer fire is dropped.
	timer *time.Timer
}

// NewTimer binds a Timer to worker, reporting events to owner tagged
// with src — exactly as any other child FSM would be tagged within its
// parent.
func NewTimer(worker Worker, owner fsm.Owner, src fsm.Src) *Timer {
	return &Timer{worker: worker, owner: owner, src: src}
}

// Start arms the timer to fire EvTimeout after d. Start may be called
// again before a prior Timeout/Stopped to reschedule; the previous
// generation's fire is suppressed.
func (t *Timer) Start(d time.Duration) {
	t.worker.Execute(func() {
		t.gen++
		var myGen = t.gen
		t.state = timerRunning
		if t.timer != nil {
			t.timer.Stop()
		}
		t.timer = time.AfterFunc(d, func() {
			t.worker.Execute(func() { t.fire(myGen) })
		})
	})
}

func (t *Timer) fire(gen uint64) {
	if gen != t.gen || t.state != timerRunning {
		return // Superseded by a later Start, or already stopping.
	}
	t.owner.Raise(t.src, EvTimeout, nil)
}

// Stop cancels the timer. If a Timeout is already in the worker's
// queue, Stop still guarantees exactly one EvStopped is eventually
// raised and no EvTimeout follows it — the race is resolved by bumping
// the generation counter before the stale fire can be delivered.
func (t *Timer) Stop() {
	t.worker.Execute(func() {
		t.gen++
		t.state = timerStopping
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.state = timerIdle
		t.owner.Raise(t.src, EvStopped, nil)
	})
}
