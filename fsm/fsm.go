// Package fsm implements the hierarchical finite-state-machine substrate
// that drives every endpoint, transport, and protocol overlay in
// go.spmsg.dev/core. It routes events to handlers, enforces single
// ownership of child machines, and sequences the two-phase shutdown
// protocol common to every component built on top of it.
package fsm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Src identifies the origin of an Event delivered to a Handler. ActionSrc
// is reserved for parent/self-initiated events; any non-negative value
// equal to a child's assigned tag identifies that child as the source.
type Src int

// ActionSrc is the synthetic source used for parent-initiated events,
// i.e. those raised by fsm.Start, fsm.Action, or fsm.Stop against the
// FSM itself rather than delivered from one of its children.
const ActionSrc Src = -1

// Reserved event types. Component packages define their own types (e.g.
// Stopped, Err, Ok, Timeout, Accepted, Connected, Sent, Received) using
// values above Type(lastReserved); see NewType.
type Type int

const (
	// Start is delivered once, synchronously, by Start.
	Start Type = iota
	// Stop begins the two-phase shutdown protocol; delivered to the
	// ShutdownHandler, never the normal Handler.
	Stop

	lastReserved
)

// NewType allocates a component-private event type above the reserved
// range. Components call this once per custom type at init time, e.g.
//
//	var (
//	    EvStopped = fsm.NewType()
//	    EvErr     = fsm.NewType()
//	)
func NewType() Type {
	nextType++
	return lastReserved + Type(nextType)
}

var nextType int

// Event is the (src, type, data) triple delivered in order to a Handler.
type Event struct {
	Src  Src
	Type Type
	Data interface{}
}

// Handler processes one Event against the current state and returns the
// FSM's own new state. Handlers must be total over (state, src, type):
// an unrecognized triple is a programming error and must call
// Violation, never silently ignore the event.
type Handler func(state int, ev Event) int

// Owner is the interface an owning parent (or the root context) exposes
// to a child FSM so it can raise events back. A *FSM is itself an Owner
// for the purposes of raising an event from one of its own children.
type Owner interface {
	Raise(src Src, typ Type, data interface{})
}

// FSM is embedded by value in every owning component, per the "outer
// struct owns the FSM by value and dispatches via a method" redesign:
// no intrusive container_of/nn_cont up-cast is needed because Go has no
// analogous macro trick, and none is missed.
type FSM struct {
	// Name identifies this FSM in logs and panics, e.g. "tcp.connect" or
	// "req.socket". Set at construction.
	Name string

	handler  Handler
	shutdown Handler
	state    int

	owner Owner
	src   Src

	running  bool
	stopping bool
}

// Init links fsm into its parent using src as this child's tag within
// the parent, and records the normal and shutdown handlers. Init does
// not start the machine; call Start for that.
func (f *FSM) Init(name string, handler, shutdownHandler Handler, src Src, owner Owner) {
	f.Name = name
	f.handler = handler
	f.shutdown = shutdownHandler
	f.src = src
	f.owner = owner
	f.state = 0
}

// Start synchronously dispatches (ActionSrc, Start) to the handler.
func (f *FSM) Start() {
	if f.running {
		Violation(f.Name, f.state, ActionSrc, Start)
	}
	f.running = true
	f.state = f.handler(f.state, Event{Src: ActionSrc, Type: Start})
}

// Action posts (ActionSrc, typ) to the normal handler. Use this for
// self-directed or parent-initiated transitions that are not Start/Stop.
func (f *FSM) Action(typ Type, data interface{}) {
	f.deliverNormal(Event{Src: ActionSrc, Type: typ, Data: data})
}

// Deliver routes an event arriving from child src to the normal handler.
// Components call this from whatever plumbing actually receives child
// completion events (timer callbacks, usock callbacks, etc).
func (f *FSM) Deliver(src Src, typ Type, data interface{}) {
	f.deliverNormal(Event{Src: src, Type: typ, Data: data})
}

func (f *FSM) deliverNormal(ev Event) {
	if !f.running {
		Violation(f.Name, f.state, ev.Src, ev.Type)
	}
	f.state = f.handler(f.state, ev)
}

// Stop posts (ActionSrc, Stop) to the shutdown handler rather than the
// normal handler, beginning the two-phase shutdown protocol described in
// spec.md §4.A. Stop is idempotent only in the sense that the shutdown
// handler itself must tolerate being re-entered while STOPPING_* — it is
// a programming error to call Stop on an already-idle (never started, or
// already fully stopped) FSM.
func (f *FSM) Stop() {
	if !f.running || f.stopping {
		Violation(f.Name, f.state, ActionSrc, Stop)
	}
	f.stopping = true
	f.state = f.shutdown(f.state, Event{Src: ActionSrc, Type: Stop})
}

// Route delivers an event arriving from child src to whichever handler
// is currently appropriate: the shutdown handler if Stop has been
// called and Done has not yet followed, the normal handler otherwise.
// Components implementing fsm.Owner should call Route from their Raise
// method rather than choosing between Deliver/DeliverShutdown by hand.
func (f *FSM) Route(src Src, typ Type, data interface{}) {
	if f.stopping {
		f.DeliverShutdown(src, typ, data)
	} else {
		f.Deliver(src, typ, data)
	}
}

// DeliverShutdown routes a child completion event to the shutdown
// handler during the STOPPING_* phase.
func (f *FSM) DeliverShutdown(src Src, typ Type, data interface{}) {
	if !f.running {
		Violation(f.Name, f.state, src, typ)
	}
	f.state = f.shutdown(f.state, Event{Src: src, Type: typ, Data: data})
}

// Done marks the FSM as fully idle after its shutdown handler has
// observed every child's Stopped event and released owned resources.
// It must be the last thing the shutdown handler does before raising
// Stopped to its own owner.
func (f *FSM) Done() {
	f.running = false
	f.stopping = false
}

// State returns the current integer state, for components that want to
// expose it (logging, tests).
func (f *FSM) State() int { return f.state }

// Raise posts (f.src, typ) to f's owner — i.e. this FSM informs its
// parent of a transition from the child's perspective. Root FSMs (owner
// == nil) silently drop Raise; the root context is expected to have its
// own distinguished shutdown path instead.
func (f *FSM) Raise(typ Type, data interface{}) {
	if f.owner == nil {
		return
	}
	f.owner.Raise(f.src, typ, data)
}

// Violation reports an unhandled (state, src, type) triple. Per spec.md
// §7, FSMViolation errors are never recovered: this is a deliberate
// panic used as proof of state-machine totality, mirroring
// broker/append_fsm.go's mustState, which logs structured fields before
// panicking rather than returning an error.
func Violation(name string, state int, src Src, typ Type) {
	logrus.WithFields(logrus.Fields{
		"fsm":   name,
		"state": state,
		"src":   src,
		"type":  typ,
	}).Panic("fsm: unhandled (state, src, type) triple")
}

// badState/badSource/badAction mirror the original C assertion helpers
// named in spec.md §4.A, implemented as typed panics via Violation so
// every component gets the same structured log output.

// BadState panics because the FSM is in a state that does not expect
// any event from src of type typ at all, independent of which child
// raised it.
func BadState(name string, state int, src Src, typ Type) {
	Violation(name, state, src, typ)
}

// BadSource panics because typ is expected in this state, but not from
// this particular src.
func BadSource(name string, state int, src Src, typ Type) {
	Violation(name, state, src, typ)
}

// BadAction panics because src is a plausible child in this state, but
// typ is not a transition that child may raise right now.
func BadAction(name string, state int, src Src, typ Type) {
	Violation(name, state, src, typ)
}

// String implements fmt.Stringer for Src, rendering ActionSrc specially.
func (s Src) String() string {
	if s == ActionSrc {
		return "action"
	}
	return fmt.Sprintf("child#%d", int(s))
}
