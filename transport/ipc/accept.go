package ipc

import (
	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/endpoint"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/transport/stream"
	"go.spmsg.dev/core/usock"
)

// Events Accepted raises to its owning Binding.
var (
	EvError   = fsm.NewType()
	EvStopped = fsm.NewType()
)

const (
	adIdle = iota
	adActive
	adStoppingFramer
	adDone
)

const (
	srcFramer fsm.Src = iota
)

// Accepted owns one accepted Unix-domain socket, runs the stream framer
// to completion, and registers the resulting pipe.Pipe with set once the
// header handshake succeeds — component D (aipc) of spec.md §4.D.
type Accepted struct {
	fsm.FSM

	worker      aio.Worker
	sock        *usock.Socket
	ourProtocol uint16
	isPeer      func(uint16) bool
	ep          *endpoint.Endpoint
	set         *pipe.Set
	deliver     func(pipe.ID, message.Message)

	framer     *stream.Framer
	pipeID     pipe.ID
	registered bool
}

// NewAccepted constructs an Accepted over sock (already accepted by a
// Binding's Listener), bound to worker. deliver, if non-nil, is called
// directly with every inbound message once the pipe is active. Call
// Start to begin running it.
func NewAccepted(worker aio.Worker, owner fsm.Owner, src fsm.Src, sock *usock.Socket,
	ourProtocol uint16, isPeer func(uint16) bool, ep *endpoint.Endpoint, set *pipe.Set,
	deliver func(pipe.ID, message.Message)) *Accepted {

	var a = &Accepted{worker: worker, sock: sock, ourProtocol: ourProtocol, isPeer: isPeer, ep: ep, set: set,
		deliver: deliver}
	a.Init("ipc.accepted", a.handle, a.handleShutdown, src, owner)
	return a
}

// Raise implements fsm.Owner for the Framer child.
func (a *Accepted) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	a.Route(src, typ, data)
}

func (a *Accepted) handle(state int, ev fsm.Event) int {
	switch state {
	case adIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			a.framer = stream.NewFramer(a.worker, a, srcFramer, a.sock, Codec{}, a.ourProtocol, a.isPeer, a.ep.GetOpt().RCVMAXSIZE)
			a.framer.Start()
			return adActive
		}

	case adActive:
		switch {
		case ev.Src == srcFramer && ev.Type == pipe.EvStarted:
			a.ep.StatIncrement(endpoint.CounterEstablished)
			a.pipeID = a.set.Add(a.framer)
			a.registered = true
			return adActive
		case ev.Src == srcFramer && ev.Type == pipe.EvSent:
			return adActive
		case ev.Src == srcFramer && ev.Type == pipe.EvReceived:
			if a.deliver != nil {
				a.deliver(a.pipeID, ev.Data.(message.Message))
			}
			return adActive
		case ev.Src == srcFramer && ev.Type == pipe.EvErr:
			a.unregister()
			a.ep.StatIncrement(endpoint.CounterBroken)
			a.Done()
			a.Raise(EvError, ev.Data)
			return adDone
		case ev.Src == srcFramer && ev.Type == pipe.EvStopped:
			a.unregister()
			a.Done()
			a.Raise(EvStopped, nil)
			return adDone
		}

	case adDone:
		return state
	}
	fsm.Violation(a.Name, state, ev.Src, ev.Type)
	return state
}

func (a *Accepted) unregister() {
	if a.registered {
		a.set.Remove(a.pipeID)
		a.registered = false
	}
}

func (a *Accepted) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case adIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			a.Done()
			return adDone
		}
	case adActive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			a.framer.Stop()
			return adStoppingFramer
		}
		return a.handle(state, ev)
	case adStoppingFramer:
		if ev.Src == srcFramer {
			a.unregister()
			a.Done()
			a.Raise(EvStopped, nil)
			return adDone
		}
	case adDone:
		return state
	}
	fsm.Violation(a.Name, state, ev.Src, ev.Type)
	return state
}

// Start begins running this accepted connection's framer.
func (a *Accepted) Start() { a.FSM.Start() }

// Stop begins graceful teardown; EvStopped follows.
func (a *Accepted) Stop() { a.FSM.Stop() }
