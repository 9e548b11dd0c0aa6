package tcp

import (
	"net"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/endpoint"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/usock"
)

const (
	bdIdle = iota
	bdActive
	bdStoppingUsock
	bdStoppingAccepted
	bdDone
)

const (
	srcListener fsm.Src = iota
	srcAccepted
)

// Binding listens on one TCP endpoint, instantiating an Accepted for
// each connection the Listener hands it, and collects finished Accepted
// machines — component F (btcp) of spec.md §4.F.
type Binding struct {
	fsm.FSM

	worker      aio.Worker
	ln          *usock.Listener
	ourProtocol uint16
	isPeer      func(uint16) bool
	ep          *endpoint.Endpoint
	set         *pipe.Set
	deliver     func(pipe.ID, message.Message)

	children map[fsm.Src]*Accepted
	nextSrc  fsm.Src
}

// NewBinding binds address on worker. ourProtocol/isPeer parametrize
// every accepted connection's handshake; set receives each resulting
// pipe. deliver, if non-nil, is passed through to every Accepted child
// and called directly with every inbound message.
func NewBinding(worker aio.Worker, owner fsm.Owner, src fsm.Src, address string,
	ourProtocol uint16, isPeer func(uint16) bool, ep *endpoint.Endpoint, set *pipe.Set,
	deliver func(pipe.ID, message.Message)) (*Binding, error) {

	var ln, err = usock.Listen(worker, nil, srcListener, "tcp", address, ep.GetOpt())
	if err != nil {
		return nil, err
	}
	var b = &Binding{worker: worker, ln: ln, ourProtocol: ourProtocol, isPeer: isPeer, ep: ep, set: set,
		deliver: deliver, children: make(map[fsm.Src]*Accepted), nextSrc: srcAccepted}
	b.Init("tcp.binding", b.handle, b.handleShutdown, src, owner)
	ln.Transfer(b, srcListener)
	return b, nil
}

// Raise implements fsm.Owner for the Listener and every Accepted child.
func (b *Binding) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	b.Route(src, typ, data)
}

func (b *Binding) handle(state int, ev fsm.Event) int {
	switch state {
	case bdIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			b.ln.AcceptLoop()
			return bdActive
		}

	case bdActive:
		switch {
		case ev.Src == srcListener && ev.Type == usock.EvAccepted:
			b.ep.StatIncrement(endpoint.CounterInProgress)
			var sock = ev.Data.(*usock.Socket)
			b.nextSrc++
			var childSrc = b.nextSrc
			var child = NewAccepted(b.worker, b, childSrc, sock, b.ourProtocol, b.isPeer, b.ep, b.set, b.deliver)
			b.children[childSrc] = child
			child.Start()
			return bdActive
		case ev.Src == srcListener && ev.Type == usock.EvErr:
			return bdActive // transient accept error; keep listening.
		case isChildSrc(ev.Src, b.children) && (ev.Type == EvError || ev.Type == EvStopped):
			delete(b.children, ev.Src)
			return bdActive
		}

	case bdDone:
		return state
	}
	fsm.Violation(b.Name, state, ev.Src, ev.Type)
	return state
}

func isChildSrc(src fsm.Src, children map[fsm.Src]*Accepted) bool {
	_, ok := children[src]
	return ok
}

func (b *Binding) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case bdIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			b.Done()
			return bdDone
		}
	case bdActive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			b.ln.Stop()
			return bdStoppingUsock
		}
		return b.handle(state, ev)
	case bdStoppingUsock:
		if ev.Src == srcListener {
			return b.stopAllChildren()
		}
		if isChildSrc(ev.Src, b.children) && (ev.Type == EvError || ev.Type == EvStopped) {
			delete(b.children, ev.Src)
			return bdStoppingUsock
		}
	case bdStoppingAccepted:
		if isChildSrc(ev.Src, b.children) && (ev.Type == EvError || ev.Type == EvStopped) {
			delete(b.children, ev.Src)
			if len(b.children) == 0 {
				b.Done()
				b.Raise(EvStopped, nil)
				return bdDone
			}
			return bdStoppingAccepted
		}
	case bdDone:
		return state
	}
	fsm.Violation(b.Name, state, ev.Src, ev.Type)
	return state
}

func (b *Binding) stopAllChildren() int {
	if len(b.children) == 0 {
		b.Done()
		b.Raise(EvStopped, nil)
		return bdDone
	}
	for _, child := range b.children {
		child.Stop()
	}
	return bdStoppingAccepted
}

// Start begins accepting connections.
func (b *Binding) Start() { b.FSM.Start() }

// Stop begins graceful teardown of the listener and every in-flight
// Accepted child; EvStopped follows.
func (b *Binding) Stop() { b.FSM.Stop() }

// Addr returns the bound address.
func (b *Binding) Addr() net.Addr { return b.ln.Addr() }
