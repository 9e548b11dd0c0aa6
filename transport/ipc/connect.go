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

const (
	csIdle = iota
	csConnecting
	csActive
	csStoppingFramer
	csStoppingDial
	csWaiting
	csStoppingTimer
	csDone
)

const (
	srcDial fsm.Src = iota // raw usock, before ownership passes to the framer
	srcCFramer
	srcBackoff
)

// Connecting drives the resolve→connect→active→broken→backoff→retry
// loop of spec.md §4.E (cipc) over a Unix domain socket path. It
// registers its current pipe with set whenever the framer's handshake
// succeeds, and unregisters it the moment the link breaks, then backs
// off and tries again.
type Connecting struct {
	fsm.FSM

	worker      aio.Worker
	address     string
	ourProtocol uint16
	isPeer      func(uint16) bool
	ep          *endpoint.Endpoint
	set         *pipe.Set
	deliver     func(pipe.ID, message.Message)

	backoff *aio.Backoff
	framer  *stream.Framer

	pipeID     pipe.ID
	registered bool
}

// NewConnecting constructs a Connecting targeting the Unix domain socket
// path address, bound to worker. Call Start to begin the connect loop.
// deliver, if non-nil, is called directly with every inbound message
// once the pipe is active.
func NewConnecting(worker aio.Worker, owner fsm.Owner, src fsm.Src, address string,
	ourProtocol uint16, isPeer func(uint16) bool, ep *endpoint.Endpoint, set *pipe.Set,
	deliver func(pipe.ID, message.Message)) *Connecting {

	var c = &Connecting{worker: worker, address: address, ourProtocol: ourProtocol, isPeer: isPeer, ep: ep, set: set,
		deliver: deliver}
	c.Init("ipc.connecting", c.handle, c.handleShutdown, src, owner)
	var timer = aio.NewTimer(worker, c, srcBackoff)
	var opt = ep.GetOpt()
	c.backoff = aio.NewBackoff(timer, opt.ReconnectIvl, opt.ReconnectIvlMax)
	return c
}

// Raise implements fsm.Owner for the dial, framer, and backoff-timer
// children.
func (c *Connecting) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	c.Route(src, typ, data)
}

func (c *Connecting) dial() {
	c.ep.StatIncrement(endpoint.CounterInProgress)
	usock.Dial(c.worker, c, srcDial, "unix", c.address, c.ep.GetOpt())
}

func (c *Connecting) handle(state int, ev fsm.Event) int {
	switch state {
	case csIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			c.dial()
			return csConnecting
		}

	case csConnecting:
		switch {
		case ev.Src == srcDial && ev.Type == usock.EvConnected:
			var sock = ev.Data.(*usock.Socket)
			c.framer = stream.NewFramer(c.worker, c, srcCFramer, sock, Codec{}, c.ourProtocol, c.isPeer, c.ep.GetOpt().RCVMAXSIZE)
			c.framer.Start()
			return csActive
		case ev.Src == srcDial && ev.Type == usock.EvErr:
			c.ep.StatIncrement(endpoint.CounterConnectError)
			c.backoff.Start()
			return csWaiting
		}

	case csActive:
		switch {
		case ev.Src == srcCFramer && ev.Type == pipe.EvStarted:
			c.ep.StatIncrement(endpoint.CounterEstablished)
			c.backoff.Reset()
			c.pipeID = c.set.Add(c.framer)
			c.registered = true
			return csActive
		case ev.Src == srcCFramer && ev.Type == pipe.EvSent:
			return csActive
		case ev.Src == srcCFramer && ev.Type == pipe.EvReceived:
			if c.deliver != nil {
				c.deliver(c.pipeID, ev.Data.(message.Message))
			}
			return csActive
		case ev.Src == srcCFramer && (ev.Type == pipe.EvErr || ev.Type == pipe.EvStopped):
			c.unregister()
			c.ep.StatIncrement(endpoint.CounterBroken)
			c.backoff.Start()
			return csWaiting
		}

	case csWaiting:
		if ev.Src == srcBackoff && ev.Type == aio.EvTimeout {
			c.dial()
			return csConnecting
		}

	case csDone:
		return state
	}
	fsm.Violation(c.Name, state, ev.Src, ev.Type)
	return state
}

func (c *Connecting) unregister() {
	if c.registered {
		c.set.Remove(c.pipeID)
		c.registered = false
	}
}

func (c *Connecting) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case csIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			c.Done()
			return csDone
		}
	case csConnecting:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			// The in-flight dial has no cancellation handle, so Stop
			// cannot finish until it completes; csStoppingDial absorbs
			// whatever it eventually reports, closing a late-won socket
			// rather than leaking it.
			return csStoppingDial
		}
		return c.handle(state, ev)
	case csStoppingDial:
		if ev.Src == srcDial {
			if ev.Type == usock.EvConnected {
				ev.Data.(*usock.Socket).Stop()
			}
			c.Done()
			return csDone
		}
	case csActive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			c.framer.Stop()
			return csStoppingFramer
		}
		return c.handle(state, ev)
	case csStoppingFramer:
		if ev.Src == srcCFramer {
			c.unregister()
			c.Done()
			return csDone
		}
	case csWaiting:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			c.backoff.Stop()
			return csStoppingTimer
		}
		return c.handle(state, ev)
	case csStoppingTimer:
		if ev.Src == srcBackoff {
			c.Done()
			return csDone
		}
	case csDone:
		return state
	}
	fsm.Violation(c.Name, state, ev.Src, ev.Type)
	return state
}

// Start begins the connect loop.
func (c *Connecting) Start() { c.FSM.Start() }

// Stop begins graceful teardown; the component self-terminates without
// raising an event, matching tcp.Connecting.
func (c *Connecting) Stop() { c.FSM.Stop() }
