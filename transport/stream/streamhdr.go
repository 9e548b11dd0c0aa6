package stream

import (
	"time"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/usock"
	"go.spmsg.dev/core/wire"
)

// headerTimeout is the fixed 1-second timeout for the SP header
// exchange, per spec.md §4.G.
const headerTimeout = time.Second

// Events StreamHdr raises to its owner (a Framer).
var (
	EvOK  = fsm.NewType() // Data: peer's negotiated protocol ID (uint16)
	EvErr = fsm.NewType() // Data: error
)

const (
	shIdle = iota
	shSending
	shReceiving
	shStoppingTimerError
	shStoppingTimerDone
	shDone
	shStopping
)

const (
	srcSock fsm.Src = iota
	srcTimer
)

// StreamHdr exchanges the 8-byte SP protocol header with a timed
// deadline and checks peer-protocol compatibility, per spec.md §4.G.
// It borrows sock from its owner for the duration of the exchange
// (usock.Socket.Transfer) and must hand it back — via
// ownerReturn(sock) — exactly once, whether it succeeds or fails.
type StreamHdr struct {
	fsm.FSM

	sock        *usock.Socket
	timer       *aio.Timer
	ourProtocol uint16
	isPeer      func(peerProtocol uint16) bool
	ownerReturn func(*usock.Socket)

	sendBuf  [wire.HeaderLen]byte
	recvErr  error
	peerProt uint16
}

// newStreamHdr constructs a StreamHdr bound to worker, borrowing sock
// from owner for the handshake. ourProtocol is advertised to the peer;
// isPeer decides whether the peer's advertised protocol is acceptable.
// ownerReturn is invoked exactly once, with sock, when the handshake's
// usock borrow ends (success or failure) — the owner must swap_owner
// sock back to itself there. Unexported: only Framer constructs a
// StreamHdr, always as its PROTOHDR-state child.
func newStreamHdr(worker aio.Worker, owner fsm.Owner, src fsm.Src, sock *usock.Socket,
	ourProtocol uint16, isPeer func(uint16) bool, ownerReturn func(*usock.Socket)) *StreamHdr {

	var h = &StreamHdr{sock: sock, ourProtocol: ourProtocol, isPeer: isPeer, ownerReturn: ownerReturn}
	h.Init("stream.streamhdr", h.handle, h.handleShutdown, src, owner)
	h.timer = aio.NewTimer(worker, h, srcTimer)
	return h
}

// Raise implements fsm.Owner for the Socket and Timer children.
func (h *StreamHdr) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	h.Route(src, typ, data)
}

// startHandshake takes ownership of sock (spec.md §3's swap_owner) so
// its completion events route to h rather than whichever FSM owned it
// beforehand; handle's shIdle arm calls it before sending the header.
func (h *StreamHdr) startHandshake() {
	h.sock.Transfer(h, srcSock)
}

func (h *StreamHdr) handle(state int, ev fsm.Event) int {
	switch state {
	case shIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			h.startHandshake()
			h.sendBuf = wire.EncodeHeader(h.ourProtocol)
			h.sock.Send([][]byte{h.sendBuf[:]})
			h.timer.Start(headerTimeout)
			return shSending
		}

	case shSending:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvSent:
			h.sock.Recv(wire.HeaderLen)
			return shReceiving
		case ev.Src == srcSock && ev.Type == usock.EvErr:
			h.recvErr = ev.Data.(error)
			h.timer.Stop()
			return shStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop() // force the in-flight send to unblock via close
			h.timer.Stop()
			return shStoppingTimerError
		}

	case shReceiving:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvReceived:
			var buf = ev.Data.([]byte)
			var protocol, err = wire.DecodeHeader(buf)
			if err == nil && !h.isPeer(protocol) {
				err = ErrProtocolMismatch
			}
			if err != nil {
				h.recvErr = err
				h.timer.Stop()
				return shStoppingTimerError
			}
			h.peerProt = protocol
			h.timer.Stop()
			return shStoppingTimerDone
		case ev.Src == srcSock && (ev.Type == usock.EvErr || ev.Type == usock.EvShutdown):
			if ev.Type == usock.EvErr {
				h.recvErr = ev.Data.(error)
			} else {
				h.recvErr = ErrPeerClosed
			}
			h.timer.Stop()
			return shStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop()
			h.timer.Stop()
			return shStoppingTimerError
		}

	case shStoppingTimerError:
		// Per spec.md §9's Open Question #3: this state absorbs every
		// late usock event as a no-op rather than asserting on it —
		// only the timer's own Stopped advances us.
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			h.ownerReturn(h.sock)
			h.Done()
			h.Raise(EvErr, h.recvErr)
			return shDone
		}
		return state

	case shStoppingTimerDone:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			h.ownerReturn(h.sock)
			h.Done()
			h.Raise(EvOK, h.peerProt)
			return shDone
		}
		// As with shStoppingTimerError, late usock events here are
		// harmless no-ops (e.g. a USOCK_SHUTDOWN racing the timer's own
		// stop after we already decided OK).
		return state
	}

	fsm.Violation(h.Name, state, ev.Src, ev.Type)
	return state
}

func (h *StreamHdr) handleShutdown(state int, ev fsm.Event) int {
	// StreamHdr has no children of its own that outlive a terminal
	// state transition other than the timer, which is already stopped
	// by the time shDone is reached; Stop() is only meaningful while
	// mid-handshake, in which case it behaves like a receive timeout.
	switch state {
	case shIdle, shSending, shReceiving:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			h.recvErr = ErrStopped
			h.timer.Stop()
			return shStoppingTimerError
		}
	case shStoppingTimerError, shStoppingTimerDone, shDone:
		return h.handle(state, ev)
	}
	fsm.Violation(h.Name, state, ev.Src, ev.Type)
	return state
}

// Start begins the header exchange.
func (h *StreamHdr) Start() { h.FSM.Start() }

// StreamHdr-specific errors.
var (
	ErrTimeout          = streamErr("stream: header exchange timed out")
	ErrProtocolMismatch = streamErr("stream: peer advertised an incompatible SP protocol")
	ErrPeerClosed       = streamErr("stream: peer closed during header exchange")
	ErrStopped          = streamErr("stream: header exchange aborted by Stop")
)

type streamErr string

func (e streamErr) Error() string { return string(e) }
