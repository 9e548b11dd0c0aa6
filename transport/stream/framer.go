// Package stream implements the stream transport pipeline (component C,
// sXXX in spec.md): given an already-connected byte stream, perform the
// SP protocol-header exchange (component G, via StreamHdr) and then
// frame length-prefixed messages until the link breaks. The same
// Framer state machine serves TCP and IPC (distinguished only by their
// Codec's header layout); WebSocket has its own self-contained Framer
// in transport/ws.
package stream

import (
	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/usock"
)

// Codec abstracts the transport-specific frame prefix (TCP: 8-byte
// length; IPC: message-type byte + 8-byte length). Framer owns no
// transport-specific knowledge beyond this.
type Codec interface {
	// HeaderLen is the fixed length of the frame prefix.
	HeaderLen() int
	// EncodeLen renders the frame prefix for a payload of n bytes.
	EncodeLen(n uint64) []byte
	// DecodeLen parses a HeaderLen()-byte prefix and returns the
	// announced payload length.
	DecodeLen(buf []byte) (uint64, error)
}

const (
	frIdle = iota
	frProtoHdr
	frActive
	frShuttingDown
	frDone
	frStopping
)

// Inbound sub-state, valid only while state == frActive.
const (
	inHdr = iota
	inBody
	inHasMsg
)

// Outbound sub-state, valid only while state == frActive.
const (
	outIdle = iota
	outSending
)

const (
	srcStreamHdr fsm.Src = iota
	srcUsock
)

// Framer drives one connection's protocol-header exchange and message
// framing. It implements pipe.Pipe for whatever protocol overlay (or
// raw PAIR-style consumer) owns it.
type Framer struct {
	fsm.FSM

	worker      aio.Worker
	sock        *usock.Socket
	codec       Codec
	ourProtocol uint16
	isPeer      func(uint16) bool
	rcvMaxSize  int64 // <0 disables the check

	hdr        *StreamHdr
	peerProt   uint16
	lastErr    error
	inSub      int
	outSub     int
	pendingLen uint64
	pendingHdr []byte
	curMsg     message.Message
	hasMsg     bool
}

// NewFramer constructs a Framer over an already-connected sock, bound
// to worker. ourProtocol/isPeer parametrize the StreamHdr exchange;
// rcvMaxSize <0 disables the RCVMAXSIZE enforcement of spec.md §4.C.
func NewFramer(worker aio.Worker, owner fsm.Owner, src fsm.Src, sock *usock.Socket,
	codec Codec, ourProtocol uint16, isPeer func(uint16) bool, rcvMaxSize int64) *Framer {

	var f = &Framer{worker: worker, sock: sock, codec: codec, ourProtocol: ourProtocol,
		isPeer: isPeer, rcvMaxSize: rcvMaxSize}
	f.Init("stream.framer", f.handle, f.handleShutdown, src, owner)
	return f
}

// Raise implements fsm.Owner for StreamHdr and usock children.
func (f *Framer) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	f.Route(src, typ, data)
}

func (f *Framer) handle(state int, ev fsm.Event) int {
	switch state {
	case frIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			f.hdr = newStreamHdr(f.worker, f, srcStreamHdr, f.sock, f.ourProtocol, f.isPeer, func(s *usock.Socket) {
				s.Transfer(f, srcUsock)
				f.sock = s
			})
			f.hdr.Start()
			return frProtoHdr
		}

	case frProtoHdr:
		switch {
		case ev.Src == srcStreamHdr && ev.Type == EvOK:
			// StreamHdr's own STOPPING_TIMER_DONE phase (see
			// streamhdr.go) already performed the "stop StreamHdr, wait
			// for its Stopped" half of spec.md §4.C's
			// PROTOHDR/STREAMHDR_OK -> STOPPING_STREAMHDR ->
			// STOPPING_STREAMHDR/STREAMHDR_STOPPED transition pair
			// before ever raising EvOK, so Framer folds both edges
			// into this one: by the time we observe EvOK, the usock
			// has already been swapped back to us and StreamHdr is
			// fully torn down.
			f.peerProt = ev.Data.(uint16)
			f.startActive()
			return frActive
		case ev.Src == srcStreamHdr && ev.Type == EvErr:
			f.lastErr = ev.Data.(error)
			// Per spec.md §4.C: a STREAMHDR_ERROR bypasses child-stop
			// sequencing and goes straight to DONE — StreamHdr has
			// already fully torn itself down by the time it raises
			// EvErr (see streamhdr.go's shStoppingTimerError arm).
			f.Done()
			f.Raise(pipe.EvErr, f.lastErr)
			return frDone
		}

	case frActive:
		return f.handleActive(ev)

	case frShuttingDown:
		if ev.Src == srcUsock && ev.Type == usock.EvErr {
			f.lastErr = ev.Data.(error)
			f.Done()
			f.Raise(pipe.EvErr, f.lastErr)
			return frDone
		}
		if ev.Src == srcUsock && ev.Type == usock.EvStopped {
			f.Done()
			// A local failPolicy (RCVMAXSIZE, a bad length prefix) drives
			// the sock.Stop() that lands here exactly like a Shutdown or
			// remote error would; lastErr distinguishes the two so the
			// owner sees the real cause instead of a bare EvStopped.
			if f.lastErr != nil {
				f.Raise(pipe.EvErr, f.lastErr)
			} else {
				f.Raise(pipe.EvStopped, nil)
			}
			return frDone
		}

	case frDone:
		return state
	}

	fsm.Violation(f.Name, state, ev.Src, ev.Type)
	return state
}

func (f *Framer) handleActive(ev fsm.Event) int {
	switch {
	case ev.Src == srcUsock && ev.Type == usock.EvSent:
		f.outSub = outIdle
		f.Raise(pipe.EvSent, nil)
		return frActive

	case ev.Src == srcUsock && ev.Type == usock.EvReceived:
		if f.onReceived(ev.Data.([]byte)) {
			return frShuttingDown
		}
		return frActive

	case ev.Src == srcUsock && ev.Type == usock.EvShutdown:
		f.sock.Stop()
		return frShuttingDown

	case ev.Src == srcUsock && ev.Type == usock.EvErr:
		f.lastErr = ev.Data.(error)
		f.sock.Stop()
		return frShuttingDown
	}
	fsm.Violation(f.Name, frActive, ev.Src, ev.Type)
	return frActive
}

// onReceived processes one completed usock.Recv and reports whether it
// triggered failPolicy (meaning the caller must transition to
// frShuttingDown rather than staying in frActive).
func (f *Framer) onReceived(buf []byte) bool {
	switch f.inSub {
	case inHdr:
		var n, err = f.codec.DecodeLen(buf)
		if err != nil {
			f.failPolicy(err)
			return true
		}
		if f.rcvMaxSize >= 0 && int64(n) > f.rcvMaxSize {
			f.failPolicy(ErrPolicyExceeded)
			return true
		}
		f.pendingLen = n
		if n == 0 {
			// A zero-length frame is delivered immediately without
			// issuing a body read, per spec.md §4.C.
			f.deliver(nil)
			return false
		}
		f.inSub = inBody
		f.sock.Recv(int(n))
		return false

	case inBody:
		f.deliver(buf)
		return false
	}
	return false
}

func (f *Framer) deliver(body []byte) {
	f.curMsg = message.NewBodyOnly(body)
	f.hasMsg = true
	f.inSub = inHasMsg
	f.Raise(pipe.EvReceived, f.curMsg)
	// The owner takes the message during the Raise above (pipe.Pipe has
	// no consumer-side Recv), so reading resumes with the next prefix.
	f.hasMsg = false
	f.inSub = inHdr
	f.sock.Recv(f.codec.HeaderLen())
}

func (f *Framer) failPolicy(err error) {
	f.lastErr = err
	f.sock.Stop()
	// We reuse frShuttingDown's handling of the subsequent
	// usock.EvStopped/EvErr to reach frDone uniformly.
}

func (f *Framer) startActive() {
	f.inSub = inHdr
	f.outSub = outIdle
	f.Raise(pipe.EvStarted, nil)
	f.sock.Recv(f.codec.HeaderLen())
}

// --- pipe.Pipe ---

// Send implements pipe.Pipe. msg's header+body are sent as separate
// iovecs following the frame length prefix, mirroring spec.md §4.C's
// "three iovecs: header bytes, sphdr chunk, body chunk — back-to-back
// to avoid copying."
func (f *Framer) Send(msg message.Message) {
	if f.outSub != outIdle {
		fsm.Violation(f.Name, f.State(), fsm.ActionSrc, -1)
	}
	f.outSub = outSending
	var n = uint64(msg.Len())
	var prefix = f.codec.EncodeLen(n)
	f.sock.Send([][]byte{prefix, msg.Header.Bytes(), msg.Body.Bytes()})
}

// IsPeer implements pipe.Pipe.
func (f *Framer) IsPeer(want uint16) bool { return f.isPeer(want) }

// PeerProtocol implements pipe.Pipe.
func (f *Framer) PeerProtocol() uint16 { return f.peerProt }

// Stop implements pipe.Pipe, beginning graceful or immediate teardown
// depending on current state.
func (f *Framer) Stop() {
	f.FSM.Stop()
}

func (f *Framer) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case frIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.Done()
			return frDone
		}
	case frProtoHdr:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.hdr.Stop()
			return frStopping
		}
		return f.handle(state, ev)
	case frStopping:
		if ev.Src == srcStreamHdr {
			f.Done()
			f.Raise(pipe.EvStopped, nil)
			return frDone
		}
	case frActive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.sock.Stop()
			return frShuttingDown
		}
		return f.handleActive(ev)
	case frShuttingDown:
		return f.handle(state, ev)
	case frDone:
		return state
	}
	fsm.Violation(f.Name, state, ev.Src, ev.Type)
	return state
}

// Framer-specific errors.
var (
	ErrPolicyExceeded = streamErr("stream: RCVMAXSIZE exceeded")
)
