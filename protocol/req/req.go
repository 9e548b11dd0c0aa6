// Package req implements the REQ overlay of spec.md §4.H: over a raw
// load-balanced pipe.Set, it adds a 4-byte big-endian request ID (MSB
// always set), resend timing, reply correlation, and cancel-on-resend.
//
// Socket is a root-level FSM (it has no owner of its own): every
// transport endpoint that joins its pipe.Set lives on its own worker,
// chosen independently per spec.md §5's choose_worker, so every entry
// point that is not already guaranteed to run on Socket's own worker —
// pipe.Set's onAdd/onRemove, the deliver callback a transport endpoint
// invokes on a received message, and the user-facing Send/Recv calls —
// hops through Socket's own aio.Worker.Execute before touching FSM
// state, exactly as aio.Timer hops before arming or firing. Only the
// resend timer, bound to the same worker at construction, calls in
// directly.
package req

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/sockopt"
)

const (
	rqIdle = iota
	rqPassive
	rqDelayed
	rqActive
	rqTimedOut
	rqCancelling
	rqStoppingTimer
	rqDone
	rqClosingTimer
	rqClosed
)

const (
	srcTimer fsm.Src = iota
)

var (
	evSend        = fsm.NewType() // Data: []byte (request body); ActionSrc.
	evRecv        = fsm.NewType() // Data: chan replyResult; ActionSrc.
	evReceived    = fsm.NewType() // Data: message.Message; ActionSrc, via Deliver.
	evPipeAdded   = fsm.NewType() // Data: pipe.ID; ActionSrc, via onAdd.
	evPipeRemoved = fsm.NewType() // Data: pipe.ID; ActionSrc, via onRemove.
)

// ErrNoRequest is returned by Recv when no Send has ever been issued —
// spec.md §7's UserSequence EFSM.
var ErrNoRequest = errors.New("req: recv with no request in progress")

// ErrClosed is returned to a Send/Recv in flight when the socket is
// closed before it completes.
var ErrClosed = errors.New("req: socket closed")

type replyResult struct {
	msg message.Message
	err error
}

// Socket is the REQ overlay socket: one outstanding request at a time,
// fanned out over whichever pipes its Set currently holds.
type Socket struct {
	fsm.FSM

	worker aio.Worker
	set    *pipe.Set
	timer  *aio.Timer

	resendIvl time.Duration

	reqID   uint32
	pending []byte // the current request body, re-sent verbatim on timeout/PIPE_RM.
	sentTo  pipe.ID

	newBody []byte // staged body for a cancel-then-resend (ACTIVE|DONE + SENT).

	reply       replyResult
	pendingRecv chan replyResult
}

// NewSocket constructs a REQ socket bound to a worker chosen from pool.
// Call Set to obtain the pipe.Set and Deliver to obtain the callback to
// wire into every transport endpoint (tcp.Binding/Connecting etc.) that
// should feed this socket.
func NewSocket(pool *aio.Pool, opt sockopt.Options) *Socket {
	var s = &Socket{}
	s.worker = pool.Choose()
	s.timer = aio.NewTimer(s.worker, s, srcTimer)
	s.resendIvl = opt.ReqResendIvl
	s.reqID = randReqID()
	s.set = pipe.NewSet(s.onAdd, s.onRemove)
	s.Init("req.socket", s.handle, s.handleShutdown, fsm.Src(0), nil)
	s.Start()
	return s
}

// Raise implements fsm.Owner for the resend timer.
func (s *Socket) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	s.Route(src, typ, data)
}

// Set returns the pipe.Set backing this socket's raw XREQ layer. Pass
// it to every transport endpoint's NewBinding/NewConnecting.
func (s *Socket) Set() *pipe.Set { return s.set }

// Deliver is the callback to pass as a transport endpoint's deliver
// parameter: it is invoked on whatever goroutine that endpoint's own
// worker runs, and hops onto this socket's worker before touching FSM
// state.
func (s *Socket) Deliver(id pipe.ID, msg message.Message) {
	// A message straight off a stream framer has an empty header; its
	// first four body bytes are the request ID.
	if msg.Header.Len() == 0 && msg.Body.Len() >= 4 {
		var b = msg.Body.Bytes()
		msg = message.New(b[:4], b[4:])
	}
	s.worker.Execute(func() { s.Action(evReceived, msg) })
}

func (s *Socket) onAdd(id pipe.ID, p pipe.Pipe) {
	s.worker.Execute(func() { s.Action(evPipeAdded, id) })
}

func (s *Socket) onRemove(id pipe.ID) {
	s.worker.Execute(func() { s.Action(evPipeRemoved, id) })
}

// Send issues a new request, cancelling whichever one is currently
// outstanding. It returns once the FSM has accepted the new request
// (which may mean "queued, no peer yet" — spec.md §4.H's DELAYED), not
// once a reply arrives.
func (s *Socket) Send(ctx context.Context, body []byte) error {
	var done = make(chan struct{})
	s.worker.Execute(func() {
		s.Action(evSend, body)
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the reply correlated with the current request, blocking
// until one arrives. Called with no request ever having been sent, it
// returns ErrNoRequest immediately, per spec.md §7's UserSequence.
func (s *Socket) Recv(ctx context.Context) (message.Message, error) {
	var result = make(chan replyResult, 1)
	s.worker.Execute(func() { s.Action(evRecv, result) })
	select {
	case r := <-result:
		return r.msg, r.err
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

// Close begins shutdown and blocks until fully torn down.
func (s *Socket) Close() {
	var done = make(chan struct{})
	s.worker.Execute(func() {
		s.FSM.Stop()
		close(done)
	})
	<-done
}

func (s *Socket) handle(state int, ev fsm.Event) int {
	switch state {
	case rqIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			return rqPassive
		}

	case rqPassive:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			return s.startRequest(ev.Data.([]byte))
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			ev.Data.(chan replyResult) <- replyResult{err: ErrNoRequest}
			return rqPassive
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return rqPassive
		}

	case rqDelayed:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evPipeAdded:
			return s.forward()
		case ev.Src == fsm.ActionSrc && ev.Type == evPipeRemoved:
			return rqDelayed
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			s.stashRecv(ev.Data.(chan replyResult))
			return rqDelayed
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			return s.cancelForResend(ev.Data.([]byte))
		case ev.Src == fsm.ActionSrc && ev.Type == evReceived:
			return rqDelayed // no pipe was ever sent on; nothing to correlate.
		}

	case rqActive:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evReceived:
			if id, ok := decodeReqID(ev.Data.(message.Message).Header.Bytes()); ok && id == s.reqID {
				s.reply = replyResult{msg: ev.Data.(message.Message)}
				s.timer.Stop()
				return rqStoppingTimer
			}
			return rqActive // mismatched or malformed sphdr: discard, per spec.md §4.H.
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			s.timer.Stop()
			return rqTimedOut
		case ev.Src == fsm.ActionSrc && ev.Type == evPipeRemoved:
			if ev.Data.(pipe.ID) == s.sentTo {
				s.timer.Stop()
				return rqTimedOut
			}
			return rqActive
		case ev.Src == fsm.ActionSrc && ev.Type == evPipeAdded:
			return rqActive
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			s.stashRecv(ev.Data.(chan replyResult))
			return rqActive
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			return s.cancelForResend(ev.Data.([]byte))
		}

	case rqTimedOut:
		// Entered whether the timer genuinely expired or a PIPE_RM on
		// sentTo forced an early stop (spec.md §4.H treats the latter as
		// an immediate timeout); either way we wait for the Timer's
		// terminal Stopped before resending, matching aio.Timer's
		// single-outstanding-Stop contract.
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			return s.resend()
		}
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evPipeRemoved:
			return rqTimedOut
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			s.stashRecv(ev.Data.(chan replyResult))
			return rqTimedOut
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			s.newBody = ev.Data.([]byte)
			return rqTimedOut // absorbed by resend()'s check of s.newBody once Stopped arrives.
		}

	case rqCancelling:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			var body = s.newBody
			s.newBody = nil
			return s.startRequest(body)
		}
		switch {
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return rqCancelling
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			s.stashRecv(ev.Data.(chan replyResult))
			return rqCancelling
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			s.newBody = ev.Data.([]byte) // a second cancel before the first lands; keep only the latest.
			return rqCancelling
		}

	case rqStoppingTimer:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			if s.newBody != nil {
				var body = s.newBody
				s.newBody = nil
				return s.startRequest(body)
			}
			if s.pendingRecv != nil {
				s.pendingRecv <- s.reply
				s.pendingRecv = nil
				return rqPassive
			}
			return rqDone
		}
		switch {
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return rqStoppingTimer
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			s.stashRecv(ev.Data.(chan replyResult))
			return rqStoppingTimer
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			s.newBody = ev.Data.([]byte)
			return rqStoppingTimer
		}

	case rqDone:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			ev.Data.(chan replyResult) <- s.reply
			return rqPassive
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			return s.cancelForResend(ev.Data.([]byte))
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return rqDone
		}

	case rqClosed:
		return state
	}
	fsm.Violation(s.Name, state, ev.Src, ev.Type)
	return state
}

// startRequest advances to the next request ID and attempts to forward
// body immediately — spec.md §4.H's PASSIVE/SENT. The ID is seeded once
// at NewSocket and incremented per request from there, mirroring
// nn_req_init's single nn_random_generate followed by ++task.id per
// send, rather than redrawing from crypto/rand every time.
func (s *Socket) startRequest(body []byte) int {
	s.reqID = nextReqID(s.reqID)
	s.pending = body
	return s.forward()
}

// forward attempts delivery of the current pending request over an
// arbitrary connected pipe, per spec.md §4.H's DELAYED/OUT (peer
// arrived — send) and the initial PASSIVE/SENT attempt.
func (s *Socket) forward() int {
	var id, p, ok = s.set.Any()
	if !ok {
		return rqDelayed
	}
	p.Send(message.New(encodeReqID(s.reqID), s.pending))
	s.sentTo = id
	s.timer.Start(s.resendIvl)
	return rqActive
}

// resend re-sends the same request ID after a timeout or PIPE_RM, per
// spec.md §4.H's "ACTIVE/timer TIMEOUT ... then resend". If a new Send
// arrived while waiting for the timer to stop, that takes precedence.
func (s *Socket) resend() int {
	if s.newBody != nil {
		var body = s.newBody
		s.newBody = nil
		return s.startRequest(body)
	}
	return s.forward()
}

// cancelForResend begins spec.md §4.H's "ACTIVE/SENT or DONE/SENT: a
// new user send cancels the prior" path, generalized to every
// in-flight state: stop whatever timer might be running (a harmless
// no-op that still yields exactly one Stopped if none is running, per
// aio.Timer's contract) and stage body as the next request.
func (s *Socket) cancelForResend(body []byte) int {
	s.newBody = body
	s.timer.Stop()
	return rqCancelling
}

func (s *Socket) stashRecv(ch chan replyResult) {
	s.pendingRecv = ch
}

func (s *Socket) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case rqIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.Done()
			return rqClosed
		}
	case rqPassive, rqDone:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.closeOut()
			return rqClosed
		}
		return s.handle(state, ev)
	case rqDelayed, rqActive, rqCancelling, rqTimedOut, rqStoppingTimer:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.timer.Stop()
			return rqClosingTimer
		}
		return s.handle(state, ev)
	case rqClosingTimer:
		if ev.Src == srcTimer {
			s.closeOut()
			return rqClosed
		}
		// A send/pipe event racing the close is simply dropped; the
		// socket is going away regardless.
		if ev.Src == fsm.ActionSrc {
			return rqClosingTimer
		}
	case rqClosed:
		return state
	}
	fsm.Violation(s.Name, state, ev.Src, ev.Type)
	return state
}

func (s *Socket) closeOut() {
	s.Done()
	if s.pendingRecv != nil {
		s.pendingRecv <- replyResult{err: ErrClosed}
		s.pendingRecv = nil
	}
}

// randReqID draws the initial request ID, once, at construction.
func randReqID() uint32 {
	var buf [4]byte
	rand.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:]) | 0x80000000
}

// nextReqID advances id by one, keeping the MSB set.
func nextReqID(id uint32) uint32 {
	return (id + 1) | 0x80000000
}

func encodeReqID(id uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], id)
	return buf[:]
}

func decodeReqID(buf []byte) (uint32, bool) {
	if len(buf) != 4 {
		return 0, false
	}
	var id = binary.BigEndian.Uint32(buf)
	if id&0x80000000 == 0 {
		return 0, false
	}
	return id, true
}
