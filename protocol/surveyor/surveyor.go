// Package surveyor implements the SURVEYOR overlay of spec.md §4.I: over
// a raw fan-out pipe.Set, it tags each survey with a 4-byte big-endian
// ID (MSB always set), broadcasts it to every connected peer, collects
// replies until a per-survey deadline expires, and discards any reply
// that does not correlate with the survey currently in progress.
//
// Socket follows the same root-FSM, worker-hop discipline as
// protocol/req.Socket: it binds its own aio.Worker at construction and
// funnels every external entry point — pipe.Set's onAdd/onRemove, the
// deliver callback a transport endpoint invokes on a received message,
// and the user-facing Send/Recv calls — through that worker before
// touching FSM state.
package surveyor

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
	svIdle = iota
	svPassive
	svActive
	svCancelling
	svClosingTimer
	svClosed
)

const (
	srcTimer fsm.Src = iota
)

var (
	evSend        = fsm.NewType() // Data: *sendReq; ActionSrc.
	evRecv        = fsm.NewType() // Data: chan replyResult; ActionSrc.
	evReceived    = fsm.NewType() // Data: message.Message; ActionSrc, via Deliver.
	evPipeAdded   = fsm.NewType() // Data: pipe.ID; ActionSrc, via onAdd.
	evPipeRemoved = fsm.NewType() // Data: pipe.ID; ActionSrc, via onRemove.
)

// ErrNoSurvey is returned by Recv when no survey has ever been started —
// spec.md §7's UserSequence EFSM.
var ErrNoSurvey = errors.New("surveyor: recv with no survey in progress")

// ErrTimedOut is returned by Recv exactly once per survey, the instant
// the deadline expires with no further reply collected.
var ErrTimedOut = errors.New("surveyor: deadline expired")

// ErrNoPeers is returned by Send when the pipe.Set is empty at the
// moment of the call — spec.md §9's "SURVEYOR send path...if no
// outbound slot is available, it returns EAGAIN before any state
// transition", so the caller can retry without the socket having
// silently moved to ACTIVE with nobody to answer.
var ErrNoPeers = errors.New("surveyor: no peers connected")

// ErrClosed is returned to a Send/Recv in flight when the socket is
// closed before it completes.
var ErrClosed = errors.New("surveyor: socket closed")

type replyResult struct {
	msg message.Message
	err error
}

type sendReq struct {
	body   []byte
	result chan error
}

// Socket is the SURVEYOR overlay socket: one survey in progress at a
// time, broadcast over every pipe its Set currently holds, with replies
// delivered to Recv until the deadline timer fires.
type Socket struct {
	fsm.FSM

	worker aio.Worker
	set    *pipe.Set
	timer  *aio.Timer

	deadline time.Duration

	surveyID uint32
	body     []byte
	newBody  []byte // staged body for a cancel-then-resend (ACTIVE + SEND).

	pendingRecv chan replyResult
	replies     []message.Message // correlated replies not yet taken by Recv.

	// pendingTimeout is set when the deadline fires with no Recv
	// waiting, so the first Recv call afterward still observes
	// ErrTimedOut exactly once, per spec.md §4.I, rather than falling
	// straight through to ErrNoSurvey.
	pendingTimeout bool
}

// NewSocket constructs a SURVEYOR socket bound to a worker chosen from
// pool. Call Set to obtain the pipe.Set and Deliver to obtain the
// callback to wire into every transport endpoint that should feed this
// socket.
func NewSocket(pool *aio.Pool, opt sockopt.Options) *Socket {
	var s = &Socket{}
	s.worker = pool.Choose()
	s.timer = aio.NewTimer(s.worker, s, srcTimer)
	s.deadline = opt.SurveyorDeadline
	s.surveyID = randSurveyID()
	s.set = pipe.NewSet(s.onAdd, s.onRemove)
	s.Init("surveyor.socket", s.handle, s.handleShutdown, fsm.Src(0), nil)
	s.Start()
	return s
}

// Raise implements fsm.Owner for the deadline timer.
func (s *Socket) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	s.Route(src, typ, data)
}

// Set returns the pipe.Set backing this socket's raw XSURVEYOR layer.
// Pass it to every transport endpoint's NewBinding/NewConnecting.
func (s *Socket) Set() *pipe.Set { return s.set }

// Deliver is the callback to pass as a transport endpoint's deliver
// parameter: it is invoked on whatever goroutine that endpoint's own
// worker runs, and hops onto this socket's worker before touching FSM
// state.
func (s *Socket) Deliver(id pipe.ID, msg message.Message) {
	// A message straight off a stream framer has an empty header; its
	// first four body bytes are the survey ID.
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

// Send broadcasts a new survey, cancelling whichever one is currently
// in progress. It returns ErrNoPeers without touching the FSM's state
// at all if the pipe.Set is empty at the moment of the call, per
// spec.md §9's EAGAIN-before-transition ordering; otherwise it returns
// once the FSM has accepted the new survey, not once any reply arrives.
func (s *Socket) Send(ctx context.Context, body []byte) error {
	var req = &sendReq{body: body, result: make(chan error, 1)}
	s.worker.Execute(func() { s.Action(evSend, req) })
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next reply correlated with the current survey,
// blocking until one arrives, the deadline expires (ErrTimedOut, exactly
// once), or ctx is cancelled. Called with no survey ever started, it
// returns ErrNoSurvey immediately, per spec.md §7's UserSequence.
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
	case svIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			return svPassive
		}

	case svPassive:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			var req = ev.Data.(*sendReq)
			if s.set.Len() == 0 {
				req.result <- ErrNoPeers
				return svPassive
			}
			req.result <- nil
			return s.startSurvey(req.body)
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			if s.pendingTimeout {
				s.pendingTimeout = false
				ev.Data.(chan replyResult) <- replyResult{err: ErrTimedOut}
			} else {
				ev.Data.(chan replyResult) <- replyResult{err: ErrNoSurvey}
			}
			return svPassive
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return svPassive
		}

	case svActive:
		switch {
		case ev.Src == fsm.ActionSrc && ev.Type == evReceived:
			if id, ok := decodeSurveyID(ev.Data.(message.Message).Header.Bytes()); ok && id == s.surveyID {
				if s.pendingRecv != nil {
					s.pendingRecv <- replyResult{msg: ev.Data.(message.Message)}
					s.pendingRecv = nil
				} else {
					s.replies = append(s.replies, ev.Data.(message.Message))
				}
			}
			return svActive // mismatched or malformed reply: discard.
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			if s.pendingRecv != nil {
				s.pendingRecv <- replyResult{err: ErrTimedOut}
				s.pendingRecv = nil
			} else {
				s.pendingTimeout = true
			}
			return svPassive
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved):
			return svActive
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			if len(s.replies) > 0 {
				ev.Data.(chan replyResult) <- replyResult{msg: s.replies[0]}
				s.replies = s.replies[1:]
				return svActive
			}
			s.pendingRecv = ev.Data.(chan replyResult)
			return svActive
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			var req = ev.Data.(*sendReq)
			if s.set.Len() == 0 {
				req.result <- ErrNoPeers
				return svActive
			}
			req.result <- nil
			s.newBody = req.body
			s.timer.Stop()
			return svCancelling
		}

	case svCancelling:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			return s.startSurvey(s.newBody)
		}
		switch {
		case ev.Src == fsm.ActionSrc && (ev.Type == evPipeAdded || ev.Type == evPipeRemoved || ev.Type == evReceived):
			return svCancelling
		case ev.Src == fsm.ActionSrc && ev.Type == evRecv:
			ev.Data.(chan replyResult) <- replyResult{err: ErrNoSurvey}
			return svCancelling
		case ev.Src == fsm.ActionSrc && ev.Type == evSend:
			var req = ev.Data.(*sendReq)
			if s.set.Len() == 0 {
				req.result <- ErrNoPeers
				return svCancelling
			}
			req.result <- nil
			s.newBody = req.body
			return svCancelling
		}

	case svClosed:
		return state
	}
	fsm.Violation(s.Name, state, ev.Src, ev.Type)
	return state
}

// startSurvey advances to the next survey ID, broadcasts body to every
// connected pipe (spec.md §4.I's "send to all peers" XSURVEYOR
// semantics), and arms the deadline timer. Callers must already have
// confirmed s.set.Len() > 0. The ID is seeded once at NewSocket and
// incremented per survey from there — see protocol/req's identical
// nextReqID rationale, grounded on nn_surveyor_init/surveyor.c's single
// nn_random_generate followed by ++surveyid per survey.
func (s *Socket) startSurvey(body []byte) int {
	s.surveyID = nextSurveyID(s.surveyID)
	s.body = body
	s.replies = nil
	s.pendingTimeout = false
	var header = encodeSurveyID(s.surveyID)
	s.set.Each(func(id pipe.ID, p pipe.Pipe) {
		p.Send(message.New(header, s.body))
	})
	s.timer.Start(s.deadline)
	return svActive
}

func (s *Socket) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case svIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.Done()
			return svClosed
		}
	case svPassive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.closeOut()
			return svClosed
		}
		return s.handle(state, ev)
	case svActive, svCancelling:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			s.timer.Stop()
			return svClosingTimer
		}
		return s.handle(state, ev)
	case svClosingTimer:
		if ev.Src == srcTimer {
			s.closeOut()
			return svClosed
		}
		if ev.Src == fsm.ActionSrc {
			return svClosingTimer
		}
	case svClosed:
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

// randSurveyID draws the initial survey ID, once, at construction.
func randSurveyID() uint32 {
	var buf [4]byte
	rand.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:]) | 0x80000000
}

// nextSurveyID advances id by one, keeping the MSB set.
func nextSurveyID(id uint32) uint32 {
	return (id + 1) | 0x80000000
}

func encodeSurveyID(id uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], id)
	return buf[:]
}

func decodeSurveyID(buf []byte) (uint32, bool) {
	if len(buf) != 4 {
		return 0, false
	}
	var id = binary.BigEndian.Uint32(buf)
	if id&0x80000000 == 0 {
		return 0, false
	}
	return id, true
}
