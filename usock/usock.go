// Package usock adapts a blocking net.Conn/net.Listener into the
// "universal socket" completion-event model spec.md §3 describes: an
// asynchronous byte-stream handle whose operations complete by posting
// an event to its current owner, with ownership transferable via
// Transfer (the spec's swap_owner).
//
// The platform async poller (epoll/kqueue/IOCP) that a production
// nanomsg-class library would sit on is explicitly out of scope per
// spec.md §1 ("the core consumes an abstract universal socket"); this
// package is the thin, concrete instantiation needed to make the core
// runnable over the stdlib net package, analogous to how
// broker/client/reader.go adapts a gRPC stream to io.Reader rather than
// reimplementing gRPC's transport.
package usock

import (
	"io"
	"net"
	"sync"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/sockopt"
)

// Events raised to a Socket's current owner.
var (
	EvConnected = fsm.NewType()
	EvAccepted  = fsm.NewType() // Data: *Socket (new, unowned-by-anyone-yet)
	EvSent      = fsm.NewType()
	EvReceived  = fsm.NewType() // Data: []byte
	EvShutdown  = fsm.NewType()
	EvErr       = fsm.NewType() // Data: error
	EvStopped   = fsm.NewType()
)

// Socket wraps one connected net.Conn. At most one owner may observe
// its events at a time; Transfer rebinds the event sink atomically with
// respect to the worker goroutine driving I/O, so the previous owner
// can never observe an event emitted after the transfer.
type Socket struct {
	worker aio.Worker
	conn   net.Conn

	mu    sync.Mutex
	owner fsm.Owner
	src   fsm.Src

	stopped bool
}

// NewConnected wraps an already-connected conn (the result of a dial or
// an accept), owned initially by owner/src.
func NewConnected(worker aio.Worker, conn net.Conn, owner fsm.Owner, src fsm.Src) *Socket {
	return &Socket{worker: worker, conn: conn, owner: owner, src: src}
}

// Transfer rebinds this Socket's event sink to newOwner/newSrc. Per
// spec.md §3's invariant, the previous owner must have no in-flight
// expectations on the socket at the swap instant — callers are
// responsible for quiescing any outstanding Send/Recv before calling
// Transfer, exactly as they would before calling swap_owner in the
// original design.
func (s *Socket) Transfer(newOwner fsm.Owner, newSrc fsm.Src) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner, s.src = newOwner, newSrc
}

func (s *Socket) raise(typ fsm.Type, data interface{}) {
	s.mu.Lock()
	var owner, src = s.owner, s.src
	s.mu.Unlock()
	if owner != nil {
		owner.Raise(src, typ, data)
	}
}

// Send writes iov's chunks back-to-back as a single logical write
// (spec.md §4.C's "transmitted as three iovecs... back-to-back to
// avoid copying") and raises EvSent on success or EvErr on failure.
// Only one Send may be outstanding at a time.
func (s *Socket) Send(iov [][]byte) {
	s.worker.Execute(func() {
		for _, chunk := range iov {
			if len(chunk) == 0 {
				continue
			}
			if _, err := s.conn.Write(chunk); err != nil {
				s.raise(EvErr, err)
				return
			}
		}
		s.raise(EvSent, nil)
	})
}

// Recv reads exactly n bytes and raises EvReceived with the filled
// buffer, EvShutdown when the peer closed the connection (io.EOF or a
// short read), or EvErr on any other failure. The read runs on its own
// goroutine so the worker is not held while waiting for the peer; the
// resulting event is raised from the worker, and not at all once Stop
// has run. Only one Recv may be outstanding at a time.
func (s *Socket) Recv(n int) {
	go func() {
		var buf = make([]byte, n)
		var _, err = io.ReadFull(s.conn, buf)
		s.worker.Execute(func() {
			if s.stopped {
				return
			}
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					s.raise(EvShutdown, err)
				} else {
					s.raise(EvErr, err)
				}
				return
			}
			s.raise(EvReceived, buf)
		})
	}()
}

// Stop closes the underlying connection and raises EvStopped. Per
// spec.md §5, callers must not consider the Socket's resources released
// until EvStopped is observed.
func (s *Socket) Stop() {
	s.worker.Execute(func() {
		if s.stopped {
			return
		}
		s.stopped = true
		_ = s.conn.Close()
		s.raise(EvStopped, nil)
	})
}

// Conn exposes the underlying net.Conn for callers that need raw
// addressing info (e.g. endpoint stats); it must not be read from or
// written to directly while a Send/Recv is outstanding.
func (s *Socket) Conn() net.Conn { return s.conn }

// Listener wraps a net.Listener, raising EvAccepted(*Socket) for each
// accepted connection until Stop is called.
type Listener struct {
	worker aio.Worker
	ln     net.Listener
	opt    sockopt.Options

	mu    sync.Mutex
	owner fsm.Owner
	src   fsm.Src

	stopped bool
}

// NewListener wraps ln, owned initially by owner/src. opt's TCP-level
// knobs (spec.md §6) are applied to every accepted connection.
func NewListener(worker aio.Worker, ln net.Listener, owner fsm.Owner, src fsm.Src, opt sockopt.Options) *Listener {
	var l = &Listener{worker: worker, ln: ln, owner: owner, src: src, opt: opt}
	return l
}

func (l *Listener) raise(typ fsm.Type, data interface{}) {
	l.mu.Lock()
	var owner, src = l.owner, l.src
	l.mu.Unlock()
	if owner != nil {
		owner.Raise(src, typ, data)
	}
}

// AcceptLoop begins accepting connections in the background, one
// EvAccepted per connection, until Stop closes the listener (which
// unblocks Accept with an error and ends the loop, raising EvStopped).
// Any other Accept error raises EvErr and the loop keeps accepting.
// Accept runs on its own goroutine; every event is raised from the
// worker.
func (l *Listener) AcceptLoop() {
	go l.acceptOnce()
}

func (l *Listener) acceptOnce() {
	for {
		var conn, err = l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			var stopped = l.stopped
			l.mu.Unlock()
			if stopped {
				l.worker.Execute(func() { l.raise(EvStopped, nil) })
				return
			}
			l.worker.Execute(func() { l.raise(EvErr, err) })
			continue
		}
		applySocketOpts(conn, l.opt)
		var sock = NewConnected(l.worker, conn, nil, -1)
		l.worker.Execute(func() { l.raise(EvAccepted, sock) })
	}
}

// Stop closes the listener. The in-flight Accept unblocks with an
// error, which acceptOnce maps to a clean EvStopped rather than
// EvErr.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	_ = l.ln.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
