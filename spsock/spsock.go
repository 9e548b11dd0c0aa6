// Package spsock is the top-level socket type of spec.md §3: it owns an
// aio.Pool, a set of user-requested Dial/Listen endpoints across the
// tcp/ipc/ws transports, and one protocol overlay (currently
// protocol/req or protocol/surveyor) that those endpoints feed. It is
// the composition root a caller actually constructs; the transport and
// protocol packages underneath it are not meant to be wired by hand.
package spsock

import (
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/endpoint"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/internal/xtrace"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/sockopt"
	"go.spmsg.dev/core/transport/ipc"
	"go.spmsg.dev/core/transport/tcp"
	"go.spmsg.dev/core/transport/ws"
	"go.spmsg.dev/core/wire"
)

// Overlay is the interface a protocol overlay (protocol/req.Socket,
// protocol/surveyor.Socket) exposes to Socket: the pipe.Set every
// transport endpoint registers into, and the callback that feeds it
// inbound messages.
type Overlay interface {
	Set() *pipe.Set
	Deliver(pipe.ID, message.Message)
}

// binding is the subset of tcp/ipc/ws.Binding that Socket needs to hold
// onto generically across the three transports.
type binding interface {
	Stop()
}

// connecting is the subset of tcp/ipc/ws.Connecting Socket holds onto
// generically.
type connecting interface {
	Stop()
}

// Socket composes a protocol overlay with the transport endpoints the
// caller dials or binds against it. ourProtocol/peerProtocol fix the SP
// protocol pair this socket negotiates (e.g. wire.ProtoReq against
// wire.ProtoRep); every transport endpoint constructed through Dial/
// Listen shares them.
type Socket struct {
	pool         *aio.Pool
	overlay      Overlay
	ourProtocol  uint16
	peerProtocol uint16
	opt          sockopt.Options
	stats        *endpoint.Stats
	trace        xtrace.Trace
	instanceID   string

	mu          sync.Mutex
	bindings    []binding
	connectings []connecting
	rootSrc     fsm.Src
}

// rootOwner absorbs Raise calls from top-level Binding/Connecting
// endpoints, which have no owner of their own, as the root context
// spec.md §4.A describes. It is not itself a protocol overlay.
type rootOwner struct{}

func (rootOwner) Raise(src fsm.Src, typ fsm.Type, data interface{}) {}

// New constructs a Socket over overlay (already running), fixing the SP
// protocol pair it negotiates. stats may be nil to disable metrics.
func New(pool *aio.Pool, overlay Overlay, ourProtocol, peerProtocol uint16, opt sockopt.Options, stats *endpoint.Stats) *Socket {
	return &Socket{
		pool:         pool,
		overlay:      overlay,
		ourProtocol:  ourProtocol,
		peerProtocol: peerProtocol,
		opt:          opt,
		stats:        stats,
		trace:        xtrace.New("spsock", uuid.NewString()),
		instanceID:   uuid.NewString(),
	}
}

// NewReq constructs a Socket around a fresh protocol/req.Socket-style
// overlay, fixed to the REQ/REP protocol pair. overlay must already be
// running (e.g. req.NewSocket's return value).
func NewReq(pool *aio.Pool, overlay Overlay, opt sockopt.Options, stats *endpoint.Stats) *Socket {
	return New(pool, overlay, wire.ProtoReq, wire.ProtoRep, opt, stats)
}

// NewSurveyor constructs a Socket around a fresh protocol/surveyor.Socket-
// style overlay, fixed to the SURVEYOR/RESPONDENT protocol pair.
func NewSurveyor(pool *aio.Pool, overlay Overlay, opt sockopt.Options, stats *endpoint.Stats) *Socket {
	return New(pool, overlay, wire.ProtoSurveyor, wire.ProtoRespondent, opt, stats)
}

func (s *Socket) isPeer(protocol uint16) bool { return protocol == s.peerProtocol }

// Dial resolves addr (a "tcp://host:port", "ipc:///path", or
// "ws://host:port/resource" URL) and starts a Connecting endpoint
// against it, feeding the pipes it establishes into this socket's
// overlay. It returns once the endpoint has started, not once it first
// connects.
func (s *Socket) Dial(addr string) error {
	var u, err = url.Parse(addr)
	if err != nil {
		return errors.Wrapf(err, "spsock: parsing dial address %q", addr)
	}

	var worker = s.pool.Choose()
	var ep = endpoint.New(u.Scheme, u.Host+u.Path, endpoint.KindConnect, s.opt, s.stats)
	s.trace.Printf("dial %s (instance %s)", addr, s.instanceID)

	switch u.Scheme {
	case "tcp":
		var c = tcp.NewConnecting(worker, rootOwner{}, s.rootSrc, u.Host, s.ourProtocol, s.isPeer,
			ep, s.overlay.Set(), s.overlay.Deliver)
		c.Start()
		s.addConnecting(c)
	case "ipc":
		var c = ipc.NewConnecting(worker, rootOwner{}, s.rootSrc, u.Path, s.ourProtocol, s.isPeer,
			ep, s.overlay.Set(), s.overlay.Deliver)
		c.Start()
		s.addConnecting(c)
	case "ws":
		var resource, host = wsTarget(u)
		var c = ws.NewConnecting(worker, rootOwner{}, s.rootSrc, u.Host, resource, host,
			s.ourProtocol, s.isPeer, ep, s.overlay.Set(), s.overlay.Deliver)
		c.Start()
		s.addConnecting(c)
	default:
		return errors.Errorf("spsock: unsupported dial scheme %q", u.Scheme)
	}
	return nil
}

// Listen resolves addr the same way as Dial and starts a Binding
// listening on it, feeding every accepted pipe into this socket's
// overlay. It returns the bound address (useful for ":0"-style
// ephemeral ports) once the listener is live.
func (s *Socket) Listen(addr string) (string, error) {
	var u, err = url.Parse(addr)
	if err != nil {
		return "", errors.Wrapf(err, "spsock: parsing listen address %q", addr)
	}

	var worker = s.pool.Choose()
	var ep = endpoint.New(u.Scheme, u.Host+u.Path, endpoint.KindBind, s.opt, s.stats)
	s.trace.Printf("listen %s (instance %s)", addr, s.instanceID)

	switch u.Scheme {
	case "tcp":
		var b, err = tcp.NewBinding(worker, rootOwner{}, s.rootSrc, u.Host, s.ourProtocol, s.isPeer,
			ep, s.overlay.Set(), s.overlay.Deliver)
		if err != nil {
			return "", errors.Wrapf(err, "spsock: binding tcp %q", u.Host)
		}
		b.Start()
		s.addBinding(b)
		return b.Addr().String(), nil
	case "ipc":
		var b, err = ipc.NewBinding(worker, rootOwner{}, s.rootSrc, u.Path, s.ourProtocol, s.isPeer,
			ep, s.overlay.Set(), s.overlay.Deliver)
		if err != nil {
			return "", errors.Wrapf(err, "spsock: binding ipc %q", u.Path)
		}
		b.Start()
		s.addBinding(b)
		return b.Addr().String(), nil
	case "ws":
		var b, err = ws.NewBinding(worker, rootOwner{}, s.rootSrc, u.Host, s.ourProtocol, s.isPeer,
			ep, s.overlay.Set(), s.overlay.Deliver)
		if err != nil {
			return "", errors.Wrapf(err, "spsock: binding ws %q", u.Host)
		}
		b.Start()
		s.addBinding(b)
		return b.Addr().String(), nil
	default:
		return "", errors.Errorf("spsock: unsupported listen scheme %q", u.Scheme)
	}
}

func (s *Socket) addBinding(b binding) {
	s.mu.Lock()
	s.bindings = append(s.bindings, b)
	s.mu.Unlock()
}

func (s *Socket) addConnecting(c connecting) {
	s.mu.Lock()
	s.connectings = append(s.connectings, c)
	s.mu.Unlock()
}

// Close tears down every endpoint this socket dialed or bound, in no
// particular order, then releases its trace. It does not stop the
// overlay or the aio.Pool, both of which may be shared with other
// sockets; callers own those lifetimes.
func (s *Socket) Close() {
	s.mu.Lock()
	var bindings = s.bindings
	var connectings = s.connectings
	s.bindings, s.connectings = nil, nil
	s.mu.Unlock()

	for _, b := range bindings {
		b.Stop()
	}
	for _, c := range connectings {
		c.Stop()
	}
	s.trace.Finish()
}

// wsTarget derives the WebSocket handshake's request-target and Host
// header from a parsed ws:// URL, defaulting the path to "/".
func wsTarget(u *url.URL) (resource, host string) {
	resource = u.Path
	if resource == "" {
		resource = "/"
	}
	host = u.Host
	return resource, host
}
