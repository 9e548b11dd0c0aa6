package usock

import (
	"net"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/sockopt"
)

// Dial asynchronously dials network/address on worker, raising
// EvConnected with the resulting *Socket (unowned — callers Transfer it
// to whichever FSM should own it next) on success, or EvErr on failure.
// opt's TCP_NODELAY/SNDBUF/RCVBUF/IPV4ONLY knobs (spec.md §6) are applied
// to the resulting connection before EvConnected is raised; they are
// no-ops on a non-TCP network such as "unix".
func Dial(worker aio.Worker, owner fsm.Owner, src fsm.Src, network, address string, opt sockopt.Options) {
	worker.Execute(func() {
		var conn, err = net.Dial(ipFamilyNetwork(network, opt), address)
		if err != nil {
			owner.Raise(src, EvErr, err)
			return
		}
		applySocketOpts(conn, opt)
		owner.Raise(src, EvConnected, NewConnected(worker, conn, nil, -1))
	})
}

// Listen binds and listens on network/address synchronously (binding is
// cheap and the spec treats listen/bind as not requiring an async
// completion event of their own — only Accept is asynchronous), and
// returns a *Listener over the resulting net.Listener. opt is applied to
// every connection AcceptLoop hands back.
func Listen(worker aio.Worker, owner fsm.Owner, src fsm.Src, network, address string, opt sockopt.Options) (*Listener, error) {
	var ln, err = net.Listen(ipFamilyNetwork(network, opt), address)
	if err != nil {
		return nil, err
	}
	return NewListener(worker, ln, owner, src, opt), nil
}

// ipFamilyNetwork narrows network to its IPv4-only variant ("tcp" ->
// "tcp4") when opt.IPv4Only is set, per spec.md §6's IPV4ONLY. Non-IP
// networks (e.g. "unix") are returned unchanged.
func ipFamilyNetwork(network string, opt sockopt.Options) string {
	if opt.IPv4Only && network == "tcp" {
		return "tcp4"
	}
	return network
}

// applySocketOpts applies opt's TCP-level knobs to conn where
// applicable; conn that isn't a *net.TCPConn (e.g. a Unix domain
// socket) is left untouched.
func applySocketOpts(conn net.Conn, opt sockopt.Options) {
	var tcpConn, ok = conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetNoDelay(opt.TCPNoDelay)
	if opt.SndBuf > 0 {
		_ = tcpConn.SetWriteBuffer(opt.SndBuf)
	}
	if opt.RcvBuf > 0 {
		_ = tcpConn.SetReadBuffer(opt.RcvBuf)
	}
}
