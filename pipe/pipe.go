// Package pipe defines the Pipebase abstraction (spec.md §3): the
// per-connection interface a framer (transport/stream.Framer) exposes
// upward to a protocol overlay (protocol/req, protocol/surveyor). At
// most one Send may be outstanding at a time. Completion is reported as
// fsm events to the framer's fsm.Owner (the transport endpoint running
// it), exactly like every other child in this module; inbound messages
// reach the overlay through that endpoint's deliver callback.
package pipe

import (
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
)

// Events a Pipe raises to its owner.
var (
	// EvStarted fires exactly once, after the header handshake
	// succeeds and PeerProtocol is known — spec.md §3's pipebase
	// start() up-call. The owner (a protocol overlay's pipe.Set, or a
	// transport endpoint relaying into one) should register the pipe
	// as usable only upon observing this event, not merely upon
	// construction.
	EvStarted = fsm.NewType()
	// EvSent confirms a Send completed and the pipe is ready for
	// another.
	EvSent = fsm.NewType()
	// EvReceived carries the next inbound message.Message as Data.
	EvReceived = fsm.NewType()
	// EvErr carries the error (Data) that broke the underlying
	// connection.
	EvErr = fsm.NewType()
	// EvStopped confirms the pipe (and its underlying connection) has
	// fully torn down.
	EvStopped = fsm.NewType()
)

// Pipe is the interface a connection framer exposes to a protocol
// overlay. Implementations: transport/stream.Framer.
type Pipe interface {
	// Send enqueues msg for transmission. Send must not be called again
	// until the pipe raises EvSent (or EvErr) for the previous call.
	Send(msg message.Message)
	// IsPeer reports whether the peer's negotiated SP protocol ID is
	// compatible with want, per spec.md §4.G's pipebase_ispeer.
	IsPeer(want uint16) bool
	// PeerProtocol returns the peer's negotiated SP protocol ID. Valid
	// only after the pipe has started (handshake complete).
	PeerProtocol() uint16
	// Stop begins asynchronous teardown; EvStopped follows.
	Stop()
}
