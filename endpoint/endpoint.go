// Package endpoint implements the Endpoint (ep) of spec.md §3: a
// user-visible connect/bind target with a resolved address and
// observable counters, consumed by the D/E/F transport state machines
// through ep_getopt/ep_getaddr/ep_stat_increment/ep_stopped.
package endpoint

import (
	"go.spmsg.dev/core/sockopt"
)

// Kind distinguishes a connecting-side endpoint from a binding-side one,
// solely for stats labeling.
type Kind string

const (
	KindConnect Kind = "connect"
	KindBind    Kind = "bind"
)

// Endpoint is one logical connect/bind target owned by a socket, per
// spec.md §3. The core interacts with it through Options/Address and
// the Stats counters; Endpoint itself carries no state machine — D/E/F
// own that.
type Endpoint struct {
	// Transport names the scheme this endpoint was constructed for
	// (tcp/ipc/ws), used only to label Stats.
	Transport string
	// Address is the resolved dial/listen address string; resolution
	// itself (DNS, interface lookup) is out of scope per spec.md §1.
	Address string
	Kind    Kind
	Options sockopt.Options

	stats *Stats
}

// New constructs an Endpoint. stats may be shared across many endpoints
// of the same socket (it is itself safe for concurrent use).
func New(transport, address string, kind Kind, opts sockopt.Options, stats *Stats) *Endpoint {
	return &Endpoint{Transport: transport, Address: address, Kind: kind, Options: opts, stats: stats}
}

// GetOpt returns this endpoint's configuration, matching spec.md §3's
// ep_getopt.
func (e *Endpoint) GetOpt() sockopt.Options { return e.Options }

// GetAddr returns this endpoint's resolved address, matching spec.md
// §3's ep_getaddr.
func (e *Endpoint) GetAddr() string { return e.Address }

// StatIncrement increments counter c for this endpoint, matching
// spec.md §3's ep_stat_increment and §6's "Observable counters".
func (e *Endpoint) StatIncrement(c Counter) {
	if e.stats != nil {
		e.stats.increment(c, e.Transport, e.Address)
	}
}
