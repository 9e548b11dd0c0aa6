// Package ws implements the WebSocket transport: RFC-6455 opening
// handshake with the SP-over-WS subprotocol token exchange, RFC-6455
// data framing in a self-contained Framer shaped like the
// transport/stream one the TCP and IPC transports use, and D/E/F state machines
// (aws/cws/bws) per spec.md §4.
package ws

import "go.spmsg.dev/core/wire"

// spTokens maps an SP protocol ID to the Sec-WebSocket-Protocol token its
// opening handshake advertises — grounded on ws_handshake.c's
// NN_WS_HANDSHAKE_SP_MAP, the "undesirable dependency" the original
// notes as belonging in a registry of its own; here it is simply a small
// table, not a protocol-agnostic abstraction, since spmsg's protocol set
// is fixed and small. Compatibility between the two peers' protocols is
// decided by isPeer, same as every other transport, not by this map.
var spTokens = map[uint16]string{
	wire.ProtoPair:       "pair.sp.nanomsg.org",
	wire.ProtoReq:        "req.sp.nanomsg.org",
	wire.ProtoRep:        "rep.sp.nanomsg.org",
	wire.ProtoPub:        "pub.sp.nanomsg.org",
	wire.ProtoSub:        "sub.sp.nanomsg.org",
	wire.ProtoSurveyor:   "surveyor.sp.nanomsg.org",
	wire.ProtoRespondent: "respondent.sp.nanomsg.org",
	wire.ProtoPush:       "push.sp.nanomsg.org",
	wire.ProtoPull:       "pull.sp.nanomsg.org",
	wire.ProtoBus:        "bus.sp.nanomsg.org",
}

// tokenFor returns the Sec-WebSocket-Protocol token this socket type
// advertises on the wire.
func tokenFor(protocol uint16) (string, bool) {
	var tok, ok = spTokens[protocol]
	return tok, ok
}

// protocolForToken reverses the map: given the token the peer
// advertised, returns the SP protocol ID it identifies.
func protocolForToken(tok string) (uint16, bool) {
	for p, t := range spTokens {
		if t == tok {
			return p, true
		}
	}
	return 0, false
}
