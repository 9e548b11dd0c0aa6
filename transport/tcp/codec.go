// Package tcp implements the D/E/F transport state machines (atcp/ctcp/
// btcp) over a TCP net.Conn, per spec.md §4.D/E/F.
package tcp

import (
	"go.spmsg.dev/core/wire"
)

// Codec implements transport/stream.Codec for TCP's 8-byte big-endian
// length prefix (spec.md §6).
type Codec struct{}

func (Codec) HeaderLen() int { return wire.TCPLenHeaderLen }

func (Codec) EncodeLen(n uint64) []byte {
	var buf = wire.EncodeTCPLen(n)
	return buf[:]
}

func (Codec) DecodeLen(buf []byte) (uint64, error) {
	return wire.DecodeTCPLen(buf)
}
