// Package ipc implements the D/E/F transport state machines (aipc/cipc/
// bipc) over a Unix domain socket net.Conn, per spec.md §4.D/E/F.
// Windows named pipes are not implemented — Non-goal, platform-specific
// (see DESIGN.md).
package ipc

import "go.spmsg.dev/core/wire"

// Codec implements transport/stream.Codec for IPC's message-type byte
// plus 8-byte big-endian length prefix (spec.md §6).
type Codec struct{}

func (Codec) HeaderLen() int { return wire.IPCHeaderLen }

func (Codec) EncodeLen(n uint64) []byte {
	var buf = wire.EncodeIPCHeader(n)
	return buf[:]
}

func (Codec) DecodeLen(buf []byte) (uint64, error) {
	var _, length, err = wire.DecodeIPCHeader(buf)
	return length, err
}
