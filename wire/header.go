// Package wire implements the fixed binary codecs the core needs:
// the 8-byte SP protocol header and the TCP/IPC length-prefix frame
// formats from spec.md §6. These are small, fixed-layout encodings;
// encoding/binary is the right tool, not a general-purpose codec
// library (see DESIGN.md's stdlib justifications).
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the length in bytes of the SP protocol header.
const HeaderLen = 8

// SP protocol IDs, carried in the header's protocol field and in the
// WebSocket transport's Sec-WebSocket-Protocol token (spec.md §6, §4.G).
// These match the public numbering every SP implementation (nanomsg,
// mangos, nng) assigns, since interoperating over the wire means
// agreeing on the number, not just the local name.
const (
	ProtoPair       uint16 = 16
	ProtoPub        uint16 = 32
	ProtoSub        uint16 = 33
	ProtoReq        uint16 = 48
	ProtoRep        uint16 = 49
	ProtoPush       uint16 = 80
	ProtoPull       uint16 = 81
	ProtoSurveyor   uint16 = 98
	ProtoRespondent uint16 = 99
	ProtoBus        uint16 = 112
)

// magic is the fixed 4-byte prefix of every SP protocol header:
// \0 S P \0.
var magic = [4]byte{0x00, 0x53, 0x50, 0x00}

// EncodeHeader renders the 8-byte SP header
// [0x00 0x53 0x50 0x00][u16be protocol][0x00 0x00] for protocol.
func EncodeHeader(protocol uint16) [HeaderLen]byte {
	var buf [HeaderLen]byte
	copy(buf[0:4], magic[:])
	binary.BigEndian.PutUint16(buf[4:6], protocol)
	buf[6], buf[7] = 0x00, 0x00
	return buf
}

// DecodeHeader parses an 8-byte SP header, returning the peer's
// protocol ID. It requires len(buf) == HeaderLen and returns an error
// if the magic prefix does not match \0SP\0 — this is the
// ProtocolMismatch condition of spec.md §7 for a malformed header (a
// magic mismatch, as distinct from an incompatible-but-valid protocol
// ID, which callers detect by comparing the returned protocol against
// their own ispeer check).
func DecodeHeader(buf []byte) (protocol uint16, err error) {
	if len(buf) != HeaderLen {
		return 0, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderLen, len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return 0, ErrBadMagic
	}
	return binary.BigEndian.Uint16(buf[4:6]), nil
}

// ErrBadMagic is returned by DecodeHeader when the first four bytes are
// not \0SP\0.
var ErrBadMagic = fmt.Errorf("wire: bad SP header magic")
