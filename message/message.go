// Package message implements the Message type of spec.md §3: two
// chunk-references (header and body), with move semantics that
// transfer both refs and copy semantics that share them (refcounted).
package message

import "go.spmsg.dev/core/chunk"

// Message is the unit of framing: a protocol-overlay header (the
// "sphdr" of spec.md, e.g. a REQ request ID or SURVEYOR survey ID) plus
// a body. Both are independently refcounted chunks so protocol overlays
// can prepend/strip headers without copying the body.
type Message struct {
	Header chunk.Ref
	Body   chunk.Ref
}

// New wraps header and body bytes into a Message with fresh refs.
func New(header, body []byte) Message {
	return Message{Header: chunk.New(header), Body: chunk.New(body)}
}

// NewBodyOnly wraps body bytes with an empty header — the common case
// for a raw stream-framed message before any protocol overlay header
// has been attached.
func NewBodyOnly(body []byte) Message {
	return Message{Header: chunk.New(nil), Body: chunk.New(body)}
}

// Clone shares both chunks with a new Message handle (refcount++ on
// each), for zero-copy fan-out.
func (m Message) Clone() Message {
	return Message{Header: m.Header.Clone(), Body: m.Body.Clone()}
}

// Release drops this Message's reference to both chunks. Move
// semantics are simply "don't call Release on the source after handing
// the Message off" — Go's value semantics already prevent the source
// from being used unless the caller explicitly keeps a Clone.
func (m Message) Release() {
	m.Header.Release()
	m.Body.Release()
}

// Len returns the total wire length of header+body, the value encoded
// into the frame length prefix.
func (m Message) Len() int {
	return m.Header.Len() + m.Body.Len()
}
