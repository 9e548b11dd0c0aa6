// Package chunk implements the reference-counted immutable byte buffer
// backing message headers and bodies, per spec.md §9's redesign
// guidance: "an immutable Chunk wrapped in a reference-counted handle;
// zero-copy fan-out is just clone." sync/atomic is the idiomatic
// minimum for this — no pack repo reaches for a refcounting library for
// anything this small (see DESIGN.md).
package chunk

import "sync/atomic"

// Ref is a reference-counted handle to an immutable byte buffer. The
// zero Ref is not valid; use New. A Ref must not be read after its
// count reaches zero via Release.
type Ref struct {
	data  []byte
	count *int32
}

// New wraps data (taken by reference, not copied — callers must not
// mutate it afterward) in a Ref with an initial count of 1.
func New(data []byte) Ref {
	var c = int32(1)
	return Ref{data: data, count: &c}
}

// Bytes returns the underlying immutable buffer.
func (r Ref) Bytes() []byte { return r.data }

// Len returns len(r.Bytes()).
func (r Ref) Len() int { return len(r.data) }

// Clone increments the refcount and returns a handle sharing the same
// underlying buffer — the zero-copy fan-out operation used when a
// SURVEYOR scatters one message to every connected peer.
func (r Ref) Clone() Ref {
	atomic.AddInt32(r.count, 1)
	return r
}

// Release decrements the refcount and reports whether this call dropped
// the last reference. The buffer is not explicitly freed (Go is garbage
// collected); a Ref must not be used after Release. A double Release is
// not detected: it decrements the count again.
func (r Ref) Release() (last bool) {
	return atomic.AddInt32(r.count, -1) == 0
}

// RefCount reports the current reference count, for tests and
// diagnostics only.
func (r Ref) RefCount() int32 { return atomic.LoadInt32(r.count) }
