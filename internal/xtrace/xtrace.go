// Package xtrace wraps golang.org/x/net/trace for the FSM components of
// go.spmsg.dev/core. It is grounded verbatim on
// go.gazette.dev/core/consumer/service.go's addTrace helper, generalized
// so a long-lived trace can be threaded into a component at construction
// time rather than pulled from a context.Context on every call — FSM
// handlers dispatch events synchronously from worker goroutines and
// carry no per-event context.
package xtrace

import "golang.org/x/net/trace"

// Trace is a lazily-written event log for one top-level socket or
// endpoint. The zero Trace is valid and silently drops every Printf,
// matching addTrace's "only log if a trace exists" behavior.
type Trace struct {
	ev trace.EventLog
}

// New starts a trace.EventLog of family/title, as
// trace.NewEventLog would be called by a server wiring up /debug/events.
func New(family, title string) Trace {
	return Trace{ev: trace.NewEventLog(family, title)}
}

// Printf lazily records a formatted trace line, mirroring
// consumer/service.go's addTrace (tr.LazyPrintf guarded by a
// trace.FromContext check there; here the guard is a nil receiver).
func (t Trace) Printf(format string, args ...interface{}) {
	if t.ev != nil {
		t.ev.Printf(format, args...)
	}
}

// Errorf records a formatted trace line flagged as an error.
func (t Trace) Errorf(format string, args ...interface{}) {
	if t.ev != nil {
		t.ev.Errorf(format, args...)
	}
}

// Finish releases the underlying event log. Safe to call on a zero Trace.
func (t Trace) Finish() {
	if t.ev != nil {
		t.ev.Finish()
	}
}
