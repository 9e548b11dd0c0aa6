package fsm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/fsm"
)

// toy is a minimal two-state FSM (idle <-> running) used to exercise the
// substrate's Start/Action/Stop/Raise plumbing without pulling in any
// transport machinery.
type toy struct {
	fsm.FSM
	raised []fsm.Type
}

const (
	toyIdle = iota
	toyRunning
)

var (
	evPing    = fsm.NewType()
	evStopped = fsm.NewType()
)

func newToy() *toy {
	var t = new(toy)
	t.Init("toy", t.handle, t.handleShutdown, fsm.ActionSrc, nil)
	return t
}

func (t *toy) handle(state int, ev fsm.Event) int {
	switch state {
	case toyIdle:
		switch ev.Type {
		case fsm.Start:
			return toyRunning
		}
	case toyRunning:
		switch ev.Type {
		case evPing:
			t.raised = append(t.raised, evPing)
			return toyRunning
		}
	}
	fsm.Violation(t.Name, state, ev.Src, ev.Type)
	return state
}

func (t *toy) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case toyRunning:
		if ev.Type == fsm.Stop {
			t.Done()
			t.raised = append(t.raised, evStopped)
			return toyIdle
		}
	}
	fsm.Violation(t.Name, state, ev.Src, ev.Type)
	return state
}

func TestStartRunStop(t *testing.T) {
	var m = newToy()
	m.Start()
	assert.Equal(t, toyRunning, m.State())

	m.Action(evPing, nil)
	m.Action(evPing, nil)
	assert.Equal(t, []fsm.Type{evPing, evPing}, m.raised)

	m.Stop()
	assert.Equal(t, toyIdle, m.State())
	assert.Equal(t, []fsm.Type{evPing, evPing, evStopped}, m.raised)
}

func TestViolationOnDoubleStart(t *testing.T) {
	var m = newToy()
	m.Start()
	assert.Panics(t, func() { m.Start() })
}

func TestViolationOnUnhandledEvent(t *testing.T) {
	var m = newToy()
	m.Start()
	assert.Panics(t, func() { m.Action(fsm.Stop, nil) })
}

// parentChild exercises Raise: a child posts an event to its parent's
// Raise method, which the test observes directly (parentChild itself
// plays the Owner role rather than embedding a second FSM).
type parentChild struct {
	got []fsm.Type
}

func (p *parentChild) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	p.got = append(p.got, typ)
}

func TestRaiseToOwner(t *testing.T) {
	var parent = new(parentChild)
	var child = new(toy)
	child.Init("toy-child", child.handle, child.handleShutdown, 3, parent)

	child.Start()
	child.Action(evPing, nil)
	child.Raise(evPing, nil)

	require.Len(t, parent.got, 1)
	assert.Equal(t, evPing, parent.got[0])
}
