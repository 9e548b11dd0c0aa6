package pipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
)

type fakePipe struct {
	protocol uint16
	sent     []message.Message
}

func (f *fakePipe) Send(msg message.Message) { f.sent = append(f.sent, msg) }
func (f *fakePipe) IsPeer(want uint16) bool  { return want == f.protocol }
func (f *fakePipe) PeerProtocol() uint16     { return f.protocol }
func (f *fakePipe) Stop()                    {}

func TestSetAddInvokesOnAdd(t *testing.T) {
	var added []pipe.ID
	var set = pipe.NewSet(func(id pipe.ID, p pipe.Pipe) { added = append(added, id) }, nil)

	var id = set.Add(&fakePipe{})
	require.Len(t, added, 1)
	assert.Equal(t, id, added[0])
	assert.Equal(t, 1, set.Len())
}

func TestSetRemoveInvokesOnRemoveOnlyIfPresent(t *testing.T) {
	var removed []pipe.ID
	var set = pipe.NewSet(nil, func(id pipe.ID) { removed = append(removed, id) })

	var id = set.Add(&fakePipe{})
	set.Remove(id)
	assert.Equal(t, []pipe.ID{id}, removed)

	set.Remove(id) // already gone: must not call onRemove again
	assert.Len(t, removed, 1)
}

func TestSetGet(t *testing.T) {
	var set = pipe.NewSet(nil, nil)
	var p = &fakePipe{protocol: 48}
	var id = set.Add(p)

	var got, ok = set.Get(id)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = set.Get(id + 1)
	assert.False(t, ok)
}

func TestSetAnyEmpty(t *testing.T) {
	var set = pipe.NewSet(nil, nil)
	var _, _, ok = set.Any()
	assert.False(t, ok)
}

func TestSetEachVisitsAllSnapshot(t *testing.T) {
	var set = pipe.NewSet(nil, nil)
	var p1, p2 = &fakePipe{}, &fakePipe{}
	set.Add(p1)
	set.Add(p2)

	var seen int
	set.Each(func(id pipe.ID, p pipe.Pipe) { seen++ })
	assert.Equal(t, 2, seen)
	assert.Equal(t, 2, set.Len())
}
