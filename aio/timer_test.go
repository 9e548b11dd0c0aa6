package aio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
)

type recorder struct {
	ch chan fsm.Type
}

func newRecorder() *recorder { return &recorder{ch: make(chan fsm.Type, 16)} }

func (r *recorder) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	r.ch <- typ
}

func TestTimerFires(t *testing.T) {
	var pool = aio.NewPool(2)
	defer pool.Stop()

	var owner = newRecorder()
	var timer = aio.NewTimer(pool.Choose(), owner, 1)

	timer.Start(10 * time.Millisecond)

	select {
	case typ := <-owner.ch:
		assert.Equal(t, aio.EvTimeout, typ)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for EvTimeout")
	}
}

func TestTimerStopSuppressesRace(t *testing.T) {
	var pool = aio.NewPool(2)
	defer pool.Stop()

	var owner = newRecorder()
	var timer = aio.NewTimer(pool.Choose(), owner, 1)

	timer.Start(5 * time.Millisecond)
	time.Sleep(10 * time.Millisecond) // let the fire race with Stop
	timer.Stop()

	var stopped int
	for i := 0; i < 2; i++ {
		select {
		case typ := <-owner.ch:
			if typ == aio.EvStopped {
				stopped++
			}
		case <-time.After(time.Second):
		}
	}
	require.Equal(t, 1, stopped, "expected exactly one EvStopped")
}

func TestBackoffInterval(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var owner = newRecorder()
	var timer = aio.NewTimer(pool.Choose(), owner, 1)
	var b = aio.NewBackoff(timer, 50*time.Millisecond, 200*time.Millisecond)

	var start = time.Now()
	b.Start() // n=0 -> interval (2^0-1)*50ms = 0
	<-owner.ch
	assert.Less(t, time.Since(start), 30*time.Millisecond)

	start = time.Now()
	b.Start() // n=1 -> (2^1-1)*50ms = 50ms
	<-owner.ch
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)

	b.Reset()
	start = time.Now()
	b.Start() // n reset -> 0ms again
	<-owner.ch
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}
