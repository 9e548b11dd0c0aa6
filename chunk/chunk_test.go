package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.spmsg.dev/core/chunk"
)

func TestCloneSharesAndCounts(t *testing.T) {
	var r = chunk.New([]byte("hello"))
	assert.EqualValues(t, 1, r.RefCount())

	var c = r.Clone()
	assert.EqualValues(t, 2, r.RefCount())
	assert.Equal(t, r.Bytes(), c.Bytes())

	assert.False(t, r.Release())
	assert.True(t, c.Release())
}

func TestFanOutClones(t *testing.T) {
	var r = chunk.New([]byte("survey"))
	var clones = make([]chunk.Ref, 4)
	for i := range clones {
		clones[i] = r.Clone()
	}
	assert.EqualValues(t, 5, r.RefCount())

	for _, c := range clones {
		c.Release()
	}
	assert.True(t, r.Release())
}
