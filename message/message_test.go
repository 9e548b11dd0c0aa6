package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.spmsg.dev/core/message"
)

func TestNewBodyOnlyHasEmptyHeader(t *testing.T) {
	var m = message.NewBodyOnly([]byte("ping"))
	assert.Equal(t, 0, m.Header.Len())
	assert.Equal(t, "ping", string(m.Body.Bytes()))
	assert.Equal(t, 4, m.Len())
}

func TestCloneSharesChunks(t *testing.T) {
	var m = message.New([]byte{1, 2, 3, 4}, []byte("body"))
	var c = m.Clone()

	assert.EqualValues(t, 2, m.Header.RefCount())
	assert.EqualValues(t, 2, m.Body.RefCount())

	c.Release()
	assert.EqualValues(t, 1, m.Header.RefCount())
	m.Release()
}
