package tcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	var c = Codec{}
	assert.Equal(t, 8, c.HeaderLen())

	var prefix = c.EncodeLen(1234)
	require.Len(t, prefix, c.HeaderLen())

	var n, err = c.DecodeLen(prefix)
	require.NoError(t, err)
	assert.EqualValues(t, 1234, n)
}

func TestCodecDecodeRejectsWrongLength(t *testing.T) {
	var c = Codec{}
	var _, err = c.DecodeLen([]byte{1, 2, 3})
	assert.Error(t, err)
}
