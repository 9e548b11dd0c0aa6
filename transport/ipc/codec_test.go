package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/wire"
)

func TestCodecRoundTrip(t *testing.T) {
	var c = Codec{}
	assert.Equal(t, 9, c.HeaderLen())

	var prefix = c.EncodeLen(99)
	require.Len(t, prefix, c.HeaderLen())

	var n, err = c.DecodeLen(prefix)
	require.NoError(t, err)
	assert.EqualValues(t, 99, n)
}

func TestCodecDecodeRejectsWrongLength(t *testing.T) {
	var c = Codec{}
	var _, err = c.DecodeLen([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCodecEncodesWireMessageType(t *testing.T) {
	var c = Codec{}
	var prefix = c.EncodeLen(0)
	var msgType, _, err = wire.DecodeIPCHeader(prefix)
	require.NoError(t, err)
	assert.Equal(t, wire.IPCMsgTypeNormal, msgType)
}
