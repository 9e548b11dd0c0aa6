package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/wire"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf = wire.EncodeHeader(7)
	assert.Equal(t, wire.HeaderLen, len(buf))

	var protocol, err = wire.DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.EqualValues(t, 7, protocol)
}

func TestHeaderBadMagic(t *testing.T) {
	var buf = wire.EncodeHeader(7)
	buf[0] = 0x01
	var _, err = wire.DecodeHeader(buf[:])
	assert.ErrorIs(t, err, wire.ErrBadMagic)
}

func TestHeaderWrongLength(t *testing.T) {
	var _, err = wire.DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTCPLenRoundTrip(t *testing.T) {
	var buf = wire.EncodeTCPLen(1234)
	var n, err = wire.DecodeTCPLen(buf[:])
	require.NoError(t, err)
	assert.EqualValues(t, 1234, n)
}

func TestIPCHeaderRoundTrip(t *testing.T) {
	var buf = wire.EncodeIPCHeader(99)
	var msgType, n, err = wire.DecodeIPCHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, wire.IPCMsgTypeNormal, msgType)
	assert.EqualValues(t, 99, n)
}
