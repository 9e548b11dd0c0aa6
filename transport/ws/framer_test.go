package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFrameHeaderShortLength(t *testing.T) {
	var hdr = buildFrameHeader(opBinary, 10, false)
	assert.Len(t, hdr, 2)
	assert.Equal(t, byte(0x80|opBinary), hdr[0])
	assert.Equal(t, byte(10), hdr[1])
}

func TestBuildFrameHeaderSetsMaskBit(t *testing.T) {
	var hdr = buildFrameHeader(opText, 5, true)
	assert.NotZero(t, hdr[1]&0x80)
	assert.Equal(t, byte(5), hdr[1]&0x7F)
}

func TestBuildFrameHeaderExtended16(t *testing.T) {
	var hdr = buildFrameHeader(opBinary, 200, false)
	assert.Len(t, hdr, 4)
	assert.Equal(t, byte(126), hdr[1]&0x7F)
}

func TestBuildFrameHeaderExtended64(t *testing.T) {
	var hdr = buildFrameHeader(opBinary, 1<<20, false)
	assert.Len(t, hdr, 10)
	assert.Equal(t, byte(127), hdr[1]&0x7F)
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	var key = [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	var original = []byte("a round trip payload")

	var masked = maskCopy(original, key, 0)
	assert.NotEqual(t, original, masked)

	var buf = append([]byte(nil), masked...)
	unmask(buf, key)
	assert.Equal(t, original, buf)
}

func TestMaskCopyRollsKeyAcrossOffset(t *testing.T) {
	var key = [4]byte{1, 2, 3, 4}
	var whole = maskCopy([]byte("headerbody"), key, 0)
	var header = maskCopy([]byte("header"), key, 0)
	var body = maskCopy([]byte("body"), key, len("header"))

	assert.Equal(t, whole, append(append([]byte{}, header...), body...))
}
