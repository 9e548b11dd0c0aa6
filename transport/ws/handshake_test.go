package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/wire"
)

func TestComputeAcceptKnownVector(t *testing.T) {
	// RFC 6455 §1.3's worked example.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", computeAccept("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestTokenForAndProtocolForTokenRoundTrip(t *testing.T) {
	var token, ok = tokenFor(wire.ProtoReq)
	require.True(t, ok)
	assert.Equal(t, "req.sp.nanomsg.org", token)

	var protocol, ok2 = protocolForToken(token)
	require.True(t, ok2)
	assert.Equal(t, wire.ProtoReq, protocol)
}

func TestProtocolForTokenUnknown(t *testing.T) {
	var _, ok = protocolForToken("bogus.sp.nanomsg.org")
	assert.False(t, ok)
}

func TestParseServerRequestAcceptsValidGET(t *testing.T) {
	var h = &Handshake{
		ourProtocol: wire.ProtoRep,
		isPeer:      func(p uint16) bool { return p == wire.ProtoReq },
		recvBuf: []byte("GET /x HTTP/1.1\r\n" +
			"Host: example.org\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Protocol: req.sp.nanomsg.org\r\n\r\n"),
	}

	var protocol, key, err = h.parseServerRequest()
	require.NoError(t, err)
	assert.Equal(t, wire.ProtoReq, protocol)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)
}

func TestParseServerRequestRejectsMismatchedProtocol(t *testing.T) {
	var h = &Handshake{
		ourProtocol: wire.ProtoRep,
		isPeer:      func(p uint16) bool { return p == wire.ProtoReq },
		recvBuf: []byte("GET /x HTTP/1.1\r\n" +
			"Host: example.org\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Protocol: pair.sp.nanomsg.org\r\n\r\n"),
	}

	var _, _, err = h.parseServerRequest()
	assert.Equal(t, ErrProtocolMismatch, err)
}

func TestParseClientResponseValidatesAcceptKey(t *testing.T) {
	var h = &Handshake{
		ourProtocol: wire.ProtoReq,
		isPeer:      func(p uint16) bool { return p == wire.ProtoRep },
		key:         "dGhlIHNhbXBsZSBub25jZQ==",
		recvBuf: []byte("HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + computeAccept("dGhlIHNhbXBsZSBub25jZQ==") + "\r\n" +
			"Sec-WebSocket-Protocol: rep.sp.nanomsg.org\r\n\r\n"),
	}

	var protocol, err = h.parseClientResponse()
	require.NoError(t, err)
	assert.Equal(t, wire.ProtoRep, protocol)
}

func TestParseClientResponseRejectsBadAccept(t *testing.T) {
	var h = &Handshake{
		ourProtocol: wire.ProtoReq,
		isPeer:      func(p uint16) bool { return p == wire.ProtoRep },
		key:         "dGhlIHNhbXBsZSBub25jZQ==",
		recvBuf: []byte("HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: bogus\r\n" +
			"Sec-WebSocket-Protocol: rep.sp.nanomsg.org\r\n\r\n"),
	}

	var _, err = h.parseClientResponse()
	assert.Equal(t, ErrMalformed, err)
}
