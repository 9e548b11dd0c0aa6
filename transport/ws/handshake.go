package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/usock"
)

// wsGUID is RFC-6455's fixed magic GUID, concatenated onto a client's
// Sec-WebSocket-Key before SHA-1 hashing to produce Sec-WebSocket-Accept.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// handshakeTimeout bounds the opening handshake, mirroring
// NN_WS_HANDSHAKE_TIMEOUT (5s) — longer than the plain-stream header
// exchange's 1s since an HTTP round trip has more to parse.
const handshakeTimeout = 5 * time.Second

// Mode selects which side of the opening handshake a Handshake plays.
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
)

// Events Handshake raises to its owner (a Framer).
var (
	EvOK  = fsm.NewType() // Data: peer's negotiated SP protocol ID (uint16)
	EvErr = fsm.NewType() // Data: error
)

const (
	hsIdle = iota
	hsClientSending
	hsClientReceiving
	hsServerReceiving
	hsServerSending
	hsServerSendingError
	hsStoppingTimerError
	hsStoppingTimerDone
	hsDone
	hsStopping
)

const (
	srcSock fsm.Src = iota
	srcTimer
)

// Handshake performs the RFC-6455 opening handshake over sock, reading
// the request/response headers one byte at a time until the terminal
// CRLF CRLF is seen — the original nanomsg implementation does the same
// "poll for the remainder in small byte chunks" since the header length
// isn't known up front — then negotiates the SP protocol token per
// spec.md §4.G's WS variant.
type Handshake struct {
	fsm.FSM

	sock        *usock.Socket
	timer       *aio.Timer
	mode        Mode
	resource    string
	host        string
	ourProtocol uint16
	isPeer      func(uint16) bool
	ownerReturn func(*usock.Socket)

	recvBuf  []byte
	key      string // client: our generated key. server: peer's received key.
	peerProt uint16
	recvErr  error
}

// NewHandshake constructs a Handshake bound to worker, borrowing sock
// from owner for the opening exchange. For ModeClient, resource/host
// name the request target; for ModeServer both are ignored.
// ownerReturn is invoked exactly once, with sock, when the handshake's
// usock borrow ends.
func NewHandshake(worker aio.Worker, owner fsm.Owner, src fsm.Src, sock *usock.Socket,
	mode Mode, resource, host string, ourProtocol uint16, isPeer func(uint16) bool,
	ownerReturn func(*usock.Socket)) *Handshake {

	var h = &Handshake{sock: sock, mode: mode, resource: resource, host: host,
		ourProtocol: ourProtocol, isPeer: isPeer, ownerReturn: ownerReturn}
	h.Init("ws.handshake", h.handle, h.handleShutdown, src, owner)
	h.timer = aio.NewTimer(worker, h, srcTimer)
	return h
}

// Raise implements fsm.Owner for the Socket and Timer children.
func (h *Handshake) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	h.Route(src, typ, data)
}

func (h *Handshake) handle(state int, ev fsm.Event) int {
	switch state {
	case hsIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			h.sock.Transfer(h, srcSock)
			h.timer.Start(handshakeTimeout)
			if h.mode == ModeClient {
				h.key = generateKey()
				var token, _ = tokenFor(h.ourProtocol)
				var req = fmt.Sprintf("GET %s HTTP/1.1\r\n"+
					"Host: %s\r\n"+
					"Upgrade: websocket\r\n"+
					"Connection: Upgrade\r\n"+
					"Sec-WebSocket-Key: %s\r\n"+
					"Sec-WebSocket-Version: 13\r\n"+
					"Sec-WebSocket-Protocol: %s\r\n\r\n",
					h.resource, h.host, h.key, token)
				h.sock.Send([][]byte{[]byte(req)})
				return hsClientSending
			}
			h.sock.Recv(1)
			return hsServerReceiving
		}

	case hsClientSending:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvSent:
			h.sock.Recv(1)
			return hsClientReceiving
		case ev.Src == srcSock && ev.Type == usock.EvErr:
			h.recvErr = ev.Data.(error)
			h.timer.Stop()
			return hsStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop()
			h.timer.Stop()
			return hsStoppingTimerError
		}

	case hsClientReceiving:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvReceived:
			h.recvBuf = append(h.recvBuf, ev.Data.([]byte)...)
			if !bytes.HasSuffix(h.recvBuf, []byte("\r\n\r\n")) {
				h.sock.Recv(1)
				return hsClientReceiving
			}
			var protocol, err = h.parseClientResponse()
			if err != nil {
				h.recvErr = err
				h.timer.Stop()
				return hsStoppingTimerError
			}
			h.peerProt = protocol
			h.timer.Stop()
			return hsStoppingTimerDone
		case ev.Src == srcSock && (ev.Type == usock.EvErr || ev.Type == usock.EvShutdown):
			if ev.Type == usock.EvErr {
				h.recvErr = ev.Data.(error)
			} else {
				h.recvErr = ErrPeerClosed
			}
			h.timer.Stop()
			return hsStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop()
			h.timer.Stop()
			return hsStoppingTimerError
		}

	case hsServerReceiving:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvReceived:
			h.recvBuf = append(h.recvBuf, ev.Data.([]byte)...)
			if !bytes.HasSuffix(h.recvBuf, []byte("\r\n\r\n")) {
				h.sock.Recv(1)
				return hsServerReceiving
			}
			var protocol, key, err = h.parseServerRequest()
			if err != nil {
				h.recvErr = err
				h.sock.Send([][]byte{[]byte(errorResponse(err))})
				return hsServerSendingError
			}
			h.peerProt = protocol
			var token, _ = tokenFor(h.ourProtocol)
			var resp = fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\n"+
				"Upgrade: websocket\r\n"+
				"Connection: Upgrade\r\n"+
				"Sec-WebSocket-Accept: %s\r\n"+
				"Sec-WebSocket-Protocol: %s\r\n\r\n",
				computeAccept(key), token)
			h.sock.Send([][]byte{[]byte(resp)})
			return hsServerSending
		case ev.Src == srcSock && (ev.Type == usock.EvErr || ev.Type == usock.EvShutdown):
			if ev.Type == usock.EvErr {
				h.recvErr = ev.Data.(error)
			} else {
				h.recvErr = ErrPeerClosed
			}
			h.timer.Stop()
			return hsStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop()
			h.timer.Stop()
			return hsStoppingTimerError
		}

	case hsServerSending:
		switch {
		case ev.Src == srcSock && ev.Type == usock.EvSent:
			h.timer.Stop()
			return hsStoppingTimerDone
		case ev.Src == srcSock && ev.Type == usock.EvErr:
			h.recvErr = ev.Data.(error)
			h.timer.Stop()
			return hsStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.recvErr = ErrTimeout
			h.sock.Stop()
			h.timer.Stop()
			return hsStoppingTimerError
		}

	case hsServerSendingError:
		// h.recvErr already names the rejection reason; the 4xx write
		// here is best-effort informational output for the peer, not
		// something the handshake's own outcome depends on.
		switch {
		case ev.Src == srcSock && (ev.Type == usock.EvSent || ev.Type == usock.EvErr):
			h.timer.Stop()
			return hsStoppingTimerError
		case ev.Src == srcTimer && ev.Type == aio.EvTimeout:
			h.sock.Stop()
			h.timer.Stop()
			return hsStoppingTimerError
		}

	case hsStoppingTimerError:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			h.ownerReturn(h.sock)
			h.Done()
			h.Raise(EvErr, h.recvErr)
			return hsDone
		}
		return state

	case hsStoppingTimerDone:
		if ev.Src == srcTimer && ev.Type == aio.EvStopped {
			h.ownerReturn(h.sock)
			h.Done()
			h.Raise(EvOK, h.peerProt)
			return hsDone
		}
		return state
	}

	fsm.Violation(h.Name, state, ev.Src, ev.Type)
	return state
}

func (h *Handshake) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case hsIdle, hsClientSending, hsClientReceiving, hsServerReceiving, hsServerSending, hsServerSendingError:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			h.recvErr = ErrStopped
			h.timer.Stop()
			return hsStoppingTimerError
		}
	case hsStoppingTimerError, hsStoppingTimerDone, hsDone:
		return h.handle(state, ev)
	}
	fsm.Violation(h.Name, state, ev.Src, ev.Type)
	return state
}

// Start begins the opening handshake.
func (h *Handshake) Start() { h.FSM.Start() }

func (h *Handshake) parseClientResponse() (uint16, error) {
	var r = textproto.NewReader(bufio.NewReader(bytes.NewReader(h.recvBuf)))
	var statusLine, err = r.ReadLine()
	if err != nil {
		return 0, ErrMalformed
	}
	if !strings.HasPrefix(statusLine, "HTTP/1.1 101") {
		return 0, ErrMalformed
	}
	var header textproto.MIMEHeader
	header, err = r.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return 0, ErrMalformed
	}
	if !strings.EqualFold(header.Get("Upgrade"), "websocket") {
		return 0, ErrMalformed
	}
	if !strings.Contains(strings.ToLower(header.Get("Connection")), "upgrade") {
		return 0, ErrMalformed
	}
	if header.Get("Sec-WebSocket-Accept") != computeAccept(h.key) {
		return 0, ErrMalformed
	}
	var token = header.Get("Sec-WebSocket-Protocol")
	var protocol, ok = protocolForToken(token)
	if !ok || !h.isPeer(protocol) {
		return 0, ErrProtocolMismatch
	}
	return protocol, nil
}

func (h *Handshake) parseServerRequest() (protocol uint16, key string, err error) {
	var r = textproto.NewReader(bufio.NewReader(bytes.NewReader(h.recvBuf)))
	var requestLine string
	requestLine, err = r.ReadLine()
	if err != nil {
		return 0, "", ErrMalformed
	}
	if !strings.HasPrefix(requestLine, "GET ") || !strings.HasSuffix(requestLine, "HTTP/1.1") {
		return 0, "", ErrMalformed
	}
	var header textproto.MIMEHeader
	header, err = r.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return 0, "", ErrMalformed
	}
	key = header.Get("Sec-WebSocket-Key")
	if key == "" || !strings.EqualFold(header.Get("Upgrade"), "websocket") ||
		!strings.Contains(strings.ToLower(header.Get("Connection")), "upgrade") {
		return 0, "", ErrMalformed
	}
	var token = header.Get("Sec-WebSocket-Protocol")
	var ok bool
	protocol, ok = protocolForToken(token)
	if !ok || !h.isPeer(protocol) {
		return 0, "", ErrProtocolMismatch
	}
	return protocol, key, nil
}

// errorResponse renders the informative 4xx status line spec.md §4.G
// calls for when a server-side handshake is rejected, so the peer sees
// why the connection was refused instead of a bare close.
func errorResponse(err error) string {
	var reason = "400 Bad Request"
	if err == ErrProtocolMismatch {
		reason = "400 Incompatible Socket Type"
	}
	return fmt.Sprintf("HTTP/1.1 %s\r\nConnection: close\r\n\r\n", reason)
}

// generateKey returns a random base64-encoded 16-byte Sec-WebSocket-Key.
func generateKey() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	return base64.StdEncoding.EncodeToString(raw[:])
}

// computeAccept implements RFC 6455 4.2.2.5.4: base64(sha1(key + GUID)).
func computeAccept(key string) string {
	var sum = sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Handshake-specific errors.
var (
	ErrTimeout          = wsErr("ws: opening handshake timed out")
	ErrPeerClosed       = wsErr("ws: peer closed during opening handshake")
	ErrStopped          = wsErr("ws: opening handshake aborted by Stop")
	ErrMalformed        = wsErr("ws: malformed opening handshake")
	ErrProtocolMismatch = wsErr("ws: peer advertised an incompatible SP protocol")
)

type wsErr string

func (e wsErr) Error() string { return string(e) }
