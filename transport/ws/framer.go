package ws

import (
	"crypto/rand"
	"encoding/binary"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/fsm"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/sockopt"
	"go.spmsg.dev/core/usock"
)

// RFC-6455 opcodes this Framer understands. Only single-frame binary/text
// messages and the close control frame are supported — fragmented
// messages and ping/pong keepalives are not implemented (no WS-level
// heartbeat; spmsg's own pipe-level liveness is out of scope per
// spec.md's Non-goals), and a peer that sends one fails the connection.
const (
	opContinuation byte = 0x0
	opText         byte = 0x1
	opBinary       byte = 0x2
	opClose        byte = 0x8
	opPing         byte = 0x9
	opPong         byte = 0xA
)

const (
	frIdle = iota
	frHandshake
	frActive
	frShuttingDown
	frDone
	frStopping
)

// Inbound sub-stage, valid only while state == frActive.
const (
	inBase = iota
	inExtLen
	inMaskKey
	inBody
)

const (
	outIdle = iota
	outSending
)

const (
	srcHandshake fsm.Src = iota
	srcUsock
)

// Framer performs the WebSocket opening handshake (component G's WS
// variant) and then RFC-6455 data framing, shaped like
// transport/stream.Framer's IDLE→...→ACTIVE→...→DONE pipeline per
// spec.md §4.G, but self-contained rather than built on
// transport/stream.Codec: WS framing has a variable-length header and a
// masking obligation that differ by which side of the connection we
// are, which the fixed HeaderLen/EncodeLen/DecodeLen shape cannot
// express.
type Framer struct {
	fsm.FSM

	worker      aio.Worker
	sock        *usock.Socket
	mode        Mode
	resource    string
	host        string
	ourProtocol uint16
	isPeer      func(uint16) bool
	rcvMaxSize  int64
	msgType     sockopt.WSMsgType

	hs        *Handshake
	peerProt  uint16
	lastErr   error
	peerClose bool

	inSub      int
	outSub     int
	opcode     byte
	extLenSize int
	payloadLen uint64
	maskKey    [4]byte
	hasMask    bool

	curMsg message.Message
}

// NewFramer constructs a Framer over an already-connected sock, bound to
// worker. mode selects which side of the opening handshake to play;
// resource/host are only meaningful for ModeClient.
func NewFramer(worker aio.Worker, owner fsm.Owner, src fsm.Src, sock *usock.Socket,
	mode Mode, resource, host string, ourProtocol uint16, isPeer func(uint16) bool,
	rcvMaxSize int64, msgType sockopt.WSMsgType) *Framer {

	var f = &Framer{worker: worker, sock: sock, mode: mode, resource: resource, host: host,
		ourProtocol: ourProtocol, isPeer: isPeer, rcvMaxSize: rcvMaxSize, msgType: msgType}
	f.Init("ws.framer", f.handle, f.handleShutdown, src, owner)
	return f
}

// Raise implements fsm.Owner for the Handshake and usock children.
func (f *Framer) Raise(src fsm.Src, typ fsm.Type, data interface{}) {
	f.Route(src, typ, data)
}

func (f *Framer) handle(state int, ev fsm.Event) int {
	switch state {
	case frIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Start {
			f.hs = NewHandshake(f.worker, f, srcHandshake, f.sock, f.mode, f.resource, f.host,
				f.ourProtocol, f.isPeer, func(s *usock.Socket) {
					s.Transfer(f, srcUsock)
					f.sock = s
				})
			f.hs.Start()
			return frHandshake
		}

	case frHandshake:
		switch {
		case ev.Src == srcHandshake && ev.Type == EvOK:
			f.peerProt = ev.Data.(uint16)
			f.startActive()
			return frActive
		case ev.Src == srcHandshake && ev.Type == EvErr:
			f.lastErr = ev.Data.(error)
			f.Done()
			f.Raise(pipe.EvErr, f.lastErr)
			return frDone
		}

	case frActive:
		return f.handleActive(ev)

	case frShuttingDown:
		if ev.Src == srcUsock && ev.Type == usock.EvErr {
			f.lastErr = ev.Data.(error)
			f.Done()
			f.Raise(pipe.EvErr, f.lastErr)
			return frDone
		}
		if ev.Src == srcUsock && ev.Type == usock.EvStopped {
			f.Done()
			switch {
			case f.lastErr != nil:
				f.Raise(pipe.EvErr, f.lastErr)
			case f.peerClose:
				// The peer sent a close frame; its disconnect is clean, not
				// a failure, so the owner is told not to treat it as one.
				f.Raise(pipe.EvStopped, ErrPeerGone)
			default:
				f.Raise(pipe.EvStopped, nil)
			}
			return frDone
		}

	case frDone:
		return state
	}

	fsm.Violation(f.Name, state, ev.Src, ev.Type)
	return state
}

func (f *Framer) handleActive(ev fsm.Event) int {
	switch {
	case ev.Src == srcUsock && ev.Type == usock.EvSent:
		f.outSub = outIdle
		f.Raise(pipe.EvSent, nil)
		return frActive

	case ev.Src == srcUsock && ev.Type == usock.EvReceived:
		if f.onReceived(ev.Data.([]byte)) {
			return frShuttingDown
		}
		return frActive

	case ev.Src == srcUsock && ev.Type == usock.EvShutdown:
		f.sock.Stop()
		return frShuttingDown

	case ev.Src == srcUsock && ev.Type == usock.EvErr:
		f.lastErr = ev.Data.(error)
		f.sock.Stop()
		return frShuttingDown
	}
	fsm.Violation(f.Name, frActive, ev.Src, ev.Type)
	return frActive
}

// onReceived advances the inbound frame-parsing sub-stage by one usock
// completion, reporting whether failPolicy fired (caller must then
// transition to frShuttingDown).
func (f *Framer) onReceived(buf []byte) bool {
	switch f.inSub {
	case inBase:
		f.opcode = buf[0] & 0x0F
		var fin = buf[0]&0x80 != 0
		if !fin {
			f.failPolicy(ErrFragmentationUnsupported)
			return true
		}
		f.hasMask = buf[1]&0x80 != 0
		var len7 = buf[1] & 0x7F
		switch {
		case len7 == 126:
			f.extLenSize = 2
			f.inSub = inExtLen
			f.sock.Recv(2)
		case len7 == 127:
			f.extLenSize = 8
			f.inSub = inExtLen
			f.sock.Recv(8)
		default:
			f.payloadLen = uint64(len7)
			return f.afterLength()
		}
		return false

	case inExtLen:
		if f.extLenSize == 2 {
			f.payloadLen = uint64(binary.BigEndian.Uint16(buf))
		} else {
			f.payloadLen = binary.BigEndian.Uint64(buf)
		}
		return f.afterLength()

	case inMaskKey:
		copy(f.maskKey[:], buf)
		return f.afterMaskKey()

	case inBody:
		if f.hasMask {
			unmask(buf, f.maskKey)
		}
		return f.deliverFrame(buf)
	}
	return false
}

func (f *Framer) afterLength() bool {
	if f.rcvMaxSize >= 0 && int64(f.payloadLen) > f.rcvMaxSize {
		f.failPolicy(ErrPolicyExceeded)
		return true
	}
	if f.hasMask {
		f.inSub = inMaskKey
		f.sock.Recv(4)
		return false
	}
	return f.afterMaskKey()
}

func (f *Framer) afterMaskKey() bool {
	if f.payloadLen == 0 {
		return f.deliverFrame(nil)
	}
	f.inSub = inBody
	f.sock.Recv(int(f.payloadLen))
	return false
}

func (f *Framer) deliverFrame(body []byte) bool {
	switch f.opcode {
	case opBinary, opText:
		f.curMsg = message.NewBodyOnly(body)
		f.inSub = inBase
		f.Raise(pipe.EvReceived, f.curMsg)
		f.sock.Recv(2)
		return false
	case opClose:
		f.peerClose = true
		f.sock.Stop()
		return true
	default:
		f.failPolicy(ErrControlFrameUnsupported)
		return true
	}
}

func (f *Framer) failPolicy(err error) {
	f.lastErr = err
	f.sock.Stop()
}

func (f *Framer) startActive() {
	f.inSub = inBase
	f.outSub = outIdle
	f.Raise(pipe.EvStarted, nil)
	f.sock.Recv(2)
}

// --- pipe.Pipe ---

// Send implements pipe.Pipe, framing msg's header+body as a single
// WS data frame's payload (WS framing already delimits the message;
// unlike TCP/IPC, spmsg needs no additional length prefix).
func (f *Framer) Send(msg message.Message) {
	if f.outSub != outIdle {
		fsm.Violation(f.Name, f.State(), fsm.ActionSrc, -1)
	}
	f.outSub = outSending

	var hdrBytes = msg.Header.Bytes()
	var bodyBytes = msg.Body.Bytes()
	var payloadLen = uint64(len(hdrBytes) + len(bodyBytes))

	var opcode = opBinary
	if f.msgType == sockopt.WSMsgText {
		opcode = opText
	}
	var masked = f.mode == ModeClient
	var frameHdr = buildFrameHeader(opcode, payloadLen, masked)

	if masked {
		var key [4]byte
		_, _ = rand.Read(key[:])
		var maskedHdr = maskCopy(hdrBytes, key, 0)
		var maskedBody = maskCopy(bodyBytes, key, len(hdrBytes))
		f.sock.Send([][]byte{frameHdr, key[:], maskedHdr, maskedBody})
	} else {
		f.sock.Send([][]byte{frameHdr, hdrBytes, bodyBytes})
	}
}

// IsPeer implements pipe.Pipe.
func (f *Framer) IsPeer(want uint16) bool { return f.isPeer(want) }

// PeerProtocol implements pipe.Pipe.
func (f *Framer) PeerProtocol() uint16 { return f.peerProt }

// Stop implements pipe.Pipe.
func (f *Framer) Stop() { f.FSM.Stop() }

func (f *Framer) handleShutdown(state int, ev fsm.Event) int {
	switch state {
	case frIdle:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.Done()
			return frDone
		}
	case frHandshake:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.hs.Stop()
			return frStopping
		}
		return f.handle(state, ev)
	case frStopping:
		if ev.Src == srcHandshake {
			f.Done()
			f.Raise(pipe.EvStopped, nil)
			return frDone
		}
	case frActive:
		if ev.Src == fsm.ActionSrc && ev.Type == fsm.Stop {
			f.sock.Stop()
			return frShuttingDown
		}
		return f.handleActive(ev)
	case frShuttingDown:
		return f.handle(state, ev)
	case frDone:
		return state
	}
	fsm.Violation(f.Name, state, ev.Src, ev.Type)
	return state
}

// buildFrameHeader renders a 2/4/10-byte RFC-6455 frame prefix with
// FIN=1, the given opcode and payload length, and the MASK bit set per
// masked (the presence of a following 4-byte mask key is the caller's
// responsibility, keyed off the same flag).
func buildFrameHeader(opcode byte, length uint64, masked bool) []byte {
	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	switch {
	case length < 126:
		return []byte{0x80 | opcode, maskBit | byte(length)}
	case length <= 0xFFFF:
		var buf = make([]byte, 4)
		buf[0] = 0x80 | opcode
		buf[1] = maskBit | 126
		binary.BigEndian.PutUint16(buf[2:], uint16(length))
		return buf
	default:
		var buf = make([]byte, 10)
		buf[0] = 0x80 | opcode
		buf[1] = maskBit | 127
		binary.BigEndian.PutUint64(buf[2:], length)
		return buf
	}
}

// maskCopy returns buf XORed against key, treating offset as the
// position of buf[0] within the full masked payload (so a header and
// body masked in two calls continue the same rolling key).
func maskCopy(buf []byte, key [4]byte, offset int) []byte {
	var out = make([]byte, len(buf))
	for i, b := range buf {
		out[i] = b ^ key[(offset+i)%4]
	}
	return out
}

// unmask XORs buf in place against key, rolling from offset 0 — used
// for inbound payloads, which we always read as one contiguous Recv.
func unmask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}

// Framer-specific errors.
var (
	ErrPolicyExceeded           = wsErr("ws: RCVMAXSIZE exceeded")
	ErrFragmentationUnsupported = wsErr("ws: fragmented WS messages are not supported")
	ErrControlFrameUnsupported  = wsErr("ws: unsupported WS control frame")

	// ErrPeerGone is carried as pipe.EvStopped's Data when the peer closed
	// its side with a WS close frame rather than the connection simply
	// dropping. A Connecting sees this and does not retry.
	ErrPeerGone = wsErr("ws: peer performed a clean close")
)
