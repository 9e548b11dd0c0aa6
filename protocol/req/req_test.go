package req

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/sockopt"
)

type fakePipe struct {
	protocol uint16
	sent     chan message.Message
}

func newFakePipe() *fakePipe { return &fakePipe{protocol: 49, sent: make(chan message.Message, 8)} }

func (f *fakePipe) Send(msg message.Message) { f.sent <- msg }
func (f *fakePipe) IsPeer(want uint16) bool  { return want == f.protocol }
func (f *fakePipe) PeerProtocol() uint16     { return f.protocol }
func (f *fakePipe) Stop()                    {}

func TestReqIDRoundTrip(t *testing.T) {
	var id = randReqID()
	assert.NotZero(t, id&0x80000000)

	var decoded, ok = decodeReqID(encodeReqID(id))
	require.True(t, ok)
	assert.Equal(t, id, decoded)
}

func TestDecodeReqIDRejectsMalformed(t *testing.T) {
	var _, ok = decodeReqID([]byte{1, 2, 3})
	assert.False(t, ok)

	_, ok = decodeReqID([]byte{0, 0, 0, 1}) // MSB not set
	assert.False(t, ok)
}

func TestRecvWithNoRequestReturnsErrNoRequest(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New())
	defer s.Close()

	var _, err = s.Recv(context.Background())
	assert.Equal(t, ErrNoRequest, err)
}

func TestSendDelayedThenForwardsOncePipeJoins(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithReqResendIvl(time.Hour)))
	defer s.Close()

	var ctx = context.Background()
	require.NoError(t, s.Send(ctx, []byte("hello")))

	var p = newFakePipe()
	s.Set().Add(p)

	select {
	case sent := <-p.sent:
		assert.Equal(t, "hello", string(sent.Body.Bytes()))
	case <-time.After(time.Second):
		t.Fatal("request was never forwarded to the joining pipe")
	}
}

func TestSendThenReplyCompletesRecv(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithReqResendIvl(time.Hour)))
	defer s.Close()

	var p = newFakePipe()
	s.Set().Add(p)

	require.NoError(t, s.Send(context.Background(), []byte("ping")))

	var sent = <-p.sent
	s.Deliver(0, message.New(sent.Header.Bytes(), []byte("pong")))

	var reply, err = s.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply.Body.Bytes()))
}

func TestMismatchedReplyIDIsDiscarded(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithReqResendIvl(time.Hour)))
	defer s.Close()

	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("ping")))
	<-p.sent

	s.Deliver(0, message.New(encodeReqID(0x80000001), []byte("stale")))

	var ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var _, err = s.Recv(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestResendFiresOnTimeout(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithReqResendIvl(20*time.Millisecond)))
	defer s.Close()

	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("ping")))

	var first = <-p.sent
	select {
	case again := <-p.sent:
		assert.Equal(t, first.Header.Bytes(), again.Header.Bytes())
		assert.Equal(t, first.Body.Bytes(), again.Body.Bytes())
	case <-time.After(time.Second):
		t.Fatal("request was never resent after the resend interval elapsed")
	}
}

func TestCloseWakesBlockedRecv(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New())
	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("ping")))
	<-p.sent

	var result = make(chan error, 1)
	go func() {
		var _, err = s.Recv(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-result:
		assert.Equal(t, ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("Recv never unblocked after Close")
	}
}
