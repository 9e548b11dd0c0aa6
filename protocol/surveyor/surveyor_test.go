package surveyor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/sockopt"
)

type fakePipe struct {
	protocol uint16
	sent     chan message.Message
}

func newFakePipe() *fakePipe { return &fakePipe{protocol: 99, sent: make(chan message.Message, 8)} }

func (f *fakePipe) Send(msg message.Message) { f.sent <- msg }
func (f *fakePipe) IsPeer(want uint16) bool  { return want == f.protocol }
func (f *fakePipe) PeerProtocol() uint16     { return f.protocol }
func (f *fakePipe) Stop()                    {}

func TestSurveyIDRoundTrip(t *testing.T) {
	var id = randSurveyID()
	assert.NotZero(t, id&0x80000000)

	var decoded, ok = decodeSurveyID(encodeSurveyID(id))
	require.True(t, ok)
	assert.Equal(t, id, decoded)
}

func TestDecodeSurveyIDRejectsMalformed(t *testing.T) {
	var _, ok = decodeSurveyID([]byte{1, 2, 3})
	assert.False(t, ok)

	_, ok = decodeSurveyID([]byte{0, 0, 0, 1}) // MSB not set
	assert.False(t, ok)
}

func TestRecvWithNoSurveyReturnsErrNoSurvey(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New())
	defer s.Close()

	var _, err = s.Recv(context.Background())
	assert.Equal(t, ErrNoSurvey, err)
}

func TestSendWithNoPeersReturnsErrNoPeersWithoutTransition(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New())
	defer s.Close()

	var err = s.Send(context.Background(), []byte("q"))
	assert.Equal(t, ErrNoPeers, err)

	// Still no survey in progress: Recv must report ErrNoSurvey, not
	// ErrTimedOut, confirming the failed Send never entered ACTIVE.
	var _, recvErr = s.Recv(context.Background())
	assert.Equal(t, ErrNoSurvey, recvErr)
}

func TestSendBroadcastsToEveryPeer(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithSurveyorDeadline(time.Hour)))
	defer s.Close()

	var p1, p2 = newFakePipe(), newFakePipe()
	s.Set().Add(p1)
	s.Set().Add(p2)

	require.NoError(t, s.Send(context.Background(), []byte("q")))

	var m1 = <-p1.sent
	var m2 = <-p2.sent
	assert.Equal(t, m1.Header.Bytes(), m2.Header.Bytes())
	assert.Equal(t, "q", string(m1.Body.Bytes()))
}

func TestRecvCollectsCorrelatedReplyAndDiscardsMismatch(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithSurveyorDeadline(time.Hour)))
	defer s.Close()

	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("q")))

	var sent = <-p.sent

	// A reply tagged with a different survey ID must be discarded.
	s.Deliver(0, message.New(encodeSurveyID(0x80000001), []byte("stale")))

	s.Deliver(0, message.New(sent.Header.Bytes(), []byte("ack")))

	var reply, err = s.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ack", string(reply.Body.Bytes()))
}

func TestDeadlineYieldsTimedOutExactlyOnce(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithSurveyorDeadline(20*time.Millisecond)))
	defer s.Close()

	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("q")))
	<-p.sent

	time.Sleep(100 * time.Millisecond)

	var _, err = s.Recv(context.Background())
	assert.Equal(t, ErrTimedOut, err)

	_, err = s.Recv(context.Background())
	assert.Equal(t, ErrNoSurvey, err)
}

func TestCloseWakesBlockedRecv(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var s = NewSocket(pool, sockopt.New(sockopt.WithSurveyorDeadline(time.Hour)))
	var p = newFakePipe()
	s.Set().Add(p)
	require.NoError(t, s.Send(context.Background(), []byte("q")))
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
