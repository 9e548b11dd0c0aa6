package spsock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/aio"
	"go.spmsg.dev/core/message"
	"go.spmsg.dev/core/pipe"
	"go.spmsg.dev/core/protocol/req"
	"go.spmsg.dev/core/sockopt"
	"go.spmsg.dev/core/spsock"
)

// echoOverlay is a minimal spsock.Overlay that echoes every received
// message straight back to the pipe it arrived on, standing in for a
// REP-side overlay this module doesn't implement.
type echoOverlay struct {
	set *pipe.Set
}

func newEchoOverlay() *echoOverlay { return &echoOverlay{set: pipe.NewSet(nil, nil)} }

func (o *echoOverlay) Set() *pipe.Set { return o.set }

func (o *echoOverlay) Deliver(id pipe.ID, msg message.Message) {
	if p, ok := o.set.Get(id); ok {
		p.Send(msg)
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var overlay = req.NewSocket(pool, sockopt.New())
	defer overlay.Close()

	var s = spsock.NewReq(pool, overlay, sockopt.New(), nil)
	var err = s.Dial("udp://127.0.0.1:0")
	assert.Error(t, err)
}

func TestListenUnsupportedScheme(t *testing.T) {
	var pool = aio.NewPool(1)
	defer pool.Stop()

	var overlay = req.NewSocket(pool, sockopt.New())
	defer overlay.Close()

	var s = spsock.NewReq(pool, overlay, sockopt.New(), nil)
	var _, err = s.Listen("udp://127.0.0.1:0")
	assert.Error(t, err)
}

func TestListenThenDialOverLoopbackTCP(t *testing.T) {
	var pool = aio.NewPool(2)
	defer pool.Stop()

	var reqOverlay = req.NewSocket(pool, sockopt.New(sockopt.WithReqResendIvl(time.Hour)))
	defer reqOverlay.Close()
	var repOverlay = newEchoOverlay()

	var server = spsock.New(pool, repOverlay, 49, 48, sockopt.New(), nil)
	defer server.Close()
	var addr, err = server.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)

	var client = spsock.NewReq(pool, reqOverlay, sockopt.New(sockopt.WithReqResendIvl(time.Hour)), nil)
	defer client.Close()
	require.NoError(t, client.Dial("tcp://"+addr))

	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reqOverlay.Send(ctx, []byte("ping")))

	var reply, recvErr = reqOverlay.Recv(ctx)
	require.NoError(t, recvErr)
	assert.Equal(t, "ping", string(reply.Body.Bytes()))
}
