package sockopt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"go.spmsg.dev/core/sockopt"
)

func TestDefaults(t *testing.T) {
	var o = sockopt.New()
	assert.EqualValues(t, -1, o.RCVMAXSIZE)
	assert.Equal(t, 60*time.Second, o.ReqResendIvl)
	assert.Equal(t, time.Second, o.SurveyorDeadline)
	assert.Equal(t, sockopt.WSMsgBinary, o.WSMsgType)
	// ReconnectIvlMax defaults up to ReconnectIvl when left at zero.
	assert.Equal(t, o.ReconnectIvl, o.ReconnectIvlMax)
}

func TestOptionsOverride(t *testing.T) {
	var o = sockopt.New(
		sockopt.WithRCVMAXSIZE(1024),
		sockopt.WithReconnectIvl(50*time.Millisecond),
		sockopt.WithReconnectIvlMax(200*time.Millisecond),
		sockopt.WithTCPNoDelay(true),
		sockopt.WithIPv4Only(true),
		sockopt.WithWSMsgType(sockopt.WSMsgText),
	)
	assert.EqualValues(t, 1024, o.RCVMAXSIZE)
	assert.Equal(t, 50*time.Millisecond, o.ReconnectIvl)
	assert.Equal(t, 200*time.Millisecond, o.ReconnectIvlMax)
	assert.True(t, o.TCPNoDelay)
	assert.True(t, o.IPv4Only)
	assert.Equal(t, sockopt.WSMsgText, o.WSMsgType)
}
