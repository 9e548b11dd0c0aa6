package endpoint_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"go.spmsg.dev/core/endpoint"
	"go.spmsg.dev/core/sockopt"
)

func TestStatIncrement(t *testing.T) {
	var reg = prometheus.NewRegistry()
	var stats = endpoint.NewStats(reg, "spmsg", "test")
	var ep = endpoint.New("tcp", "127.0.0.1:0", endpoint.KindConnect, sockopt.New(), stats)

	ep.StatIncrement(endpoint.CounterEstablished)
	ep.StatIncrement(endpoint.CounterEstablished)

	var families, err = reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "spmsg_test_established_total" {
			continue
		}
		found = true
		require.Len(t, fam.Metric, 1)
		require.Equal(t, float64(2), fam.Metric[0].GetCounter().GetValue())
	}
	require.True(t, found, "expected spmsg_test_established_total to be registered")
}
