package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter names one of the observable events spec.md §6 lists against
// "stat_increment on endpoint".
type Counter int

const (
	// CounterInProgress: a connect/accept attempt is underway.
	CounterInProgress Counter = iota
	// CounterEstablished: a framer reached ACTIVE.
	CounterEstablished
	// CounterDropped: an accepted connection was torn down before
	// becoming established (e.g. protocol mismatch during handshake).
	CounterDropped
	// CounterBroken: an established connection failed after becoming
	// active.
	CounterBroken
	// CounterConnectError: a connecting-side dial attempt failed.
	CounterConnectError
)

// Stats wires each Counter to a labeled prometheus.CounterVec, one
// vector per observable event, registered once at construction — the
// "one CounterVec per observable event, registered via promauto" idiom
// shared by the pack's Prometheus-heavy repos (see DESIGN.md).
type Stats struct {
	inProgress   *prometheus.CounterVec
	established  *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	broken       *prometheus.CounterVec
	connectError *prometheus.CounterVec
}

// NewStats registers the five counter vectors under namespace/subsystem
// with a shared registerer (pass prometheus.DefaultRegisterer for the
// global registry, or a per-test registry to avoid collisions).
func NewStats(reg prometheus.Registerer, namespace, subsystem string) *Stats {
	var factory = promauto.With(reg)
	var labels = []string{"address", "transport"}
	return &Stats{
		inProgress: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_total", Help: "Connect/accept attempts started.",
		}, labels),
		established: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "established_total", Help: "Connections that reached ACTIVE.",
		}, labels),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "dropped_total", Help: "Connections torn down before becoming established.",
		}, labels),
		broken: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "broken_total", Help: "Established connections that subsequently failed.",
		}, labels),
		connectError: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_error_total", Help: "Connecting-side dial attempts that failed.",
		}, labels),
	}
}

func (s *Stats) increment(c Counter, transport, address string) {
	var vec *prometheus.CounterVec
	switch c {
	case CounterInProgress:
		vec = s.inProgress
	case CounterEstablished:
		vec = s.established
	case CounterDropped:
		vec = s.dropped
	case CounterBroken:
		vec = s.broken
	case CounterConnectError:
		vec = s.connectError
	default:
		return
	}
	vec.WithLabelValues(address, transport).Inc()
}
