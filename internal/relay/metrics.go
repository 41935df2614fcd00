package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultDelivered = "delivered"
	resultOffline   = "offline"
	resultDropped   = "dropped"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
	resultError     = "error"
)

type Metrics struct {
	sessions   prometheus.Gauge
	replaced   prometheus.Counter
	dispatches *prometheus.CounterVec
	replays    *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them with reg. A nil
// reg yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "mattone",
			Subsystem: "relay",
			Name:      "sessions",
			Help:      "Devices with a live event stream.",
		}),
		replaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "mattone",
			Subsystem: "relay",
			Name:      "sessions_replaced_total",
			Help:      "Sessions superseded by a newer connection from the same device.",
		}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mattone",
			Subsystem: "relay",
			Name:      "dispatches_total",
			Help:      "Commands dispatched to devices by command type and outcome.",
		}, []string{"type", "result"}),
		replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mattone",
			Subsystem: "relay",
			Name:      "replays_total",
			Help:      "Reconnect replays by outcome.",
		}, []string{"result"}),
	}
}
