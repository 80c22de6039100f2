package gotftp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// serverMetrics is a prometheus.Collector tracking transfer activity.
// Registration is optional (spec.md §3's ServerConfig.MetricsRegisterer
// may be nil, which disables metrics entirely); nothing in the protocol
// core depends on it.
//
// Grounded on runZeroInc-sockstats/pkg/exporter/exporter.go's
// TCPInfoCollector: a small struct implementing Describe/Collect, built
// from prometheus.NewDesc, registered with prometheus.Register.
type serverMetrics struct {
	active      prometheus.Gauge
	completed   *prometheus.CounterVec
	bytesTotal  *prometheus.CounterVec
	retransmits prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gotftp",
			Name:      "active_transfers",
			Help:      "Number of TFTP transfers currently in progress.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gotftp",
			Name:      "transfers_total",
			Help:      "Completed TFTP transfers by direction and outcome.",
		}, []string{"direction", "outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gotftp",
			Name:      "bytes_total",
			Help:      "Bytes transferred by direction.",
		}, []string{"direction"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gotftp",
			Name:      "retransmits_total",
			Help:      "Total packet retransmissions across all transfers.",
		}),
	}
}

func (m *serverMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.active.Describe(ch)
	m.completed.Describe(ch)
	m.bytesTotal.Describe(ch)
	m.retransmits.Describe(ch)
}

func (m *serverMetrics) Collect(ch chan<- prometheus.Metric) {
	m.active.Collect(ch)
	m.completed.Collect(ch)
	m.bytesTotal.Collect(ch)
	m.retransmits.Collect(ch)
}

// register attaches m to reg if non-nil, logging (never failing) a
// registration error such as a duplicate collector.
func (m *serverMetrics) register(reg prometheus.Registerer, logger *Logger) {
	if reg == nil {
		return
	}
	if err := reg.Register(m); err != nil {
		logger.logf("metrics registration failed, continuing unmetered: %s", err.Error())
	}
}

func directionLabel(dir Direction) string {
	if dir == DirRead {
		return "read"
	}
	return "write"
}
