package sender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// senderMetrics - Prometheus метрики движка отправителя.
// Регистрируются в default registry один раз при загрузке пакета.
type metricsSet struct {
	sendersActive   prometheus.Gauge
	framesWritten   prometheus.Counter
	samplesWritten  prometheus.Counter
	packetsEnqueued *prometheus.CounterVec
	writeErrors     *prometheus.CounterVec
	pacingWait      prometheus.Histogram
}

var senderMetrics = newMetricsSet("stream", "sender")

func newMetricsSet(namespace, subsystem string) *metricsSet {
	return &metricsSet{
		sendersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Number of currently open sender sessions",
		}),
		framesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_written_total",
			Help:      "Total number of frames accepted by write",
		}),
		samplesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_written_total",
			Help:      "Total number of samples per channel accepted by write",
		}),
		packetsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_enqueued_total",
			Help:      "Total number of packets handed to the transmit sink",
		}, []string{"port_type"}),
		writeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_errors_total",
			Help:      "Total number of failed write calls by error code",
		}, []string{"code"}),
		pacingWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pacing_wait_seconds",
			Help:      "Time write calls spent blocked in the timing controller",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}
