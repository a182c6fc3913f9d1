package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	packetsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "engine",
			Name:      "packets_written_total",
			Help:      "Request packets written to the agent stream.",
		},
		[]string{"kind"},
	)
	packetsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "engine",
			Name:      "packets_read_total",
			Help:      "Packets read from the agent stream.",
		},
		[]string{"kind"},
	)
	readErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "engine",
			Name:      "read_errors_total",
			Help:      "Failed packet reads, split by whether the stream was lost.",
		},
		[]string{"fatal"},
	)
	protocolAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "engine",
			Name:      "protocol_anomalies_total",
			Help:      "Inbound packets dropped because their kind is not a response.",
		},
	)
	responsesForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "engine",
			Name:      "responses_forwarded_total",
			Help:      "Response payloads delivered to the application.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the bridge.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Bridge HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsWritten,
			packetsRead,
			readErrors,
			protocolAnomalies,
			responsesForwarded,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordPacketWritten(kind string) {
	RegisterMetrics()
	packetsWritten.WithLabelValues(kind).Inc()
}

func RecordPacketRead(kind string) {
	RegisterMetrics()
	packetsRead.WithLabelValues(kind).Inc()
}

func RecordReadError(fatal bool) {
	RegisterMetrics()
	readErrors.WithLabelValues(strconv.FormatBool(fatal)).Inc()
}

func RecordProtocolAnomaly() {
	RegisterMetrics()
	protocolAnomalies.Inc()
}

func RecordResponseForwarded() {
	RegisterMetrics()
	responsesForwarded.Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
