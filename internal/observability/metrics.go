package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoreg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "protoreg",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoreg",
			Subsystem: "codec",
			Name:      "frames_total",
			Help:      "Protocol frames encoded or decoded.",
		},
		[]string{"node", "direction", "protocol"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoreg",
			Subsystem: "codec",
			Name:      "frame_bytes_total",
			Help:      "Bytes of protocol frames encoded or decoded.",
		},
		[]string{"node", "direction"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoreg",
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Frames that failed to decode.",
		},
		[]string{"node", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, framesTotal, frameBytes, decodeErrors)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(node, direction string, protocolID int16, size int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(node, direction, strconv.Itoa(int(protocolID))).Inc()
	frameBytes.WithLabelValues(node, direction).Add(float64(size))
}

func RecordDecodeError(node, reason string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(node, reason).Inc()
}

// CodecObserver feeds registry frame events into the codec metrics.
type CodecObserver struct {
	Node string
}

func (o CodecObserver) FrameWritten(id int16, size int) { RecordFrame(o.Node, "write", id, size) }

func (o CodecObserver) FrameRead(id int16, size int) { RecordFrame(o.Node, "read", id, size) }

func (o CodecObserver) DecodeFailed(reason string) { RecordDecodeError(o.Node, reason) }
