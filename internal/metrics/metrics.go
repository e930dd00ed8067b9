package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pdctl"

var (
	// Producer
	PacketsRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_read_total",
		Help:      "Total number of packets decoded from the device",
	})

	MeasurementsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "measurements_emitted_total",
		Help:      "Measurement payloads that passed the rate gate",
	})

	ProtocolEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_packets_enqueued_total",
		Help:      "Protocol packets handed to the transport queue",
	})

	PacketsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_discarded_total",
		Help:      "Packets discarded before reaching the record store",
	}, []string{"reason"})

	TransientErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transient_read_errors_total",
		Help:      "Read errors that were retried",
	})

	// Queue
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_dropped_total",
		Help:      "Payloads dropped because the transport queue was full",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Payloads waiting in the transport queue at the last drain",
	})

	// Consumer
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_apply_seconds",
		Help:      "Time spent applying one pending batch",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
	})

	RecordsVisible = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records_visible",
		Help:      "Records inside the visible window",
	}, []string{"stream"})

	RecordsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records retained for export",
	}, []string{"stream"})

	AutoPauseTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autopause_triggers_total",
		Help:      "Number of times auto-pause stopped a capture",
	})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Control API requests by method, route and status",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Control API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// Process
	ProcessRSS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_rss_bytes",
		Help:      "Resident set size sampled by the resource monitor",
	})

	ProcessCPU = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_cpu_percent",
		Help:      "CPU usage sampled by the resource monitor",
	})
)

// Discard reasons
const (
	ReasonPaused       = "paused"
	ReasonRateLimited  = "rate_limited"
	ReasonUnclassified = "unclassified"
)
