package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Ingest metrics
	IngestReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_ingest_readings_total",
			Help: "Total number of readings received",
		},
		[]string{"source", "status"}, // status: accepted, rejected, failed
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_ingest_batch_size",
			Help:    "Size of reading batches received over HTTP",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_ingest_validation_errors_total",
			Help: "Total number of validation errors",
		},
		[]string{"error_type"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_worker_queue_size",
			Help: "Current size of the worker queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_worker_queue_capacity",
			Help: "Capacity of the worker queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_worker_processed_total",
			Help: "Total number of readings stored by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_worker_failed_total",
			Help: "Total number of readings workers failed to store",
		},
	)

	WorkerBatchStoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_worker_batch_store_duration_seconds",
			Help:    "Time taken to append a batch to the timeline",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_evaluations_total",
			Help: "Total number of evaluation passes",
		},
		[]string{"verdict"}, // verdict: alert, normal, error
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_evaluation_duration_seconds",
			Help:    "Time taken by a single evaluation pass",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	RuleFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_rule_fires_total",
			Help: "Number of passes on which each rule fired",
		},
		[]string{"rule"},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_alert_transitions_total",
			Help: "Alert state transitions",
		},
		[]string{"to"}, // to: triggered, resolved
	)

	StateConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_state_conflicts_total",
			Help: "Compare-and-swap retries on the alert state store",
		},
	)

	ManualAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_manual_alerts_total",
			Help: "Total number of operator-triggered alerts",
		},
	)

	MonitorPatients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_monitor_patients",
			Help: "Patients evaluated on the last monitor tick",
		},
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_dispatch_total",
			Help: "Alert events handed to each sink",
		},
		[]string{"sink", "status"}, // status: success, failed
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalwatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// WebSocket hub
	HubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalwatch_hub_clients",
			Help: "Connected WebSocket clients",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
