package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "english_check_webhook_forward_duration_seconds",
			Help:    "Webhook forward duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "english_check_submissions_total",
			Help: "Total submissions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	GatewayTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "english_check_gateway_timeouts_total",
			Help: "Webhook timeouts answered with 504",
		},
	)

	UploadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "english_check_upload_rejections_total",
			Help: "Uploads rejected before forwarding",
		},
		[]string{"reason"},
	)

	JobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "english_check_job_transitions_total",
			Help: "Async job status transitions",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "english_check_job_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	AudioDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "english_check_audio_duration_seconds",
			Help:    "Duration of uploaded clips",
			Buckets: []float64{10, 20, 30, 45, 60, 75, 90, 120},
		},
	)

	ArchiveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "english_check_archive_failures_total",
			Help: "Audio archive uploads that failed",
		},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "english_check_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	PrunedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "english_check_pruned_records_total",
			Help: "Records removed by maintenance jobs",
		},
		[]string{"kind"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ForwardDuration)
		prometheus.MustRegister(SubmissionsTotal)
		prometheus.MustRegister(GatewayTimeouts)
		prometheus.MustRegister(UploadRejections)
		prometheus.MustRegister(JobTransitions)
		prometheus.MustRegister(QueueDepth)
		prometheus.MustRegister(AudioDuration)
		prometheus.MustRegister(ArchiveFailures)
		prometheus.MustRegister(BreakerState)
		prometheus.MustRegister(PrunedTotal)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
