package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSucceeded    = "succeeded"
	ResultRejected     = "rejected"
	ResultRemoteError  = "remote_error"
	ResultTransport    = "transport_error"
	ResultDecodeError  = "decode_error"
	ResultPersistError = "persist_error"
	ResultUnknown      = "error"
)

var (
	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_generations_total",
			Help: "Generation requests by outcome",
		},
		[]string{"result"},
	)
	GenerationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_generation_duration_seconds",
			Help:    "Time spent waiting on the image service",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s..128s
		},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_generations_in_flight",
			Help: "Whether a generation request is currently in flight",
		},
	)
	ArtifactsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_artifacts_persisted_total",
			Help: "Image and metadata pairs written to the content directory",
		},
	)
	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_publish_failures_total",
			Help: "Generations whose persisted pairs could not be mirrored to the bucket",
		},
	)
	LateResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_late_results_total",
			Help: "Worker results discarded because their session had already stopped",
		},
	)

	// HTTP
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP request errors.",
		},
		[]string{"method", "path", "status"},
	)
	EventClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_event_clients",
			Help: "Open websocket connections listening for session events",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Generations,
		GenerationDurationSeconds,
		InFlight,
		ArtifactsPersisted,
		PublishFailures,
		LateResults,
		RequestDuration,
		RequestErrors,
		EventClients,
	)
}

// ResultFor classifies an error into a result label.
func ResultFor(err error) string {
	var (
		validation *image.ValidationError
		remote     *image.RemoteServiceError
		transport  *image.TransportError
		decode     *image.DecodeError
		persist    *store.PersistenceError
	)
	switch {
	case err == nil:
		return ResultSucceeded
	case errors.As(err, &validation):
		return ResultRejected
	case errors.As(err, &remote):
		return ResultRemoteError
	case errors.As(err, &transport):
		return ResultTransport
	case errors.As(err, &decode):
		return ResultDecodeError
	case errors.As(err, &persist):
		return ResultPersistError
	default:
		return ResultUnknown
	}
}

func IncGeneration(result string) {
	Generations.WithLabelValues(result).Inc()
}

func ObserveGeneration(d time.Duration) {
	GenerationDurationSeconds.Observe(d.Seconds())
}

func SetInFlight(inFlight bool) {
	if inFlight {
		InFlight.Set(1)
		return
	}
	InFlight.Set(0)
}

func AddArtifacts(n int) {
	ArtifactsPersisted.Add(float64(n))
}

func IncPublishFailure() {
	PublishFailures.Inc()
}

func IncLateResult() {
	LateResults.Inc()
}

func ObserveRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	RequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
	if status >= 400 {
		RequestErrors.WithLabelValues(method, path, code).Inc()
	}
}

func AddEventClients(delta int) {
	EventClients.Add(float64(delta))
}
