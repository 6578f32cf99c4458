package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus instruments for the ingestion service.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter

	// Chunk metrics
	ChunksIngested prometheus.Counter
	ChunkBytes     prometheus.Counter
	IngestFailures *prometheus.CounterVec

	// Transcription dispatch metrics
	DispatchQueueDepth    prometheus.Gauge
	DispatchDropped       prometheus.Counter
	TranscriptionSuccess  prometheus.Counter
	TranscriptionFailures prometheus.Counter
}

// New creates and registers all metrics on a dedicated registry.
func New() (*Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audio_active_sessions",
			Help: "Current number of active audio sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_sessions_created_total",
			Help: "Total number of audio sessions created",
		}),
		ChunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_chunks_ingested_total",
			Help: "Total number of audio chunks accepted",
		}),
		ChunkBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_chunk_bytes_total",
			Help: "Total audio payload bytes accepted",
		}),
		IngestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_ingest_failures_total",
			Help: "Total chunk ingestion failures by reason",
		}, []string{"reason"}),
		DispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audio_dispatch_queue_depth",
			Help: "Current number of chunks waiting for transcription",
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_dispatch_dropped_total",
			Help: "Total chunks dropped because the transcription queue was full",
		}),
		TranscriptionSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcriptions_success_total",
			Help: "Total successful chunk transcriptions",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcriptions_failed_total",
			Help: "Total failed chunk transcriptions",
		}),
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
