// Package metrics provides Prometheus metrics for the audio pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medaudio"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Batch pipeline metrics
	BuffersProcessed  prometheus.Counter
	FilesFailed       prometheus.Counter
	SNRImprovement    prometheus.Histogram
	ReductionWarnings prometheus.Counter

	// Streaming session metrics
	SessionsStarted prometheus.Counter
	SessionsErrored prometheus.Counter
	ChunksSent      prometheus.Counter
	ChunksDropped   prometheus.Counter

	// Transcription metrics
	TranscriptionErrors  prometheus.Counter
	WordsTranscribed     prometheus.Counter
	WordsFlagged         prometheus.Counter
	CriticalTermsFlagged prometheus.Counter
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		BuffersProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_processed_total",
			Help:      "Total number of audio buffers run through the pipeline",
		}),
		FilesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Total number of batch files that failed processing",
		}),
		SNRImprovement: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snr_improvement_db",
			Help:      "SNR improvement achieved by noise reduction, in dB",
			Buckets:   []float64{0, 2, 5, 10, 15, 20, 30},
		}),
		ReductionWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduction_warnings_total",
			Help:      "Total number of quality-degradation warnings emitted",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_sessions_started_total",
			Help:      "Total number of streaming sessions started",
		}),
		SessionsErrored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_sessions_errored_total",
			Help:      "Total number of streaming sessions that ended in error",
		}),
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_chunks_sent_total",
			Help:      "Total number of audio chunks transmitted to the backend",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_chunks_dropped_total",
			Help:      "Total number of audio chunks dropped due to queue overflow",
		}),
		TranscriptionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Total number of failed transcription calls",
		}),
		WordsTranscribed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_transcribed_total",
			Help:      "Total number of words returned by transcription backends",
		}),
		WordsFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_flagged_total",
			Help:      "Total number of words flagged for human review",
		}),
		CriticalTermsFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_terms_flagged_total",
			Help:      "Total number of critical medical terms flagged",
		}),
	}
}
