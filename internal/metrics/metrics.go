package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Currently active conversation sessions",
	})

	SessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_sessions_evicted_total",
		Help: "Sessions removed by capacity or idle-timeout eviction",
	}, []string{"reason"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_ws_connections_active",
		Help: "Currently attached WebSocket connections",
	})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_audio_chunks_total",
		Help: "Binary audio chunks received from clients",
	})

	AudioChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_audio_chunks_dropped_total",
		Help: "Audio chunks dropped because the turn trigger already fired",
	})

	EndpointsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_vad_endpoints_detected_total",
		Help: "Tentative speech endpoints reported by the streaming detector",
	})

	EndpointsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_vad_endpoints_cancelled_total",
		Help: "Tentative endpoints cancelled because speech resumed",
	})

	DetectorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_vad_detector_errors_total",
		Help: "Non-fatal detector errors treated as no-event",
	})

	Triggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turn_triggers_total",
		Help: "Committed turn triggers by source",
	}, []string{"source"})

	TriggersSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_turn_triggers_suppressed_total",
		Help: "Trigger attempts suppressed by the at-most-once guard",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turns_total",
		Help: "Completed turns by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_pipeline_stage_duration_seconds",
		Help:    "Per-stage pipeline latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_duration_seconds",
		Help:    "End-to-end latency from trigger commit to turn completion",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0, 10.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})
)
