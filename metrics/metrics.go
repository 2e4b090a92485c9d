// Package metrics counts chunk requests, token usage and document outcomes
// of a run. The registry can be exported in the node_exporter textfile
// format for collection by a scraping agent.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Chunk request outcomes.
const (
	ChunkSuccess = "success"
	ChunkFailure = "failure"
)

// Run modes.
const (
	ModeSync  = "sync"
	ModeBatch = "batch"
)

type Metrics struct {
	registry *prometheus.Registry

	chunkRequests *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	documents     *prometheus.CounterVec
	batchJobs     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	chunkRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docweave",
			Subsystem: "translate",
			Name:      "chunk_requests_total",
			Help:      "Chunk translation requests by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	chunkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docweave",
			Subsystem: "translate",
			Name:      "chunk_duration_seconds",
			Help:      "Wall time of a chunk translation including retries.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)
	tokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docweave",
			Subsystem: "translate",
			Name:      "tokens_total",
			Help:      "Tokens reported by the service by mode and direction.",
		},
		[]string{"mode", "direction"},
	)
	documents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docweave",
			Subsystem: "translate",
			Name:      "documents_total",
			Help:      "Documents by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	batchJobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docweave",
			Subsystem: "batch",
			Name:      "job_transitions_total",
			Help:      "Batch job state transitions by target state.",
		},
		[]string{"state"},
	)

	registry.MustRegister(chunkRequests, chunkDuration, tokens, documents, batchJobs)

	return &Metrics{
		registry:      registry,
		chunkRequests: chunkRequests,
		chunkDuration: chunkDuration,
		tokens:        tokens,
		documents:     documents,
		batchJobs:     batchJobs,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveChunk(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.chunkRequests.WithLabelValues(mode, outcome).Inc()
	if duration > 0 {
		m.chunkDuration.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

func (m *Metrics) AddTokens(mode string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokens.WithLabelValues(mode, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(mode, "output").Add(float64(output))
	}
}

func (m *Metrics) ObserveDocument(mode, outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveBatchTransition(state string) {
	if m == nil {
		return
	}
	m.batchJobs.WithLabelValues(state).Inc()
}

// WriteTextfile exports the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
