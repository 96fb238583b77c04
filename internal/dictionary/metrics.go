package dictionary

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	rebuilds    *prometheus.CounterVec
	extractions *prometheus.CounterVec
	references  prometheus.Counter
	duration    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dictionary_rebuilds_total",
			Help: "Dictionary rebuilds by final status",
		}, []string{"status"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dictionary_chunk_extractions_total",
			Help: "Chunk extraction calls by decode outcome",
		}, []string{"outcome"}),
		references: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dictionary_references_written_total",
			Help: "Reference rows inserted by rebuilds",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictionary_rebuild_duration_seconds",
			Help:    "Wall time of a dictionary rebuild",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.rebuilds, m.extractions, m.references, m.duration} {
			if err := reg.Register(c); err != nil {
				log.Printf("dictionary metrics register: %v", err)
			}
		}
	}
	return m
}

func (m *Metrics) observeExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRebuild(status string, refs int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(status).Inc()
	if refs > 0 {
		m.references.Add(float64(refs))
	}
	m.duration.Observe(elapsed.Seconds())
}
