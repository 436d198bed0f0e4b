package trafficengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ingested     *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	Evicted      prometheus.Counter
	Expired      prometheus.Counter
	Population   prometheus.Gauge
	Visible      prometheus.Gauge
	History      prometheus.Gauge
	TickDuration prometheus.Histogram
}

// NewMetrics registers the engine metrics on reg. A nil reg gets a private registry so tests
// and embedded engines do not collide on the global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Ingested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_events_ingested_total",
			Help: "Traffic events turned into entities, by classification.",
		}, []string{"classification"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_events_rejected_total",
			Help: "Traffic events dropped during ingestion, by reason.",
		}, []string{"reason"}),
		Evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "traffic_entities_evicted_total",
			Help: "Entities evicted because the store hit its population bound.",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "traffic_entities_expired_total",
			Help: "Entities removed after fading out.",
		}),
		Population: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_entities",
			Help: "Entities currently in the store.",
		}),
		Visible: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_entities_visible",
			Help: "Entities currently visible.",
		}),
		History: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_history_events",
			Help: "Events held in the traffic history ring.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "traffic_tick_duration_seconds",
			Help:    "Time spent in one decay tick.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}
}
