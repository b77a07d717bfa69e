package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics holds the Prometheus instruments for the ranking engine.
type EngineMetrics struct {
	EngagementsProcessed *prometheus.CounterVec
	FeedsAssembled       prometheus.Counter
	FeedAssemblyDuration prometheus.Histogram
	SessionsStarted      prometheus.Counter
	SessionsMerged       prometheus.Counter
	SessionsExpired      prometheus.Counter
	EventsPublished      *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
	AggregatorFlushes    prometheus.Counter
	AggregatorBufferSize prometheus.Gauge
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		EngagementsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_engagements_processed_total",
			Help: "Engagement requests processed, by kind and result.",
		}, []string{"kind", "result"}),
		FeedsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feeds_assembled_total",
			Help: "Feed pages assembled.",
		}),
		FeedAssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_feed_assembly_duration_seconds",
			Help:    "Wall time spent assembling one feed page.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_sessions_started_total",
			Help: "Sessions hydrated from persistent profiles.",
		}),
		SessionsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_sessions_merged_total",
			Help: "Sessions blended back into persistent profiles.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_sessions_expired_total",
			Help: "Sessions removed by the expiry sweep.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_published_total",
			Help: "Events published to the bus, by topic.",
		}, []string{"topic"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_consumed_total",
			Help: "Events consumed from the bus, by group and result.",
		}, []string{"group", "result"}),
		AggregatorFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_aggregator_flushes_total",
			Help: "Hourly score aggregator flush runs.",
		}),
		AggregatorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_aggregator_buffer_size",
			Help: "Posts currently buffered by the score aggregator.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EngagementsProcessed,
			m.FeedsAssembled,
			m.FeedAssemblyDuration,
			m.SessionsStarted,
			m.SessionsMerged,
			m.SessionsExpired,
			m.EventsPublished,
			m.EventsConsumed,
			m.AggregatorFlushes,
			m.AggregatorBufferSize,
		)
	}

	return m
}
