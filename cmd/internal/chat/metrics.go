package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the chat engine's Prometheus collectors.
type Metrics struct {
	SessionsLive      prometheus.Gauge
	MessagesPersisted prometheus.Counter
	FramesDropped     prometheus.Counter
	BackpressureKills prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_sessions_live",
			Help: "Currently open sessions.",
		}),
		MessagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_persisted_total",
			Help: "Messages written to the store.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_frames_dropped_total",
			Help: "Outbound frames dropped on session close.",
		}),
		BackpressureKills: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_backpressure_kills_total",
			Help: "Sessions closed for exceeding the outbound byte budget.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_conv_cache_hits_total",
			Help: "Conversation cache hits on the broadcast path.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_conv_cache_misses_total",
			Help: "Conversation cache misses on the broadcast path.",
		}),
	}
}
