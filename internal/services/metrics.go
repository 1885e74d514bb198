package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported in metrics and debug logs
const (
	DropReasonDisabled          = "disabled"
	DropReasonEventTypeDisabled = "event_type_disabled"
	DropReasonSessionCap        = "session_cap"
	DropReasonSampledOut        = "sampled_out"
	DropReasonClosed            = "closed"
)

// Metrics holds the prometheus collectors of the tracking pipeline
type Metrics struct {
	EventsTracked   *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	ProviderSends   *prometheus.CounterVec
	RetryEnqueued   prometheus.Counter
	RetryEvicted    prometheus.Counter
	RetryExhausted  prometheus.Counter
	QueueLength     prometheus.Gauge
	SessionsExpired prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "events_tracked_total",
			Help:      "Events accepted by the tracking pipeline.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "events_dropped_total",
			Help:      "Events rejected before dispatch.",
		}, []string{"reason"}),
		ProviderSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "provider_sends_total",
			Help:      "Provider delivery attempts.",
		}, []string{"provider", "result"}),
		RetryEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "retry_enqueued_total",
			Help:      "Failed deliveries queued for retry.",
		}),
		RetryEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "retry_evicted_total",
			Help:      "Queued deliveries evicted because the queue was full.",
		}),
		RetryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "retry_exhausted_total",
			Help:      "Queued deliveries dropped after the last attempt.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracker",
			Name:      "retry_queue_length",
			Help:      "Entries waiting in the retry queue.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "sessions_expired_total",
			Help:      "Sessions cleared by the inactivity timer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsTracked,
			m.EventsDropped,
			m.ProviderSends,
			m.RetryEnqueued,
			m.RetryEvicted,
			m.RetryExhausted,
			m.QueueLength,
			m.SessionsExpired,
		)
	}
	return m
}
