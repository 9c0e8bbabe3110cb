// Package metrics provides the bus's Prometheus collectors. Unlike
// buckley's pkg/ipc/metrics.go (which registers promauto globals at
// package init), collectors here are built per Bus against a caller-
// supplied prometheus.Registerer, so more than one Bus can exist in the
// same process (or test binary) without a duplicate-registration panic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors holds the bus's Prometheus metrics.
type Collectors struct {
	PublishedTotal      prometheus.Counter
	DroppedTotal        *prometheus.CounterVec
	SubscriptionsActive prometheus.Gauge
	EndpointsActive     prometheus.Gauge
	RepliesTotal        *prometheus.CounterVec
}

// New registers the bus's collectors against reg and returns them. A nil
// reg yields collectors that are never registered anywhere (useful when
// the caller does not want Prometheus wiring at all); they still work as
// plain in-memory counters.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshbus",
			Name:      "messages_published_total",
			Help:      "Total messages accepted by Publish/Retain, counted once per publish regardless of subscriber count.",
		}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbus",
			Name:      "messages_dropped_total",
			Help:      "Messages lost to a mailbox's full-policy, labeled by policy.",
		}, []string{"policy"}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshbus",
			Name:      "subscriptions_active",
			Help:      "Currently open subscriptions across all connections.",
		}),
		EndpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshbus",
			Name:      "endpoints_active",
			Help:      "Currently bound endpoints across all connections.",
		}),
		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbus",
			Name:      "replies_total",
			Help:      "Outcomes of Connection.Call, labeled by outcome (ok, timeout, cancelled, error).",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(c.PublishedTotal, c.DroppedTotal, c.SubscriptionsActive, c.EndpointsActive, c.RepliesTotal)
	}

	return c
}
