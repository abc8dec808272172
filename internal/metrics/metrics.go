// ABOUTME: Prometheus metrics for the router, fed from the events stream
// ABOUTME: Uses its own registry so tests and multiple routers never collide

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-router/internal/events"
)

// Activity results used as the "result" label.
const (
	ResultHandled = "handled"
	ResultDropped = "dropped"
	ResultFailed  = "failed"
)

// Refresh results used as the "result" label.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
)

// Metrics holds all Prometheus metrics for the router.
type Metrics struct {
	registry *prometheus.Registry

	ConversationsLive    prometheus.Gauge
	ConversationsCreated prometheus.Counter
	ConversationsRemoved prometheus.Counter
	Activities           *prometheus.CounterVec
	CredentialRefresh    *prometheus.CounterVec
	CredentialExpiry     prometheus.Gauge
	RouterState          *prometheus.GaugeVec
}

// New creates and registers the router metrics on a fresh registry. When
// withRuntime is set the Go runtime and process collectors are added too.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConversationsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coven_router_conversations_live",
			Help: "Number of live conversations held by the router",
		}),
		ConversationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "coven_router_conversations_created_total",
			Help: "Total number of conversations created",
		}),
		ConversationsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "coven_router_conversations_removed_total",
			Help: "Total number of conversations removed",
		}),
		Activities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_router_activities_total",
				Help: "Total number of activities routed, by result",
			},
			[]string{"result"},
		),
		CredentialRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_router_credential_refresh_total",
				Help: "Total number of credential refresh attempts, by result",
			},
			[]string{"result"},
		),
		CredentialExpiry: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coven_router_credential_expiry_timestamp_seconds",
			Help: "Unix time at which the current channel credential expires (0 if unknown)",
		}),
		RouterState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coven_router_state",
				Help: "Router lifecycle state (1 for the current state, 0 otherwise)",
			},
			[]string{"state"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Record implements events.Sink.
func (m *Metrics) Record(e events.Event) {
	switch e.Kind {
	case events.ConversationCreated:
		m.ConversationsCreated.Inc()
		m.ConversationsLive.Set(float64(e.Live))
	case events.ConversationRemoved:
		m.ConversationsRemoved.Inc()
		m.ConversationsLive.Set(float64(e.Live))
	case events.ActivityHandled:
		m.Activities.WithLabelValues(ResultHandled).Inc()
	case events.ActivityDropped:
		m.Activities.WithLabelValues(ResultDropped).Inc()
	case events.ActivityFailed:
		m.Activities.WithLabelValues(ResultFailed).Inc()
	case events.CredentialRefreshed:
		m.CredentialRefresh.WithLabelValues(RefreshSuccess).Inc()
		if e.ExpiresAt.IsZero() {
			m.CredentialExpiry.Set(0)
		} else {
			m.CredentialExpiry.Set(float64(e.ExpiresAt.Unix()))
		}
	case events.CredentialRefreshError:
		m.CredentialRefresh.WithLabelValues(RefreshFailure).Inc()
	case events.RouterStateChanged:
		m.RouterState.Reset()
		m.RouterState.WithLabelValues(e.Detail).Set(1)
	}
}
