package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chloezql/breakingnews-sub001/domain"
	"github.com/chloezql/breakingnews-sub001/hub"
)

const namespace = "breakingnews_relay"

type Metrics struct {
	registry   *prometheus.Registry
	accepted   prometheus.Counter
	scans      prometheus.Counter
	deliveries *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	panics     prometheus.Counter
}

func newMetrics(reg *hub.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Websocket connections accepted since start.",
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Card scans accepted and fanned out.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-viewer scan deliveries by result.",
		}, []string{"result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages discarded, by reason.",
		}, []string{"reason"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Events whose handling panicked and was dropped.",
		}),
	}

	m.registry.MustRegister(
		m.accepted,
		m.scans,
		m.deliveries,
		m.rejected,
		m.panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, role := range []domain.Role{domain.RoleUnclassified, domain.RoleScanner, domain.RoleViewer} {
		role := role
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections",
			Help:        "Live connections by role.",
			ConstLabels: prometheus.Labels{"role": string(role)},
		}, func() float64 {
			return float64(reg.CountByRole()[role])
		}))
	}

	return m
}
