package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal_relay"

// Push results.
const (
	ResultDelivered = "delivered"
	ResultMalformed = "malformed"
)

// Remote message results.
const (
	RemoteBroadcast = "broadcast"
	RemoteSelf      = "self"
)

// Backplane operations.
const (
	OpPublish   = "publish"
	OpSubscribe = "subscribe"
)

// Relay holds the collectors for one relay instance.
type Relay struct {
	registry *prometheus.Registry

	Pushes          *prometheus.CounterVec
	Deliveries      prometheus.Counter
	RemoteMessages  *prometheus.CounterVec
	BackplaneErrors *prometheus.CounterVec
	Connections     *prometheus.GaugeVec
}

// NewRelay creates the relay collectors on a fresh registry that also carries the Go and
// process collectors.
func NewRelay() *Relay {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Relay{
		registry: reg,
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Pushed envelopes by result.",
		}, []string{"result"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Envelopes handed to client connections.",
		}),
		RemoteMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backplane_messages_total",
			Help:      "Backplane messages received by result.",
		}, []string{"result"}),
		BackplaneErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backplane_errors_total",
			Help:      "Backplane failures by operation.",
		}, []string{"op"}),
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live client connections by transport.",
		}, []string{"transport"}),
	}
}

// Handler serves the exposition format for this relay's registry.
func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}
