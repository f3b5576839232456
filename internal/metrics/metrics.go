// Package metrics exposes the bridge's Prometheus collectors and a
// lightweight liveness endpoint, one registry per instance.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instance holds one stratum instance's collectors, registered against a
// private registry so multiple instances never collide on a shared default
// registry.
type Instance struct {
	registry *prometheus.Registry

	SharesAccepted  *prometheus.CounterVec
	SharesRejected  *prometheus.CounterVec
	BlocksFound     prometheus.Counter
	BlocksAccepted  prometheus.Counter
	CurrentDiff     *prometheus.GaugeVec
	EstHashrate     *prometheus.GaugeVec
	ConnectedMiners *prometheus.GaugeVec
	JobAgeSeconds   prometheus.Gauge
}

// NewInstance builds and registers collectors labeled with instanceName.
func NewInstance(instanceName string) *Instance {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"instance": instanceName}

	return &Instance{
		registry: reg,
		SharesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "shares_accepted_total",
			Help:        "Shares accepted by the validator.",
			ConstLabels: constLabels,
		}, []string{"worker"}),
		SharesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "shares_rejected_total",
			Help:        "Shares rejected by the validator.",
			ConstLabels: constLabels,
		}, []string{"worker", "reason"}),
		BlocksFound: factory.NewCounter(prometheus.CounterOpts{
			Name:        "blocks_found_total",
			Help:        "Shares that met the network target.",
			ConstLabels: constLabels,
		}),
		BlocksAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "blocks_accepted_total",
			Help:        "Blocks the node confirmed as accepted.",
			ConstLabels: constLabels,
		}),
		CurrentDiff: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "current_difficulty",
			Help: "Current per-worker share difficulty.",
		}, []string{"worker"}),
		EstHashrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "estimated_hashrate",
			Help: "Estimated per-worker hashrate in H/s.",
		}, []string{"worker"}),
		ConnectedMiners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connected_miners",
			Help: "Currently connected sessions by detected family.",
		}, []string{"family"}),
		JobAgeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "job_age_seconds",
			Help:        "Age of the latest published job.",
			ConstLabels: constLabels,
		}),
	}
}

// Handler returns the HTTP handler serving this instance's registry in
// Prometheus text exposition format.
func (i *Instance) Handler() http.Handler {
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// NewServeMux builds the instance's metrics/healthz mux.
func (i *Instance) NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", i.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
