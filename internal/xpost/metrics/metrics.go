// Package metrics records publish outcomes in a private Prometheus registry.
package metrics

import (
	"errors"

	"github.com/blacktop/crosspost/internal/xpost"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector observes dispatch results.
type Collector struct {
	reg      *prometheus.Registry
	results  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector registers the publish metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_publish_results_total",
			Help: "Publish attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crosspost_publish_failures_total",
			Help: "Failed publishes by provider and error kind.",
		}, []string{"provider", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crosspost_publish_duration_seconds",
			Help:    "Time spent publishing to one account.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	c.reg.MustRegister(c.results, c.failures, c.duration)

	return c
}

// Observe implements dispatch.Observer.
func (c *Collector) Observe(res xpost.PublishResult) {
	provider := string(res.Account.Provider)

	outcome := OutcomeSuccess
	if !res.OK() {
		outcome = OutcomeFailure
		c.failures.WithLabelValues(provider, kindOf(res.Err)).Inc()
	}
	c.results.WithLabelValues(provider, outcome).Inc()
	c.duration.WithLabelValues(provider).Observe(res.Duration.Seconds())
}

// Gatherer exposes the registry.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.reg }

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}

func kindOf(err error) string {
	var xe xpost.Error
	if errors.As(err, &xe) && xe.Kind != "" {
		return string(xe.Kind)
	}
	return "other"
}
