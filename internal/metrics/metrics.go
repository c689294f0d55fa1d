// Package metrics declares the prometheus collectors the Pod Manager
// publishes: how many pods are currently under supervision and how often
// each daemon's failure paths fire.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "acm"

// Collectors bundles the gauges and counters the process registers once at
// startup and every package reaches into by reference.
type Collectors struct {
	prometheus.Collector

	ManagedPods      prometheus.Gauge
	WatchErrors      *prometheus.CounterVec
	HealthCheckFails *prometheus.CounterVec
	GCDeletes        *prometheus.CounterVec
	Deploys          prometheus.Counter
}

// New constructs the collector set. Callers register it with a
// prometheus.Registerer (or prometheus.MustRegister for the default one).
func New() *Collectors {
	return &Collectors{
		ManagedPods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_pods",
			Help:      "Number of pods currently under Pod Manager supervision.",
		}),
		WatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Cumulative count of Kubernetes watch-stream errors observed by the Event Watcher.",
		}, []string{"pod"}),
		HealthCheckFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_check_failures_total",
			Help:      "Cumulative count of failed gRPC health probes.",
		}, []string{"pod", "kind"}),
		GCDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_deletes_total",
			Help:      "Cumulative count of pod deletes issued by the Garbage Collector or an explicit /delete request, by reason.",
		}, []string{"reason"}),
		Deploys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Cumulative count of successful /deploy requests.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collectors) Describe(ch chan<- *prometheus.Desc) {
	c.ManagedPods.Describe(ch)
	c.WatchErrors.Describe(ch)
	c.HealthCheckFails.Describe(ch)
	c.GCDeletes.Describe(ch)
	c.Deploys.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collectors) Collect(ch chan<- prometheus.Metric) {
	c.ManagedPods.Collect(ch)
	c.WatchErrors.Collect(ch)
	c.HealthCheckFails.Collect(ch)
	c.GCDeletes.Collect(ch)
	c.Deploys.Collect(ch)
}
