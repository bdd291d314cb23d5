// Package metrics exposes pool occupancy, task outcomes and the snapshot
// version as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neboloop/browserpool/internal/browser"
)

const namespace = "browserpool"

// Task results used as the "result" label.
const (
	ResultOK     = "ok"
	ResultBusy   = "busy"
	ResultLocked = "locked"
	ResultError  = "error"
)

// TypeInvalid labels tasks whose requested profile type was not recognized.
const TypeInvalid = "invalid"

// Sources are read on every scrape.
type Sources struct {
	// Stats returns the stats of every pool.
	Stats func() []browser.Stats
	// SnapshotVersion returns the current snapshot version of the master
	// profile. Nil omits the gauge.
	SnapshotVersion func() (int64, error)
}

// Metrics owns a registry with the browserpool collectors.
type Metrics struct {
	registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	recycled     prometheus.Counter
}

// New creates the metrics and registers them on a fresh registry.
func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "total",
				Help:      "Tasks executed, by profile type and result.",
			},
			[]string{"profile_type", "result"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "duration_seconds",
				Help:      "Task duration including queueing, in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"profile_type"},
		),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "recycled_workers_total",
			Help:      "Idle workers disposed by recycling.",
		}),
	}

	m.registry.MustRegister(m.tasks, m.taskDuration, m.recycled)
	if src.Stats != nil {
		m.registry.MustRegister(newPoolCollector(src.Stats))
	}
	if src.SnapshotVersion != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "snapshot",
				Name:      "version",
				Help:      "Current snapshot version of the master profile.",
			},
			func() float64 {
				v, err := src.SnapshotVersion()
				if err != nil {
					return -1
				}
				return float64(v)
			},
		))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTask records one task outcome. profileType is the value the caller
// asked for; anything ParseProfileType rejects is counted as "invalid".
func (m *Metrics) ObserveTask(profileType string, start time.Time, err error) {
	label := TypeLabel(profileType)
	m.tasks.WithLabelValues(label, Result(err)).Inc()
	m.taskDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// TypeLabel maps a requested profile type to a bounded label value.
func TypeLabel(profileType string) string {
	pt, err := browser.ParseProfileType(profileType)
	if err != nil {
		return TypeInvalid
	}
	return string(pt)
}

// ObserveRecycle records disposed idle workers.
func (m *Metrics) ObserveRecycle(n int) {
	if n > 0 {
		m.recycled.Add(float64(n))
	}
}

// Result maps a task error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case browser.IsBusy(err):
		return ResultBusy
	case browser.IsLocked(err):
		return ResultLocked
	default:
		return ResultError
	}
}

// poolCollector turns pool stats into gauges at scrape time.
type poolCollector struct {
	stats func() []browser.Stats

	active *prometheus.Desc
	idle   *prometheus.Desc
	live   *prometheus.Desc
	max    *prometheus.Desc
}

func newPoolCollector(stats func() []browser.Stats) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &poolCollector{
		stats:  stats,
		active: desc("active_workers", "Worker slots in use, including workers being started."),
		idle:   desc("idle_workers", "Workers waiting for a task."),
		live:   desc("live_workers", "Workers with a running browser."),
		max:    desc("max_workers", "Configured worker limit."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.idle
	ch <- c.live
	ch <- c.max
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active), s.Name)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), s.Name)
		ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.Live), s.Name)
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max), s.Name)
	}
}
