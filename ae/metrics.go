package ae

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 事件循环的运行指标，nil 时所有记录操作为空操作
type Metrics struct {
	Iterations      prometheus.Counter
	FileEventsFired prometheus.Counter
	TimeEventsFired prometheus.Counter
	PollWaitSeconds prometheus.Histogram
	RegisteredFds   prometheus.Gauge
	TimeEvents      prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ae_iterations_total",
			Help:      "event loop iterations",
		}),
		FileEventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ae_file_events_fired_total",
			Help:      "descriptors whose callbacks fired",
		}),
		TimeEventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ae_time_events_fired_total",
			Help:      "time event callbacks fired",
		}),
		PollWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ae_poll_wait_seconds",
			Help:      "time spent blocked in the poll backend",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		RegisteredFds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ae_registered_fds",
			Help:      "descriptors with a non-empty mask",
		}),
		TimeEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ae_time_events",
			Help:      "pending time events",
		}),
	}
}

func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.Iterations,
		m.FileEventsFired,
		m.TimeEventsFired,
		m.PollWaitSeconds,
		m.RegisteredFds,
		m.TimeEvents,
	)
}

func (m *Metrics) iteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}

func (m *Metrics) observeWait(d time.Duration) {
	if m != nil {
		m.PollWaitSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) fileEventsFired(n int) {
	if m != nil && n > 0 {
		m.FileEventsFired.Add(float64(n))
	}
}

func (m *Metrics) timeEventFired() {
	if m != nil {
		m.TimeEventsFired.Inc()
	}
}

func (m *Metrics) fdRegistered() {
	if m != nil {
		m.RegisteredFds.Inc()
	}
}

func (m *Metrics) fdUnregistered() {
	if m != nil {
		m.RegisteredFds.Dec()
	}
}

func (m *Metrics) setTimeEvents(n int) {
	if m != nil {
		m.TimeEvents.Set(float64(n))
	}
}
