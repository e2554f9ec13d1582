package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
)

// Operation names used as metric labels and in logs.
const (
	OpInformPrevious = "inform_previous"
	OpInformCurrent  = "inform_current"
	OpStart          = "start"
	OpStop           = "stop"
)

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	reaped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them, together with a
// per-state task gauge read from reg at scrape time, on r.
func NewMetrics(r prometheus.Registerer, reg *registry.Registry) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagecoord",
			Name:      "requests_total",
			Help:      "Coordinator operations by outcome status code.",
		}, []string{"operation", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stagecoord",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling coordinator operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagecoord",
			Name:      "tasks_reaped_total",
			Help:      "Stopped tasks removed by housekeeping.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.reaped, &taskCollector{reg: reg}} {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Requests returns the request counter for op and code.
func (m *Metrics) Requests(op string, code int32) prometheus.Counter {
	return m.requests.WithLabelValues(op, protocol.StatusText(code))
}

func (m *Metrics) observe(op string, code int32, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests(op, code).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveReaped counts tasks removed by housekeeping. It has the signature of
// RunReaper's onReap callback.
func (m *Metrics) ObserveReaped(ids []string) {
	if m == nil {
		return
	}
	m.reaped.Add(float64(len(ids)))
}

var tasksDesc = prometheus.NewDesc(
	"stagecoord_tasks",
	"Tasks currently held by the registry, by lifecycle state.",
	[]string{"state"}, nil,
)

// taskCollector reports registry counts at scrape time.
type taskCollector struct {
	reg *registry.Registry
}

func (c *taskCollector) Describe(ch chan<- *prometheus.Desc) { ch <- tasksDesc }

func (c *taskCollector) Collect(ch chan<- prometheus.Metric) {
	for state, n := range c.reg.Counts() {
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.GaugeValue, float64(n), state.String())
	}
}
