package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plant-twin/twinsim/sim"
)

const metricsNamespace = "twinsim"

// Metrics holds the Prometheus collectors a Server reports to. A nil *Metrics
// records nothing.
type Metrics struct {
	stepDuration prometheus.Histogram
	stepErrors   prometheus.Counter
	overruns     prometheus.Counter
	ticks        prometheus.Gauge
	requests     *prometheus.CounterVec
	outOfOrder   prometheus.Counter
	queueDepth   prometheus.Gauge
}

// NewMetrics creates the server collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "step_duration_seconds",
			Help:      "Time spent in one simulator step",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		}),
		stepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "step_errors_total",
			Help:      "Total number of ticks in which at least one object failed to step",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "tick_overruns_total",
			Help:      "Total number of ticks whose step consumed the whole tick interval",
		}),
		ticks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "tick",
			Help:      "Current simulator tick",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of handled requests",
		}, []string{"op", "result"}),
		outOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "responses_out_of_order_total",
			Help:      "Total number of responses that did not carry the next expected id",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "queue_depth",
			Help:      "Number of requests waiting in the inbound queue",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.stepDuration, m.stepErrors, m.overruns, m.ticks, m.requests, m.outOfOrder, m.queueDepth,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeStep(tick int64, d time.Duration, err error, overrun bool) {
	if m == nil {
		return
	}
	m.stepDuration.Observe(d.Seconds())
	m.ticks.Set(float64(tick))
	if err != nil {
		m.stepErrors.Inc()
	}
	if overrun {
		m.overruns.Inc()
	}
}

func (m *Metrics) observeRequest(op Op, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(sim.KindOf(err))
	}
	m.requests.WithLabelValues(string(op), result).Inc()
}

func (m *Metrics) observeQueue(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) observeOutOfOrder() {
	if m == nil {
		return
	}
	m.outOfOrder.Inc()
}
