package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/inferrecovery"
)

// PromMeter exports recovery events as Prometheus metrics.
type PromMeter struct {
	decisions *prometheus.CounterVec
	delay     *prometheus.HistogramVec
	throttled prometheus.Counter
}

var _ inferrecovery.Meter = (*PromMeter)(nil)

// NewPromMeter registers the recovery metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromMeter{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inferrecovery_decisions_total",
				Help: "Total number of recovery decisions",
			},
			[]string{"kind", "action"},
		),
		delay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inferrecovery_retry_delay_seconds",
				Help:    "Retry delay handed to callers in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"kind"},
		),
		throttled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inferrecovery_throttled_total",
				Help: "Total number of throttled rate limiter checks",
			},
		),
	}
}

func (m *PromMeter) OnDecision(e inferrecovery.DecisionEvent) {
	m.decisions.WithLabelValues(string(e.Kind), string(e.Action)).Inc()
	if e.Action == inferrecovery.ActionRetry {
		m.delay.WithLabelValues(string(e.Kind)).Observe(e.Delay.Seconds())
	}
}

func (m *PromMeter) OnThrottle(inferrecovery.ThrottleEvent) {
	m.throttled.Inc()
}

// Decisions returns the decision counter, labelled by kind and action.
func (m *PromMeter) Decisions() *prometheus.CounterVec { return m.decisions }

// Delay returns the retry delay histogram, labelled by kind.
func (m *PromMeter) Delay() *prometheus.HistogramVec { return m.delay }

// Throttled returns the throttle counter.
func (m *PromMeter) Throttled() prometheus.Counter { return m.throttled }
