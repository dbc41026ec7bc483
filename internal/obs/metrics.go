package obs

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics groups Prometheus collectors for outbound payment API calls
// and redirect-rail polling.
type ClientMetrics struct {
	APIRequests    *prometheus.CounterVec
	PollingActive  prometheus.Gauge
	PollingBudgets prometheus.Counter
}

// NewClientMetrics registers and returns the SDK metric collectors.
func NewClientMetrics(namespace string, reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ClientMetrics{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of payment API requests, by method and outcome.",
		}, []string{"method", "outcome"}),
		PollingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polling_sessions_active",
			Help:      "Current number of active transaction polling sessions.",
		}),
		PollingBudgets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polling_budget_exhausted_total",
			Help:      "Polling sessions stopped by the tick budget.",
		}),
	}
	mustRegister(reg, m.APIRequests)
	mustRegister(reg, m.PollingActive)
	mustRegister(reg, m.PollingBudgets)
	return m
}

func mustRegister(reg prometheus.Registerer, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
