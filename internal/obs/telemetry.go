package obs

import (
	"github.com/rs/zerolog"
)

// Recorder feeds API exchange records into metrics and the structured log. It
// satisfies the intent client's Telemetry interface.
type Recorder struct {
	Metrics *ClientMetrics
	Log     zerolog.Logger
}

// APIRequest records one payment API exchange.
func (r Recorder) APIRequest(method, url string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	if r.Metrics != nil {
		r.Metrics.APIRequests.WithLabelValues(method, outcome).Inc()
	}
	r.Log.Trace().Str("method", method).Str("url", url).Str("outcome", outcome).Msg("api exchange")
}

// PollingObserver mirrors scheduler lifecycle events into the polling
// collectors. It satisfies the polling Observer interface.
type PollingObserver struct {
	Metrics *ClientMetrics
}

func (o PollingObserver) SessionStarted(string) {
	if o.Metrics != nil {
		o.Metrics.PollingActive.Inc()
	}
}

func (o PollingObserver) SessionStopped(string) {
	if o.Metrics != nil {
		o.Metrics.PollingActive.Dec()
	}
}

func (o PollingObserver) BudgetExhausted(string) {
	if o.Metrics != nil {
		o.Metrics.PollingBudgets.Inc()
	}
}
