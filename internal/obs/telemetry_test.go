package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cloudpayments/cloudpayments-go/internal/obs"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := obs.NewClientMetrics("test", reg)
	rec := obs.Recorder{Metrics: metrics, Log: zerolog.Nop()}

	rec.APIRequest("GET", "https://api.example/payments/publickey", true)
	rec.APIRequest("GET", "https://api.example/payments/publickey", true)
	rec.APIRequest("POST", "https://api.example/api/intent/pay", false)

	require.InDelta(t, 2, testutil.ToFloat64(metrics.APIRequests.WithLabelValues("GET", "ok")), 0.001)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.APIRequests.WithLabelValues("POST", "error")), 0.001)
}

func TestNewClientMetricsToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.NewClientMetrics("test", reg)
	require.NotPanics(t, func() { obs.NewClientMetrics("test", reg) })
}
