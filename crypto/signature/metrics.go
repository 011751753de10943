package signature

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsResultOk      = "ok"
	metricsResultFailure = "failure"
)

var (
	signRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oasis_kms_sign_requests_total",
			Help: "Number of signing requests by provider and result.",
		},
		[]string{"provider", "result"},
	)
	signDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "oasis_kms_sign_duration_seconds",
			Help:       "Time spent in the signing backend.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"provider"},
	)

	signerCollectors = []prometheus.Collector{
		signRequests,
		signDuration,
	}

	metricsOnce sync.Once
)

// RegisterMetrics registers the signer metrics with the given registerer. Only the first call
// has any effect.
func RegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(signerCollectors...)
	})
}

func observeSign(provider Provider, start time.Time, err error) {
	result := metricsResultOk
	if err != nil {
		result = metricsResultFailure
	}
	signRequests.WithLabelValues(provider.String(), result).Inc()
	signDuration.WithLabelValues(provider.String()).Observe(time.Since(start).Seconds())
}
