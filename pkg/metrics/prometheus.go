package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "purchasegate"

type PrometheusRecorder struct {
	verifications *prometheus.CounterVec
	resolve       *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the collectors on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	verifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Purchase verifications by outcome and wallet classification",
		},
		[]string{"outcome", "classification"},
	)

	resolve := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_seconds",
			Help:      "Time spent resolving a transaction, retries included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
		},
		[]string{"result"},
	)

	for _, c := range []prometheus.Collector{verifications, resolve} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PrometheusRecorder{
		verifications: verifications,
		resolve:       resolve,
	}, nil
}

func (p *PrometheusRecorder) RecordVerification(outcome, classification string) {
	if classification == "" {
		classification = "none"
	}
	p.verifications.With(prometheus.Labels{
		"outcome":        outcome,
		"classification": classification,
	}).Inc()
}

func (p *PrometheusRecorder) ObserveResolve(result string, d time.Duration) {
	p.resolve.With(prometheus.Labels{
		"result": result,
	}).Observe(d.Seconds())
}
