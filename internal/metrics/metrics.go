package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnreachable = "unreachable"
	OutcomeMalformed   = "malformed"
	OutcomeDiscarded   = "discarded"
)

var (
	generationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "charbot_generation_seconds",
		Help:    "Seconds spent waiting on the generation backend",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
	}, []string{"outcome"})

	generationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "charbot_generation_total",
		Help: "Generation requests by outcome",
	}, []string{"outcome"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "charbot_deliveries_total",
		Help: "Replies posted through channel identities",
	}, []string{"result"})

	bindingsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "charbot_bindings",
		Help: "Channels with an invited persona",
	})
)

// ObserveGeneration records one backend call.
func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	generationTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelivery records a reply delivery attempt.
func ObserveDelivery(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	deliveriesTotal.WithLabelValues(result).Inc()
}

// SetBindings records the current number of bound channels.
func SetBindings(n int) {
	bindingsGauge.Set(float64(n))
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
