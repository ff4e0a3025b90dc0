package authcore

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/siku-platform/authcore/audit"
)

// metrics holds the engine's Prometheus instruments on a dedicated registry
// so embedding applications never collide with the global one.
type metrics struct {
	registry *prometheus.Registry

	tokenValidations *prometheus.CounterVec
	codesIssued      *prometheus.CounterVec
	rateLimitedSends prometheus.Counter
}

const (
	validationOK      = "ok"
	validationExpired = "expired"
	validationInvalid = "invalid"
)

func newMetrics(recorder *audit.Recorder) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "token_validations_total",
			Help:      "Access token validations by outcome.",
		}, []string{"result"}),
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "verification_codes_issued_total",
			Help:      "One-time verification codes dispatched by channel.",
		}, []string{"channel"}),
		rateLimitedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "verification_rate_limited_total",
			Help:      "Code sends rejected by cooldown or daily cap.",
		}),
	}

	m.registry.MustRegister(m.tokenValidations, m.codesIssued, m.rateLimitedSends)
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "authcore",
		Name:      "audit_events_recorded",
		Help:      "Audit events accepted by the recorder.",
	}, func() float64 { return float64(recorder.Recorded()) }))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "authcore",
		Name:      "audit_events_dropped",
		Help:      "Audit events discarded on a full buffer.",
	}, func() float64 { return float64(recorder.Dropped()) }))

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
