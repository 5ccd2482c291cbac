// Package metrics exposes prometheus counters for the pipeline's decision points.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	Generations        *prometheus.CounterVec
	ProviderFallbacks  prometheus.Counter
	SectionFailures    prometheus.Counter
	GovernorDenials    prometheus.Counter
	EntitlementDenials prometheus.Counter
	DeliveryDegraded   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planforge_generations_total",
			Help: "Generation requests by action and outcome.",
		}, []string{"action", "outcome"}),
		ProviderFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planforge_provider_fallbacks_total",
			Help: "Primary provider failures that triggered the secondary.",
		}),
		SectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planforge_section_failures_total",
			Help: "Pack sections replaced with a placeholder.",
		}),
		GovernorDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planforge_governor_denials_total",
			Help: "Provider calls rejected by the rate/cost governor.",
		}),
		EntitlementDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planforge_entitlement_denials_total",
			Help: "Requests rejected by the entitlement meter.",
		}),
		DeliveryDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planforge_delivery_degraded_total",
			Help: "Delivery steps that failed while content succeeded.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		m.Generations,
		m.ProviderFallbacks,
		m.SectionFailures,
		m.GovernorDenials,
		m.EntitlementDenials,
		m.DeliveryDegraded,
	)
	return m
}

func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

var Module = fx.Module("metrics",
	fx.Provide(NewDefault),
)
