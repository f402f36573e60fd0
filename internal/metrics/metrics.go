// Package metrics exports promotion pipeline telemetry to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "careerline"

type Metrics struct {
	stageDuration *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	evidence      *prometheus.CounterVec
	promoted      *prometheus.CounterVec
}

// New registers the pipeline collectors on reg (the default registerer when
// nil). Collectors already registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of promotion pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Text generation provider calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Times a component used its local fallback.",
		}, []string{"component"}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_bindings_total",
			Help:      "Evidence reconciliation strategy used per story.",
		}, []string{"strategy"}),
		promoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_promoted_total",
			Help:      "Career stories persisted, by framework and archetype.",
		}, []string{"framework", "archetype"}),
	}
	var err error
	if m.stageDuration, err = register(reg, m.stageDuration); err != nil {
		return nil, err
	}
	if m.providerCalls, err = register(reg, m.providerCalls); err != nil {
		return nil, err
	}
	if m.fallbacks, err = register(reg, m.fallbacks); err != nil {
		return nil, err
	}
	if m.evidence, err = register(reg, m.evidence); err != nil {
		return nil, err
	}
	if m.promoted, err = register(reg, m.promoted); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ProviderCall counts a provider attempt; outcome is "ok" or "error".
func (m *Metrics) ProviderCall(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Fallback(component string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(component).Inc()
}

func (m *Metrics) EvidenceStrategy(strategy string) {
	if m == nil {
		return
	}
	m.evidence.WithLabelValues(strategy).Inc()
}

func (m *Metrics) StoryPromoted(framework, archetype string) {
	if m == nil {
		return
	}
	m.promoted.WithLabelValues(framework, archetype).Inc()
}
