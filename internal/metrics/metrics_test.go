package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveStage("narrative", 120*time.Millisecond)
	m.ProviderCall("narrative", nil)
	m.ProviderCall("narrative", errors.New("timeout"))
	m.Fallback("questions")
	m.EvidenceStrategy("skeleton")
	m.StoryPromoted("STAR", "firefighter")
	m.StoryPromoted("STAR", "firefighter")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("narrative", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("questions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.promoted.WithLabelValues("STAR", "firefighter")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetricsReuseRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.Fallback("narrative")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.fallbacks.WithLabelValues("narrative")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("x", time.Second)
		m.ProviderCall("x", nil)
		m.Fallback("x")
		m.EvidenceStrategy("x")
		m.StoryPromoted("x", "y")
	})
}
