package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTranslation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "test")
	require.NoError(t, err)

	m.ObserveTranslation("read", OutcomeOK, time.Millisecond)
	m.ObserveTranslation("read", OutcomeOK, time.Millisecond)
	m.ObserveTranslation("", OutcomeInvalid, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.translations.WithLabelValues("read", OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.translations.WithLabelValues("unknown", OutcomeInvalid)), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestObserveReload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "")
	require.NoError(t, err)

	m.ObserveReload(3)
	m.ObserveReload(5)

	assert.InDelta(t, 2, testutil.ToFloat64(m.reloads), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.entities), 0)
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg, "test")
	require.NoError(t, err)
	b, err := New(reg, "test")
	require.NoError(t, err)

	a.ObserveExecution(OutcomeOK)
	b.ObserveExecution(OutcomeOK)

	assert.InDelta(t, 2, testutil.ToFloat64(a.executions.WithLabelValues(OutcomeOK)), 0)
}

func TestNilMetrics(t *testing.T) {
	m, err := New(nil, "test")
	require.NoError(t, err)
	assert.Nil(t, m)

	// Must not panic.
	m.ObserveTranslation("read", OutcomeOK, time.Second)
	m.ObserveReload(1)
	m.ObserveExecution(OutcomeError)
}
