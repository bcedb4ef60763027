// Package metrics holds the Prometheus collectors of a translator.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for translations and executions.
const (
	OutcomeOK              = "ok"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeForbidden       = "forbidden"
	OutcomeInvalid         = "invalid"
	OutcomeError           = "error"
)

// Metrics records translation and execution counters.
type Metrics struct {
	translations *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	reloads      prometheus.Counter
	entities     prometheus.Gauge
	executions   *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// A collector that is already registered is reused, so two translators may
// share a registry.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	if namespace == "" {
		namespace = "quince"
	}

	m := &Metrics{
		translations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "translations_total",
				Help:      "Total number of root fields translated, by root kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "translation_duration_seconds",
				Help:      "Time spent decoding claims and composing a statement",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_reloads_total",
			Help:      "Total number of schema models swapped in",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schema_entities",
			Help:      "Number of concrete entities in the active schema model",
		}),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of statements run against the database, by outcome",
			},
			[]string{"outcome"},
		),
	}

	var err error
	if m.translations, err = register(reg, m.translations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.reloads, err = register(reg, m.reloads); err != nil {
		return nil, err
	}
	if m.entities, err = register(reg, m.entities); err != nil {
		return nil, err
	}
	if m.executions, err = register(reg, m.executions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveTranslation records one translated root field.
func (m *Metrics) ObserveTranslation(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.translations.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveReload records a schema swap.
func (m *Metrics) ObserveReload(entities int) {
	if m == nil {
		return
	}
	m.reloads.Inc()
	m.entities.Set(float64(entities))
}

// ObserveExecution records one statement run.
func (m *Metrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}
