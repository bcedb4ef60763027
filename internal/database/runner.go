package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pthm/quince"
	"github.com/pthm/quince/internal/metrics"
	"github.com/pthm/quince/schema"
)

// Runner executes translation results and shapes the returned rows into
// the response value of the root field.
type Runner struct {
	svc     Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics records execution outcomes.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner returns a Runner over svc.
func NewRunner(svc Service, opts ...RunnerOption) *Runner {
	r := &Runner{svc: svc}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Run executes res. Reads are routed to readers and mutations to writers.
// A guard failing in the database is reported as quince.ErrForbidden.
//
// The response is a list for reads, a single value for connections and
// aggregations, the "data" column for mutations and nil for deletes.
func (r *Runner) Run(ctx context.Context, res *quince.Result) (any, error) {
	start := time.Now()
	exec := r.svc.ExecuteWriteQuery
	if isRead(res.Kind) {
		exec = r.svc.ExecuteReadQuery
	}
	records, err := exec(ctx, res.Cypher, res.Params, res.Session)
	if err != nil {
		err = mapError(err)
		r.metrics.ObserveExecution(outcome(err))
		r.logger.Debug("statement failed", "field", res.Key, "kind", res.Kind.String(), "error", err)
		return nil, err
	}
	r.metrics.ObserveExecution(metrics.OutcomeOK)
	r.logger.Debug("statement executed",
		"field", res.Key,
		"kind", res.Kind.String(),
		"records", len(records),
		"database", r.svc.GetDatabaseName(),
		"elapsed", time.Since(start),
	)
	return shape(res, records)
}

func isRead(k schema.RootKind) bool {
	return k == schema.RootRead || k == schema.RootConnection || k == schema.RootAggregate
}

func shape(res *quince.Result, records []*neo4j.Record) (any, error) {
	if res.Column == "" {
		return nil, nil
	}
	if res.Kind == schema.RootRead {
		out := make([]any, 0, len(records))
		for _, rec := range records {
			v, ok := rec.Get(res.Column)
			if !ok {
				return nil, fmt.Errorf("database: record has no column %s", res.Column)
			}
			out = append(out, v)
		}
		return out, nil
	}
	if len(records) == 0 {
		return nil, nil
	}
	v, ok := records[0].Get(res.Column)
	if !ok {
		return nil, fmt.Errorf("database: record has no column %s", res.Column)
	}
	return v, nil
}

// mapError turns a failed guard into quince.ErrForbidden.
func mapError(err error) error {
	if strings.Contains(err.Error(), quince.ForbiddenMessage) {
		return fmt.Errorf("%w: %v", quince.ErrForbidden, err)
	}
	return err
}

func outcome(err error) string {
	if quince.IsForbiddenErr(err) {
		return metrics.OutcomeForbidden
	}
	return metrics.OutcomeError
}
