package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pthm/quince"
	"github.com/pthm/quince/internal/database"
	"github.com/pthm/quince/internal/database/mocks"
	"github.com/pthm/quince/internal/metrics"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/schema"
)

func record(key string, v any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{key}, Values: []any{v}}
}

func TestRunRead(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().GetDatabaseName().Return("neo4j").AnyTimes()

	res := &quince.Result{
		Key:     "movies",
		Cypher:  "MATCH (this:Movie) RETURN this { .title } AS this",
		Params:  map[string]any{},
		Column:  "this",
		Kind:    schema.RootRead,
		Session: authn.Session{Database: "movies"},
	}
	svc.EXPECT().
		ExecuteReadQuery(gomock.Any(), res.Cypher, res.Params, authn.Session{Database: "movies"}).
		Return([]*neo4j.Record{
			record("this", map[string]any{"title": "Alien"}),
			record("this", map[string]any{"title": "Aliens"}),
		}, nil)

	out, err := database.NewRunner(svc).Run(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"title": "Alien"},
		map[string]any{"title": "Aliens"},
	}, out)
}

func TestRunShapes(t *testing.T) {
	tests := []struct {
		name    string
		kind    schema.RootKind
		column  string
		records []*neo4j.Record
		want    any
	}{
		{
			name:    "aggregate",
			kind:    schema.RootAggregate,
			column:  "this",
			records: []*neo4j.Record{record("this", map[string]any{"count": int64(2)})},
			want:    map[string]any{"count": int64(2)},
		},
		{
			name:    "create",
			kind:    schema.RootCreate,
			column:  "data",
			records: []*neo4j.Record{record("data", []any{map[string]any{"name": "Ann"}})},
			want:    []any{map[string]any{"name": "Ann"}},
		},
		{
			name:    "update without rows",
			kind:    schema.RootUpdate,
			column:  "data",
			records: nil,
			want:    nil,
		},
		{
			name:    "delete",
			kind:    schema.RootDelete,
			records: nil,
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svc := mocks.NewMockService(ctrl)
			svc.EXPECT().GetDatabaseName().Return("").AnyTimes()

			if tt.kind == schema.RootAggregate {
				svc.EXPECT().ExecuteReadQuery(gomock.Any(), "RETURN 1", gomock.Any(), gomock.Any()).Return(tt.records, nil)
			} else {
				svc.EXPECT().ExecuteWriteQuery(gomock.Any(), "RETURN 1", gomock.Any(), gomock.Any()).Return(tt.records, nil)
			}

			out, err := database.NewRunner(svc).Run(context.Background(), &quince.Result{
				Cypher: "RETURN 1",
				Column: tt.column,
				Kind:   tt.kind,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRunMissingColumn(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().GetDatabaseName().Return("").AnyTimes()
	svc.EXPECT().
		ExecuteReadQuery(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]*neo4j.Record{record("other", 1)}, nil)

	_, err := database.NewRunner(svc).Run(context.Background(), &quince.Result{Column: "this", Kind: schema.RootRead})
	assert.Error(t, err)
}

func TestRunMapsForbidden(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "test")
	require.NoError(t, err)

	svc.EXPECT().
		ExecuteWriteQuery(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &neo4j.Neo4jError{
			Code: "Neo.ClientError.Procedure.ProcedureCallFailed",
			Msg:  "Failed to invoke procedure `apoc.util.validate`: Caused by: java.lang.RuntimeException: " + quince.ForbiddenMessage,
		})
	svc.EXPECT().
		ExecuteWriteQuery(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset"))

	runner := database.NewRunner(svc, database.WithMetrics(m))
	res := &quince.Result{Cypher: "CREATE (n)", Column: "data", Kind: schema.RootCreate}

	_, err = runner.Run(context.Background(), res)
	assert.True(t, quince.IsForbiddenErr(err))

	_, err = runner.Run(context.Background(), res)
	require.Error(t, err)
	assert.False(t, quince.IsForbiddenErr(err))

	count, err := testutil.GatherAndCount(reg, "test_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
