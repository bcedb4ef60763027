// Package testutil provides shared test utilities for quince integration tests.
package testutil

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"

	"github.com/pthm/quince"
	"github.com/pthm/quince/internal/database"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
)

//go:embed testdata/schema.graphql
var schemaSDL string

const password = "quince-test"

// Singleton container state
var (
	singletonOnce sync.Once
	singletonURI  string
	singletonErr  error
)

// ensureSingleton lazily starts the Neo4j container, with APOC installed
// for the authorization guards. Safe for concurrent access via sync.Once.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		ctx := context.Background()

		container, err := tcneo4j.Run(ctx,
			"neo4j:5",
			tcneo4j.WithAdminPassword(password),
			tcneo4j.WithLabsPlugin(tcneo4j.Apoc),
			testcontainers.WithEnv(map[string]string{
				"NEO4J_dbms_security_procedures_unrestricted": "apoc.*",
			}),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start Neo4j container: %w", err)
			return
		}

		uri, err := container.BoltUrl(ctx)
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get Neo4j bolt URL: %w", err)
			return
		}
		singletonURI = uri
		// Container is not stored - ryuk will handle cleanup automatically
	})

	return singletonURI, singletonErr
}

// Service returns a database service over an emptied database. Tests using
// it must not run in parallel.
func Service(tb testing.TB) *database.Neo4jService {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping integration test in short mode")
	}

	uri, err := ensureSingleton()
	require.NoError(tb, err, "failed to start Neo4j container")

	ctx := context.Background()
	svc, err := database.Connect(ctx, database.Config{URI: uri, Username: "neo4j", Password: password})
	require.NoError(tb, err, "failed to connect to Neo4j")
	tb.Cleanup(func() { _ = svc.Close(context.Background()) })

	Exec(tb, svc, "MATCH (n) DETACH DELETE n", nil)
	return svc
}

// Exec runs a write statement and fails the test on error.
func Exec(tb testing.TB, svc database.Service, cypher string, params map[string]any) {
	tb.Helper()
	_, err := svc.ExecuteWriteQuery(context.Background(), cypher, params, authn.Session{})
	require.NoError(tb, err, "executing %s", cypher)
}

// Translator returns a translator over the embedded test schema.
func Translator(tb testing.TB, opts ...quince.Option) *quince.Translator {
	tb.Helper()
	model, err := parser.ParseSchemaString(schemaSDL)
	require.NoError(tb, err, "failed to parse test schema")
	tr, err := quince.NewTranslator(model, opts...)
	require.NoError(tb, err)
	return tr
}
