// Package database runs compiled statements against Neo4j.
package database

//go:generate mockgen -destination=mocks/mock_database.go -package=mocks -typed github.com/pthm/quince/internal/database Service

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pthm/quince/pkg/authn"
)

// Service executes Cypher against a database.
type Service interface {
	ExecuteReadQuery(ctx context.Context, cypher string, params map[string]any, session authn.Session) ([]*neo4j.Record, error)
	ExecuteWriteQuery(ctx context.Context, cypher string, params map[string]any, session authn.Session) ([]*neo4j.Record, error)
	GetDatabaseName() string
}

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jService is a Service over a neo4j driver.
type Neo4jService struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver for cfg and verifies that the server is reachable.
func Connect(ctx context.Context, cfg Config) (*Neo4jService, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("creating driver for %s: %w", cfg.URI, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URI, err)
	}
	return NewNeo4jService(driver, cfg.Database), nil
}

// NewNeo4jService wraps an open driver. An empty database selects the
// server's default.
func NewNeo4jService(driver neo4j.DriverWithContext, database string) *Neo4jService {
	return &Neo4jService{driver: driver, database: database}
}

// ExecuteReadQuery runs cypher routed to readers.
func (s *Neo4jService) ExecuteReadQuery(ctx context.Context, cypher string, params map[string]any, session authn.Session) ([]*neo4j.Record, error) {
	return s.execute(ctx, cypher, params, session, neo4j.ExecuteQueryWithReadersRouting())
}

// ExecuteWriteQuery runs cypher routed to writers.
func (s *Neo4jService) ExecuteWriteQuery(ctx context.Context, cypher string, params map[string]any, session authn.Session) ([]*neo4j.Record, error) {
	return s.execute(ctx, cypher, params, session, neo4j.ExecuteQueryWithWritersRouting())
}

func (s *Neo4jService) execute(ctx context.Context, cypher string, params map[string]any, session authn.Session, routing neo4j.ExecuteQueryConfigurationOption) ([]*neo4j.Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{routing}
	if db := s.databaseFor(session); db != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(db))
	}
	if session.ImpersonatedUser != "" {
		opts = append(opts, neo4j.ExecuteQueryWithImpersonatedUser(session.ImpersonatedUser))
	}
	res, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (s *Neo4jService) databaseFor(session authn.Session) string {
	if session.Database != "" {
		return session.Database
	}
	return s.database
}

// GetDatabaseName returns the configured database, empty for the default.
func (s *Neo4jService) GetDatabaseName() string {
	return s.database
}

// Close closes the driver.
func (s *Neo4jService) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
