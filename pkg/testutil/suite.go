package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/stpericial/stpericial-backend/pkg/database"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and applies
// schema to it.
//
// Usage:
//
//	func TestRepository_Integration(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    suite := testutil.NewIntegrationSuite(t, repository.Schema)
//	    repo := repository.NewGeneralReportRepository(suite.DB)
//	    ...
//	}
func NewIntegrationSuite(t *testing.T, schema string) *IntegrationSuite {
	t.Helper()
	ctx := context.Background()

	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	log := logger.Nop()
	wrapped := database.Wrap(db, log)
	if err := wrapped.Migrate(ctx, schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrapped,
		Logger:    log,
	}
}

// Truncate empties the given tables between tests
func (s *IntegrationSuite) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := s.RawDB.Exec("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}
