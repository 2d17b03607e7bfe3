package database

import (
	"testing"

	"github.com/caseops/casepilot/pkg/database"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/test/util"
)

// NewTestClient creates a migrated test database client.
// In CI (when CI_DATABASE_URL is set): connects to the external
// PostgreSQL service container. In local dev: uses a shared
// testcontainer. Cleanup is handled by SetupTestDatabase.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.SetupTestDatabase(t))
}

// NewTestStore creates the store bundle over a fresh test database.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(util.SetupTestDatabase(t))
}
