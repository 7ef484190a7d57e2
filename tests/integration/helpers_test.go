// +build integration

package integration

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/roles"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// setupPostgres starts a disposable PostgreSQL container, runs the full
// migration set against it, and returns the connection. Tests are
// skipped when no container runtime is available.
//
// The cleanup function closes the connection and terminates the
// container with a fresh context, so a cancelled test context cannot
// strand the container.
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("crozier_test"),
		tcpostgres.WithUsername("crozier"),
		tcpostgres.WithPassword("crozier_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				// AutoRemove drops the container and its volumes on terminate.
				AutoRemove: true,
			},
		}),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, postgres.RunMigrations(ctx, db), "failed to run migrations")

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// fixture wires the live domain services against one database, the same
// way cmd/crozier does minus redis and HTTP.
type fixture struct {
	db          *sql.DB
	pool        postgres.SingleDB
	store       *orgs.Store
	orgs        *orgs.Manager
	roleStore   *roles.Store
	catalog     *roles.Catalog
	guard       *quota.Guard
	journal     *cascade.JournalStore
	coordinator *cascade.Coordinator
	roles       *roles.Service
	audit       *audit.DBLogger
	logger      *observability.Logger
}

func newFixture(db *sql.DB) *fixture {
	pool := postgres.SingleDB{DB: db}
	store := orgs.NewStore(pool)
	roleStore := roles.NewStore(pool)
	catalog := roles.DefaultCatalog()
	guard := quota.NewGuard(pool, catalog)
	journal := cascade.NewJournalStore(pool)
	auditLog := audit.NewDBLogger(pool)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	coordinator := cascade.NewCoordinator(cascade.CoordinatorConfig{
		Pool:    pool,
		Orgs:    store,
		Journal: journal,
		Audit:   auditLog,
		Logger:  logger,
	})

	service := roles.NewService(roles.ServiceConfig{
		Pool:    pool,
		Store:   roleStore,
		Orgs:    store,
		Catalog: catalog,
		Quota:   guard,
		Audit:   auditLog,
		Logger:  logger,
	})

	return &fixture{
		db:          db,
		pool:        pool,
		store:       store,
		orgs:        orgs.NewManager(store),
		roleStore:   roleStore,
		catalog:     catalog,
		guard:       guard,
		journal:     journal,
		coordinator: coordinator,
		roles:       service,
		audit:       auditLog,
		logger:      logger,
	}
}

// seedTree builds the tree the integration tests share:
//
//	U1 / C1 / CH1 / T1 / SVC1
//	U1 / C2
//
// Tests create further nodes inline when they need them.
func seedTree(ctx context.Context, t *testing.T, f *fixture) {
	t.Helper()

	for _, req := range []*orgs.CreateNodeRequest{
		{ID: "U1", Name: "First Union", Level: "union", Region: "north"},
		{ParentPath: "U1", ID: "C1", Name: "North Conference", Level: "conference"},
		{ParentPath: "U1", ID: "C2", Name: "South Conference", Level: "conference"},
		{ParentPath: "U1/C1", ID: "CH1", Name: "Hillside Church", Level: "church"},
		{ParentPath: "U1/C1/CH1", ID: "T1", Name: "Worship Team", Level: "team"},
	} {
		_, err := f.orgs.CreateNode(ctx, req)
		require.NoError(t, err, "seed node %s", req.ID)
	}

	_, err := f.orgs.CreateService(ctx, &orgs.CreateServiceRequest{
		TeamPath: "U1/C1/CH1/T1",
		ID:       "SVC1",
		Name:     "Sunday Morning",
	})
	require.NoError(t, err)
}

func assignRole(ctx context.Context, t *testing.T, f *fixture, actorID, role, orgID string) {
	t.Helper()

	_, _, err := f.roles.Assign(ctx, &roles.AssignRequest{
		ActorID:    actorID,
		Role:       role,
		OrgID:      orgID,
		AssignedBy: "seed",
	})
	require.NoError(t, err, "assign %s %s at %s", actorID, role, orgID)
}

func countRows(t *testing.T, db *sql.DB, query string, args ...interface{}) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}
