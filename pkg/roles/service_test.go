package roles

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

type capturingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *capturingAudit) Log(ctx context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingAudit) Close() error { return nil }

func (c *capturingAudit) last() *audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func (c *capturingAudit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fakeInvalidator struct {
	mu       sync.Mutex
	actorIDs []string
	err      error
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actorIDs = append(f.actorIDs, actorID)
	return f.err
}

func newServiceTest(t *testing.T) (*Service, sqlmock.Sqlmock, *capturingAudit, *fakeInvalidator, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pool := postgres.SingleDB{DB: db}
	catalog := DefaultCatalog()
	sink := &capturingAudit{}
	cache := &fakeInvalidator{}
	svc := NewService(ServiceConfig{
		Pool:    pool,
		Store:   NewStore(pool),
		Orgs:    orgs.NewStore(pool),
		Catalog: catalog,
		Quota:   quota.NewGuard(pool, catalog),
		Cache:   cache,
		Audit:   sink,
		Logger:  observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	return svc, mock, sink, cache, func() { db.Close() }
}

var nodeColumns = []string{
	"path", "id", "name", "level", "depth", "region", "active",
	"deactivated_at", "deactivated_by", "created_at", "updated_at",
}

func nodeRow(path, id, level string, depth int) *sqlmock.Rows {
	return sqlmock.NewRows(nodeColumns).
		AddRow(path, id, id, level, depth, "", true, nil, nil, time.Now(), time.Now())
}

func inactiveNodeRow(path, id, level string, depth int) *sqlmock.Rows {
	return sqlmock.NewRows(nodeColumns).
		AddRow(path, id, id, level, depth, "", false, time.Now(), "admin-3", time.Now(), time.Now())
}

var (
	getNodeQuery = regexp.QuoteMeta("FROM org_nodes WHERE id = $1")
	lockQuery    = regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")
	countQuery   = regexp.QuoteMeta("SELECT COUNT(*) FROM role_assignments")
)

func TestService_Assign(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("CH2").
		WillReturnRows(nodeRow("U1/C1/CH2", "CH2", "church", 2))
	mock.ExpectBegin()
	mock.ExpectExec(lockQuery).WithArgs("pastor:U1/C1/CH2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countQuery).WithArgs("pastor", "U1/C1/CH2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(insertAssignmentQuery).
		WithArgs(sqlmock.AnyArg(), "alice", "pastor", "U1/C1/CH2", nil, false, "active", "admin-7").
		WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	assignment, status, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID:    "alice",
		Role:       "pastor",
		OrgID:      "CH2",
		AssignedBy: "admin-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "U1/C1/CH2", assignment.OrgPath.String())
	assert.Empty(t, assignment.TeamID)
	assert.NotEmpty(t, assignment.ID)

	// The reservation took the second of two pastor seats.
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, 2, status.Max)
	assert.True(t, status.NearLimit)
	assert.False(t, status.Allowed)

	assert.Equal(t, []string{"alice"}, cache.actorIDs)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionRoleAssign, event.Action)
	assert.Equal(t, audit.OutcomeSuccess, event.Outcome)
	assert.Equal(t, "admin-7", event.ActorID)
	assert.Equal(t, "alice", event.Target)
	assert.Equal(t, "pastor", event.Detail["role"])
	assert.Equal(t, "U1/C1/CH2", event.Detail["org_path"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_UnknownRole(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	_, _, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID: "alice",
		Role:    "bishop",
		OrgID:   "CH2",
	})
	require.Error(t, err)
	assert.True(t, orgs.IsNotFound(err))
	assert.Contains(t, err.Error(), "role not found: bishop")
	assert.Equal(t, 0, sink.count())
	assert.Empty(t, cache.actorIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_InactiveOrg(t *testing.T) {
	svc, mock, _, _, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("CH2").
		WillReturnRows(inactiveNodeRow("U1/C1/CH2", "CH2", "church", 2))

	_, _, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID: "alice",
		Role:    "pastor",
		OrgID:   "CH2",
	})
	require.Error(t, err)

	var ihe *hierarchy.InvalidHierarchyError
	require.True(t, errors.As(err, &ihe))
	assert.Contains(t, err.Error(), "org CH2 is deactivated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_QuotaExceeded(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("CH2").
		WillReturnRows(nodeRow("U1/C1/CH2", "CH2", "church", 2))
	mock.ExpectBegin()
	mock.ExpectExec(lockQuery).WithArgs("pastor:U1/C1/CH2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countQuery).WithArgs("pastor", "U1/C1/CH2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	assignment, status, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID:    "carol",
		Role:       "pastor",
		OrgID:      "CH2",
		AssignedBy: "admin-7",
	})
	require.Error(t, err)
	assert.True(t, quota.IsQuotaExceeded(err))
	assert.Nil(t, assignment)

	require.NotNil(t, status)
	assert.False(t, status.Allowed)
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, 2, status.Max)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
	assert.Equal(t, audit.ActionRoleAssign, event.Action)
	assert.Equal(t, "carol", event.Target)
	assert.Equal(t, "quota exceeded for role pastor at U1/C1/CH2: 2/2", event.Detail["reason"])

	assert.Empty(t, cache.actorIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_TeamAnchorsTeamID(t *testing.T) {
	svc, mock, _, _, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("T5").
		WillReturnRows(nodeRow("U1/C1/CH2/T5", "T5", "team", 3))
	mock.ExpectBegin()
	mock.ExpectExec(lockQuery).WithArgs("team-lead:U1/C1/CH2/T5").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countQuery).WithArgs("team-lead", "U1/C1/CH2/T5").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(insertAssignmentQuery).
		WithArgs(sqlmock.AnyArg(), "bob", "team-lead", "U1/C1/CH2/T5", "T5", false, "active", "lead-9").
		WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	assignment, status, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID:    "bob",
		Role:       "team-lead",
		OrgID:      "T5",
		AssignedBy: "lead-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "T5", assignment.TeamID)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, 1, status.Max)
	assert.True(t, status.NearLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_UncappedRoleSkipsLock(t *testing.T) {
	svc, mock, _, _, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("U1").
		WillReturnRows(nodeRow("U1", "U1", "union", 0))
	mock.ExpectBegin()
	mock.ExpectQuery(countQuery).WithArgs("union-admin", "U1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(insertAssignmentQuery).
		WithArgs(sqlmock.AnyArg(), "carol", "union-admin", "U1", nil, false, "active", nil).
		WillReturnRows(sqlmock.NewRows([]string{"assigned_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	_, status, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID: "carol",
		Role:    "union-admin",
		OrgID:   "U1",
	})
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, 8, status.Current)
	assert.Equal(t, 0, status.Max)
	assert.False(t, status.NearLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Assign_Duplicate(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectQuery(getNodeQuery).WithArgs("CH2").
		WillReturnRows(nodeRow("U1/C1/CH2", "CH2", "church", 2))
	mock.ExpectBegin()
	mock.ExpectExec(lockQuery).WithArgs("pastor:U1/C1/CH2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countQuery).WithArgs("pastor", "U1/C1/CH2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(insertAssignmentQuery).
		WithArgs(sqlmock.AnyArg(), "alice", "pastor", "U1/C1/CH2", nil, false, "active", nil).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, _, err := svc.Assign(context.Background(), &AssignRequest{
		ActorID: "alice",
		Role:    "pastor",
		OrgID:   "CH2",
	})
	require.Error(t, err)

	var dup *orgs.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "assignment", dup.Kind)
	assert.Equal(t, 0, sink.count())
	assert.Empty(t, cache.actorIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Revoke(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE role_assignments SET status = $1, deactivated_at = NOW()")).
		WithArgs("deactivated", "alice", "pastor", "U1/C1/CH2", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Revoke(context.Background(), "alice", "pastor", "U1/C1/CH2", "admin-7")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, cache.actorIDs)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionRoleRevoke, event.Action)
	assert.Equal(t, audit.OutcomeSuccess, event.Outcome)
	assert.Equal(t, "admin-7", event.ActorID)
	assert.Equal(t, "alice", event.Target)
	assert.Equal(t, "U1/C1/CH2", event.Detail["org_path"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Revoke_NotFound(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE role_assignments SET status = $1, deactivated_at = NOW()")).
		WithArgs("deactivated", "alice", "pastor", "U1/C1/CH2", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.Revoke(context.Background(), "alice", "pastor", "U1/C1/CH2", "admin-7")
	require.Error(t, err)
	assert.True(t, orgs.IsNotFound(err))
	assert.Equal(t, 0, sink.count())
	assert.Empty(t, cache.actorIDs)
}

func TestService_Revoke_CacheErrorTolerated(t *testing.T) {
	svc, mock, sink, cache, cleanup := newServiceTest(t)
	defer cleanup()
	cache.err = errors.New("redis down")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE role_assignments SET status = $1, deactivated_at = NOW()")).
		WithArgs("deactivated", "alice", "pastor", "U1/C1/CH2", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Revoke(context.Background(), "alice", "pastor", "U1/C1/CH2", "admin-7")
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
}
