package roles

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// AssignmentStatus is an assignment's lifecycle state.
type AssignmentStatus string

const (
	AssignmentActive      AssignmentStatus = "active"
	AssignmentDeactivated AssignmentStatus = "deactivated"
)

// Assignment binds an actor to a catalog role at an org path. Team
// assignments also carry the team's ID, which anchors team-scoped
// permissions. Assignment order is (assigned_at, id).
type Assignment struct {
	ID            string           `json:"id"`
	ActorID       string           `json:"actor_id"`
	Role          string           `json:"role"`
	OrgPath       hierarchy.Path   `json:"org_path"`
	TeamID        string           `json:"team_id,omitempty"`
	PrimaryOrg    bool             `json:"primary_org"`
	Status        AssignmentStatus `json:"status"`
	AssignedBy    string           `json:"assigned_by,omitempty"`
	AssignedAt    time.Time        `json:"assigned_at"`
	DeactivatedAt *time.Time       `json:"deactivated_at,omitempty"`
}

// GrantRow is one active assignment joined with the org node anchoring
// it. Region comes from the node, not the assignment row.
type GrantRow struct {
	Role       string
	OrgPath    hierarchy.Path
	TeamID     string
	PrimaryOrg bool
	Region     string
}

// Store persists role assignments.
type Store struct {
	pool postgres.Pool
}

// NewStore creates a new assignment store.
func NewStore(pool postgres.Pool) *Store {
	return &Store{pool: pool}
}

// InsertTx writes the assignment inside the caller's transaction, so
// the quota reservation and the row it reserved commit together. The
// partial unique index rejects a second active assignment of the same
// (actor, role, path) triple.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, a *Assignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = AssignmentActive
	}

	var teamID, assignedBy sql.NullString
	if a.TeamID != "" {
		teamID = sql.NullString{String: a.TeamID, Valid: true}
	}
	if a.AssignedBy != "" {
		assignedBy = sql.NullString{String: a.AssignedBy, Valid: true}
	}

	query := `
		INSERT INTO role_assignments (id, actor_id, role, org_path, team_id, primary_org, status, assigned_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING assigned_at
	`
	err := tx.QueryRowContext(ctx, query,
		a.ID, a.ActorID, a.Role, a.OrgPath.String(), teamID, a.PrimaryOrg, a.Status, assignedBy,
	).Scan(&a.AssignedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &orgs.DuplicateError{
				Kind: "assignment",
				ID:   fmt.Sprintf("%s %s %s", a.ActorID, a.Role, a.OrgPath),
			}
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// GetByID returns the assignment, active or not.
func (s *Store) GetByID(ctx context.Context, id string) (*Assignment, error) {
	query := `
		SELECT id, actor_id, role, org_path, team_id, primary_org, status, assigned_by, assigned_at, deactivated_at
		FROM role_assignments
		WHERE id = $1
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	defer rows.Close()

	assignments, err := scanAssignments(rows)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, &orgs.NotFoundError{Kind: "assignment", Ref: id}
	}
	return assignments[0], nil
}

// RevokeByID deactivates the assignment by row ID and reports whose
// cache to invalidate. Already-revoked rows come back as not found so
// a repeated DELETE stays idempotent from the caller's view.
func (s *Store) RevokeByID(ctx context.Context, id string) (*Assignment, error) {
	query := `
		UPDATE role_assignments
		SET status = $1, deactivated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING actor_id, role, org_path
	`
	a := &Assignment{ID: id, Status: AssignmentDeactivated}
	err := s.pool.Primary().QueryRowContext(ctx, query,
		AssignmentDeactivated, id, AssignmentActive,
	).Scan(&a.ActorID, &a.Role, &a.OrgPath)
	if err == sql.ErrNoRows {
		return nil, &orgs.NotFoundError{Kind: "assignment", Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return a, nil
}

// Revoke deactivates the active assignment matching the triple. The
// partial unique index guarantees at most one row matches.
func (s *Store) Revoke(ctx context.Context, actorID, role string, orgPath hierarchy.Path) error {
	query := `
		UPDATE role_assignments
		SET status = $1, deactivated_at = NOW()
		WHERE actor_id = $2 AND role = $3 AND org_path = $4 AND status = $5
	`
	result, err := s.pool.Primary().ExecContext(ctx, query,
		AssignmentDeactivated, actorID, role, orgPath.String(), AssignmentActive)
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &orgs.NotFoundError{
			Kind: "assignment",
			Ref:  fmt.Sprintf("%s %s %s", actorID, role, orgPath),
		}
	}
	return nil
}

// ListByActor returns the actor's assignments in assignment order.
func (s *Store) ListByActor(ctx context.Context, actorID string, includeInactive bool) ([]*Assignment, error) {
	query := `
		SELECT id, actor_id, role, org_path, team_id, primary_org, status, assigned_by, assigned_at, deactivated_at
		FROM role_assignments
		WHERE actor_id = $1
	`
	args := []interface{}{actorID}
	if !includeInactive {
		query += ` AND status = $2`
		args = append(args, AssignmentActive)
	}
	query += ` ORDER BY assigned_at ASC, id ASC`

	rows, err := s.pool.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return scanAssignments(rows)
}

// ListByOrgPath returns the active assignments anchored at exactly the
// given org path, role first.
func (s *Store) ListByOrgPath(ctx context.Context, orgPath hierarchy.Path) ([]*Assignment, error) {
	query := `
		SELECT id, actor_id, role, org_path, team_id, primary_org, status, assigned_by, assigned_at, deactivated_at
		FROM role_assignments
		WHERE org_path = $1 AND status = $2
		ORDER BY role ASC, assigned_at ASC, id ASC
	`
	rows, err := s.pool.Replica().QueryContext(ctx, query, orgPath.String(), AssignmentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]*Assignment, error) {
	var assignments []*Assignment
	for rows.Next() {
		var a Assignment
		var teamID, assignedBy sql.NullString
		var deactivatedAt sql.NullTime

		err := rows.Scan(
			&a.ID, &a.ActorID, &a.Role, &a.OrgPath, &teamID, &a.PrimaryOrg,
			&a.Status, &assignedBy, &a.AssignedAt, &deactivatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}

		a.TeamID = teamID.String
		a.AssignedBy = assignedBy.String
		if deactivatedAt.Valid {
			at := deactivatedAt.Time
			a.DeactivatedAt = &at
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// LoadGrants reads the actor's active assignments joined with their org
// nodes, in assignment order. Reads the primary so a fresh assignment
// is visible on the first lookup after its cache invalidation.
func (s *Store) LoadGrants(ctx context.Context, actorID string) ([]*GrantRow, error) {
	query := `
		SELECT ra.role, ra.org_path, ra.team_id, ra.primary_org, COALESCE(n.region, '')
		FROM role_assignments ra
		LEFT JOIN org_nodes n ON n.path = ra.org_path
		WHERE ra.actor_id = $1 AND ra.status = 'active'
		ORDER BY ra.assigned_at ASC, ra.id ASC
	`
	rows, err := s.pool.Primary().QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	defer rows.Close()

	var grants []*GrantRow
	for rows.Next() {
		var g GrantRow
		var teamID sql.NullString
		if err := rows.Scan(&g.Role, &g.OrgPath, &teamID, &g.PrimaryOrg, &g.Region); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.TeamID = teamID.String
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// DeactivateOrphaned deactivates active assignments whose org node is
// gone or inactive. Runs from the reconciler; re-running it is a no-op
// until the tree changes again.
func (s *Store) DeactivateOrphaned(ctx context.Context) (int64, error) {
	query := `
		UPDATE role_assignments ra
		SET status = $1, deactivated_at = NOW()
		WHERE ra.status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM org_nodes n WHERE n.path = ra.org_path AND n.active = TRUE
		  )
	`
	result, err := s.pool.Primary().ExecContext(ctx, query, AssignmentDeactivated, AssignmentActive)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate orphaned assignments: %w", err)
	}
	return result.RowsAffected()
}
