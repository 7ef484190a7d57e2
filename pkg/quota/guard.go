package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// Status is the result of a quota check. Allowed is false exactly when
// current has reached max; NearLimit trips at 90% of max so callers can
// warn before the hard stop. A max of zero means the role is uncapped.
type Status struct {
	Allowed   bool `json:"allowed"`
	Current   int  `json:"current"`
	Max       int  `json:"max"`
	NearLimit bool `json:"near_limit"`
}

// QuotaExceededError reports a rejected reservation.
type QuotaExceededError struct {
	Role    string
	OrgPath hierarchy.Path
	Current int
	Max     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for role %s at %s: %d/%d", e.Role, e.OrgPath, e.Current, e.Max)
}

// IsQuotaExceeded checks if an error is a quota exceeded error.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// Limits reports the assignment ceiling for a role. Zero or negative
// means uncapped. The role catalog implements this.
type Limits interface {
	MaxCount(role string) int
}

// Guard counts active role assignments against their configured
// ceilings. Counts are always derived from the assignments table, never
// stored, so they cannot drift; Reserve makes the count-and-insert
// atomic so concurrent assignments cannot overshoot.
type Guard struct {
	pool   postgres.Pool
	limits Limits
}

// NewGuard creates a quota guard.
func NewGuard(pool postgres.Pool, limits Limits) *Guard {
	return &Guard{pool: pool, limits: limits}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func countActiveAssignments(ctx context.Context, q rowQuerier, role string, orgPath hierarchy.Path) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM role_assignments
		WHERE role = $1 AND org_path = $2 AND status = 'active'
	`
	var count int
	if err := q.QueryRowContext(ctx, query, role, orgPath.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return count, nil
}

func computeStatus(current, max int) *Status {
	if max <= 0 {
		return &Status{Allowed: true, Current: current, Max: max}
	}
	return &Status{
		Allowed:   current < max,
		Current:   current,
		Max:       max,
		NearLimit: float64(current) >= 0.9*float64(max),
	}
}

// Check reports the quota status for a role at an org path without
// reserving anything. Advisory only: the authoritative gate is Reserve,
// which runs under a lock.
func (g *Guard) Check(ctx context.Context, role string, orgPath hierarchy.Path) (*Status, error) {
	current, err := countActiveAssignments(ctx, g.pool.Replica(), role, orgPath)
	if err != nil {
		return nil, err
	}
	return computeStatus(current, g.limits.MaxCount(role)), nil
}

// ReserveTx checks the quota inside the caller's transaction and, when
// capped, serializes concurrent reservations for the same (role, path)
// with a transaction-scoped advisory lock. The caller inserts the
// assignment row in the same transaction, so the count it saw stays
// true until commit. Returns the post-reservation status on success and
// a QuotaExceededError when the ceiling is already reached.
func (g *Guard) ReserveTx(ctx context.Context, tx *sql.Tx, role string, orgPath hierarchy.Path) (*Status, error) {
	max := g.limits.MaxCount(role)
	if max <= 0 {
		current, err := countActiveAssignments(ctx, tx, role, orgPath)
		if err != nil {
			return nil, err
		}
		return computeStatus(current+1, max), nil
	}

	lockKey := role + ":" + orgPath.String()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire quota lock: %w", err)
	}

	current, err := countActiveAssignments(ctx, tx, role, orgPath)
	if err != nil {
		return nil, err
	}

	if current >= max {
		return computeStatus(current, max), &QuotaExceededError{
			Role:    role,
			OrgPath: orgPath,
			Current: current,
			Max:     max,
		}
	}

	return computeStatus(current+1, max), nil
}
