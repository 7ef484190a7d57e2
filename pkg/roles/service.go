package roles

import (
	"context"
	"fmt"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// CacheInvalidator drops an actor's cached directory snapshot after an
// assignment write. Implemented by the Directory.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, actorID string) error
}

// AssignRequest asks for a role assignment at an org node.
type AssignRequest struct {
	ActorID    string `json:"actor_id"`
	Role       string `json:"role"`
	OrgID      string `json:"org_id"`
	PrimaryOrg bool   `json:"primary_org"`
	AssignedBy string `json:"-"`
}

// ServiceConfig wires an assignment service. Cache, Audit, and Logger
// are optional.
type ServiceConfig struct {
	Pool    postgres.Pool
	Store   *Store
	Orgs    *orgs.Store
	Catalog *Catalog
	Quota   *quota.Guard
	Cache   CacheInvalidator
	Audit   audit.Logger
	Logger  *observability.Logger
}

// Service assigns and revokes roles. Assignment reserves quota and
// inserts the row in one transaction, so two concurrent assignments
// cannot both squeeze under the same ceiling.
type Service struct {
	pool    postgres.Pool
	store   *Store
	orgs    *orgs.Store
	catalog *Catalog
	quota   *quota.Guard
	cache   CacheInvalidator
	audit   audit.Logger
	logger  *observability.Logger
}

// NewService creates an assignment service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		pool:    cfg.Pool,
		store:   cfg.Store,
		orgs:    cfg.Orgs,
		catalog: cfg.Catalog,
		quota:   cfg.Quota,
		cache:   cfg.Cache,
		audit:   cfg.Audit,
		logger:  cfg.Logger,
	}
	if s.audit == nil {
		s.audit = audit.NopLogger()
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return s
}

// Assign grants the role to the actor at the org node. The returned
// quota status reflects the state after the reservation; callers can
// surface NearLimit warnings from it.
func (s *Service) Assign(ctx context.Context, req *AssignRequest) (*Assignment, *quota.Status, error) {
	if _, ok := s.catalog.Get(req.Role); !ok {
		return nil, nil, &orgs.NotFoundError{Kind: "role", Ref: req.Role}
	}

	node, err := s.orgs.GetNodeByID(ctx, req.OrgID)
	if err != nil {
		return nil, nil, err
	}
	if !node.Active {
		return nil, nil, &hierarchy.InvalidHierarchyError{
			Reason: fmt.Sprintf("org %s is deactivated", node.ID),
			Path:   node.Path.String(),
		}
	}

	assignment := &Assignment{
		ActorID:    req.ActorID,
		Role:       req.Role,
		OrgPath:    node.Path,
		PrimaryOrg: req.PrimaryOrg,
		AssignedBy: req.AssignedBy,
	}
	if node.Level == hierarchy.LevelTeam {
		assignment.TeamID = node.ID
	}

	tx, err := s.pool.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := s.quota.ReserveTx(ctx, tx, req.Role, node.Path)
	if err != nil {
		if quota.IsQuotaExceeded(err) {
			s.audit.Log(ctx, audit.Denied(req.AssignedBy, audit.ActionRoleAssign, req.ActorID, err.Error()).
				WithDetail("role", req.Role).
				WithDetail("org_path", node.Path.String()))
		}
		return nil, status, err
	}

	if err := s.store.InsertTx(ctx, tx, assignment); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	s.invalidate(ctx, req.ActorID)

	s.audit.Log(ctx, audit.Success(req.AssignedBy, audit.ActionRoleAssign, req.ActorID).
		WithDetail("role", req.Role).
		WithDetail("org_path", node.Path.String()))

	if status.NearLimit {
		s.logger.WithFields(map[string]interface{}{
			"role":     req.Role,
			"org_path": node.Path.String(),
			"current":  status.Current,
			"max":      status.Max,
		}).Warn("role quota near limit")
	}

	return assignment, status, nil
}

// Revoke deactivates the actor's assignment of the role at the path.
func (s *Service) Revoke(ctx context.Context, actorID, role string, orgPath hierarchy.Path, revokedBy string) error {
	if err := s.store.Revoke(ctx, actorID, role, orgPath); err != nil {
		return err
	}

	s.invalidate(ctx, actorID)

	s.audit.Log(ctx, audit.Success(revokedBy, audit.ActionRoleRevoke, actorID).
		WithDetail("role", role).
		WithDetail("org_path", orgPath.String()))
	return nil
}

// RevokeByID deactivates an assignment by row ID. Handlers use this
// form after authorizing against the assignment's own org path.
func (s *Service) RevokeByID(ctx context.Context, id, revokedBy string) error {
	revoked, err := s.store.RevokeByID(ctx, id)
	if err != nil {
		return err
	}

	s.invalidate(ctx, revoked.ActorID)

	s.audit.Log(ctx, audit.Success(revokedBy, audit.ActionRoleRevoke, revoked.ActorID).
		WithDetail("role", revoked.Role).
		WithDetail("org_path", revoked.OrgPath.String()).
		WithDetail("assignment_id", id))
	return nil
}

// Assignment returns one assignment by row ID, active or not.
func (s *Service) Assignment(ctx context.Context, id string) (*Assignment, error) {
	return s.store.GetByID(ctx, id)
}

// Assignments lists the actor's assignments in assignment order.
func (s *Service) Assignments(ctx context.Context, actorID string, includeInactive bool) ([]*Assignment, error) {
	return s.store.ListByActor(ctx, actorID, includeInactive)
}

// AssignmentsAt lists the active assignments anchored at an org path.
func (s *Service) AssignmentsAt(ctx context.Context, orgPath hierarchy.Path) ([]*Assignment, error) {
	return s.store.ListByOrgPath(ctx, orgPath)
}

func (s *Service) invalidate(ctx context.Context, actorID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, actorID); err != nil {
		s.logger.WithError(err).WithField("actor_id", actorID).Warn("failed to invalidate actor cache")
	}
}
