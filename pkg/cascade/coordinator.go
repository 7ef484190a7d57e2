package cascade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/storage/postgres"
)

// PartialFailureError reports a cascade whose journal entry is
// committed but whose tree writes did not complete. Not safe to retry
// blindly; the reconciler re-drives the journal entry to completion.
type PartialFailureError struct {
	JournalID string
	Kind      Kind
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s cascade incomplete, queued for reconciliation (journal %s): %v", e.Kind, e.JournalID, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// IsPartialFailure checks if an error is a partial cascade failure.
func IsPartialFailure(err error) bool {
	var pe *PartialFailureError
	return errors.As(err, &pe)
}

// Invalidator drops cached actor snapshots after a cascade changes the
// paths their grants point at. Implemented by the redis client.
type Invalidator interface {
	InvalidatePatterns(ctx context.Context, patterns ...string) error
}

// CoordinatorConfig wires a Coordinator. Cache, Audit, and Logger are
// optional.
type CoordinatorConfig struct {
	Pool    postgres.Pool
	Orgs    *orgs.Store
	Journal *JournalStore
	Leases  *Leaser
	Cache   Invalidator
	Audit   audit.Logger
	Logger  *observability.Logger
}

// Coordinator owns structural mutations that ripple through the
// subtree: moves rewrite every descendant's stored path prefix,
// deactivations flip the subtree inactive and archive its services.
// Each operation commits a journal entry before touching any tree row
// and applies all rewrites in one transaction, so an interrupted
// cascade is always detectable and re-drivable.
type Coordinator struct {
	pool    postgres.Pool
	orgs    *orgs.Store
	journal *JournalStore
	leases  *Leaser
	cache   Invalidator
	audit   audit.Logger
	logger  *observability.Logger
}

// NewCoordinator creates a cascade coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		pool:    cfg.Pool,
		orgs:    cfg.Orgs,
		journal: cfg.Journal,
		leases:  cfg.Leases,
		cache:   cfg.Cache,
		audit:   cfg.Audit,
		logger:  cfg.Logger,
	}
	if c.leases == nil {
		c.leases = NewLeaser(nil, 0)
	}
	if c.audit == nil {
		c.audit = audit.NopLogger()
	}
	if c.logger == nil {
		c.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return c
}

// Move reparents a node and rewrites the stored path prefix of every
// descendant node, service, and role assignment under it. Validation
// failures (unknown node, inactive or wrong-level parent, cycle,
// repeated segment) reject the move before anything is written. A
// failure after the journal commit returns PartialFailureError.
func (c *Coordinator) Move(ctx context.Context, nodeID, newParentID, actorID string) (*orgs.Node, error) {
	node, err := c.orgs.GetNodeByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	parentLevel, ok := node.Level.ParentLevel()
	if !ok {
		return nil, &hierarchy.InvalidHierarchyError{
			Reason: "union is the root level and cannot be reparented",
			Path:   node.Path.String(),
		}
	}

	parent, err := c.orgs.GetNodeByID(ctx, newParentID)
	if err != nil {
		return nil, err
	}
	if !parent.Active {
		return nil, &hierarchy.InvalidHierarchyError{
			Reason: fmt.Sprintf("parent %s is deactivated", parent.ID),
			Path:   parent.Path.String(),
		}
	}
	if parent.Level != parentLevel {
		return nil, &hierarchy.InvalidHierarchyError{
			Reason: fmt.Sprintf("%s must attach to a %s, parent %s is a %s", node.Level, parentLevel, parent.ID, parent.Level),
			Path:   parent.Path.String(),
		}
	}

	newPath, err := hierarchy.Rebuild(node.Path, node.Level, parent.Path)
	if err != nil {
		return nil, err
	}
	if newPath == node.Path {
		return node, nil
	}

	release, err := c.leases.Acquire(ctx, node.Path, newPath)
	if err != nil {
		return nil, err
	}
	defer release()

	entry := &Entry{
		Kind:     KindMove,
		RootPath: node.Path,
		NewPath:  newPath,
		ActorID:  actorID,
		Status:   StatusValidating,
	}
	if err := c.journal.Create(ctx, entry); err != nil {
		return nil, err
	}
	if err := c.journal.SetStatus(ctx, entry.ID, StatusRewriting); err != nil {
		return nil, err
	}

	if err := c.rewrite(ctx, entry); err != nil {
		c.recordFailure(ctx, entry, err)
		c.audit.Log(ctx, audit.Failure(actorID, audit.ActionOrgMove, node.Path.String(), err).
			WithDetail("journal_id", entry.ID))
		return nil, &PartialFailureError{JournalID: entry.ID, Kind: KindMove, Err: err}
	}

	c.finishMove(ctx, entry)

	c.audit.Log(ctx, audit.Success(actorID, audit.ActionOrgMove, newPath.String()).
		WithDetail("old_path", node.Path.String()).
		WithDetail("journal_id", entry.ID))

	node.Path = newPath
	node.UpdatedAt = time.Now()
	return node, nil
}

// Deactivate flips the node and its whole subtree inactive, stamping
// who and when, and archives every service below it. Nodes already
// inactive keep their original stamp. Deactivating an inactive node is
// a no-op.
func (c *Coordinator) Deactivate(ctx context.Context, nodeID, actorID string) (*orgs.Node, error) {
	node, err := c.orgs.GetNodeByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.Active {
		return node, nil
	}

	release, err := c.leases.Acquire(ctx, node.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	entry := &Entry{
		Kind:     KindDeactivate,
		RootPath: node.Path,
		ActorID:  actorID,
		Status:   StatusDeactivating,
	}
	if err := c.journal.Create(ctx, entry); err != nil {
		return nil, err
	}

	if err := c.deactivateSubtree(ctx, entry); err != nil {
		c.recordFailure(ctx, entry, err)
		c.audit.Log(ctx, audit.Failure(actorID, audit.ActionOrgDeactivate, node.Path.String(), err).
			WithDetail("journal_id", entry.ID))
		return nil, &PartialFailureError{JournalID: entry.ID, Kind: KindDeactivate, Err: err}
	}

	if err := c.journal.SetStatus(ctx, entry.ID, StatusCascaded); err != nil {
		c.logger.WithError(err).WithField("journal_id", entry.ID).Error("failed to close journal entry")
	}

	c.audit.Log(ctx, audit.Success(actorID, audit.ActionOrgDeactivate, node.Path.String()).
		WithDetail("journal_id", entry.ID))

	now := time.Now()
	node.Active = false
	node.DeactivatedAt = &now
	node.DeactivatedBy = actorID
	node.UpdatedAt = now
	return node, nil
}

// rewrite applies the move in one transaction: the moved node's own
// row and every descendant path in org_nodes, services, and
// role_assignments swap the old prefix for the new one. Descendant
// writes are trusted derivations of the validated root move and skip
// per-row validation.
func (c *Coordinator) rewrite(ctx context.Context, entry *Entry) error {
	oldPath := entry.RootPath.String()
	newPath := entry.NewPath.String()
	pattern := orgs.DescendantPattern(entry.RootPath)
	cut := len(oldPath) + 1

	tx, err := c.pool.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	nodes, err := execCount(ctx, tx, `
		UPDATE org_nodes
		SET path = $1 || substr(path, $2), updated_at = NOW()
		WHERE path = $3 OR path LIKE $4
	`, newPath, cut, oldPath, pattern)
	if err != nil {
		return fmt.Errorf("failed to rewrite org nodes: %w", err)
	}

	services, err := execCount(ctx, tx, `
		UPDATE services
		SET path = $1 || substr(path, $2), updated_at = NOW()
		WHERE path LIKE $3
	`, newPath, cut, pattern)
	if err != nil {
		return fmt.Errorf("failed to rewrite services: %w", err)
	}

	assignments, err := execCount(ctx, tx, `
		UPDATE role_assignments
		SET org_path = $1 || substr(org_path, $2)
		WHERE org_path = $3 OR org_path LIKE $4
	`, newPath, cut, oldPath, pattern)
	if err != nil {
		return fmt.Errorf("failed to rewrite role assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"journal_id":  entry.ID,
		"old_path":    oldPath,
		"new_path":    newPath,
		"nodes":       nodes,
		"services":    services,
		"assignments": assignments,
	}).Info("rewrote subtree paths")
	return nil
}

// deactivateSubtree flips the subtree in one transaction. The active
// and status guards keep earlier deactivation stamps intact when
// subtrees overlap.
func (c *Coordinator) deactivateSubtree(ctx context.Context, entry *Entry) error {
	rootPath := entry.RootPath.String()
	pattern := orgs.DescendantPattern(entry.RootPath)

	tx, err := c.pool.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	nodes, err := execCount(ctx, tx, `
		UPDATE org_nodes
		SET active = FALSE, deactivated_at = NOW(), deactivated_by = $1, updated_at = NOW()
		WHERE (path = $2 OR path LIKE $3) AND active = TRUE
	`, entry.ActorID, rootPath, pattern)
	if err != nil {
		return fmt.Errorf("failed to deactivate org nodes: %w", err)
	}

	services, err := execCount(ctx, tx, `
		UPDATE services
		SET status = 'archived', archived_at = NOW(), archived_by = $1, updated_at = NOW()
		WHERE path LIKE $2 AND status = 'active'
	`, entry.ActorID, pattern)
	if err != nil {
		return fmt.Errorf("failed to archive services: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"journal_id": entry.ID,
		"path":       rootPath,
		"nodes":      nodes,
		"services":   services,
	}).Info("deactivated subtree")
	return nil
}

// finishMove runs the post-rewrite bookkeeping: cached actor snapshots
// still hold pre-move grant paths, so the cache is flushed before the
// entry is closed.
func (c *Coordinator) finishMove(ctx context.Context, entry *Entry) {
	if err := c.journal.SetStatus(ctx, entry.ID, StatusCascading); err != nil {
		c.logger.WithError(err).WithField("journal_id", entry.ID).Error("failed to advance journal entry")
	}
	c.invalidateActors(ctx)
	if err := c.journal.SetStatus(ctx, entry.ID, StatusDone); err != nil {
		c.logger.WithError(err).WithField("journal_id", entry.ID).Error("failed to close journal entry")
	}
}

func (c *Coordinator) invalidateActors(ctx context.Context) {
	if c.cache == nil {
		return
	}
	// Stale entries fail toward denial (old paths no longer match), so
	// an invalidation error degrades availability, not safety.
	if err := c.cache.InvalidatePatterns(ctx, "actor:*"); err != nil {
		c.logger.WithError(err).Warn("failed to invalidate actor cache")
	}
}

func (c *Coordinator) recordFailure(ctx context.Context, entry *Entry, cause error) {
	if err := c.journal.RecordFailure(ctx, entry.ID, cause); err != nil {
		c.logger.WithError(err).WithField("journal_id", entry.ID).Error("failed to record cascade failure")
	}
	c.logger.WithError(cause).WithFields(map[string]interface{}{
		"journal_id": entry.ID,
		"kind":       string(entry.Kind),
		"root_path":  entry.RootPath.String(),
	}).Error("cascade failed")
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
