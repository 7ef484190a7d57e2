package cascade

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/orgs"
)

// Reconcile re-drives one journal entry to its terminal status. Both
// cascades are idempotent, so an entry can be re-driven any number of
// times: a move whose rewrite already committed only needs its
// bookkeeping finished, one whose rewrite was lost is re-applied.
func (c *Coordinator) Reconcile(ctx context.Context, entry *Entry) error {
	if entry.Status.Terminal() {
		return nil
	}

	paths := []hierarchy.Path{entry.RootPath}
	if entry.NewPath != "" {
		paths = append(paths, entry.NewPath)
	}
	release, err := c.leases.Acquire(ctx, paths...)
	if err != nil {
		return err
	}
	defer release()

	switch entry.Kind {
	case KindMove:
		return c.reconcileMove(ctx, entry)
	case KindDeactivate:
		return c.reconcileDeactivate(ctx, entry)
	default:
		return fmt.Errorf("unknown journal kind %q", entry.Kind)
	}
}

func (c *Coordinator) reconcileMove(ctx context.Context, entry *Entry) error {
	// Root already at the new path means the rewrite transaction
	// committed and only bookkeeping is left.
	if _, err := c.orgs.GetNodeByPath(ctx, entry.NewPath); err == nil {
		c.finishMove(ctx, entry)
		return nil
	} else if !orgs.IsNotFound(err) {
		return err
	}

	if _, err := c.orgs.GetNodeByPath(ctx, entry.RootPath); err != nil {
		if orgs.IsNotFound(err) {
			err = fmt.Errorf("node missing at both %s and %s", entry.RootPath, entry.NewPath)
			c.recordFailure(ctx, entry, err)
			return err
		}
		return err
	}

	if err := c.rewrite(ctx, entry); err != nil {
		c.recordFailure(ctx, entry, err)
		return err
	}
	c.finishMove(ctx, entry)
	return nil
}

func (c *Coordinator) reconcileDeactivate(ctx context.Context, entry *Entry) error {
	if err := c.deactivateSubtree(ctx, entry); err != nil {
		c.recordFailure(ctx, entry, err)
		return err
	}
	return c.journal.SetStatus(ctx, entry.ID, StatusCascaded)
}

// reconcileWorkers bounds how many subtree roots re-drive at once.
const reconcileWorkers = 4

// ReconcilePending re-drives unfinished journal entries last touched
// before minAge ago and returns how many reached a terminal status.
// Entries under the same union root would only contend on the lease,
// so each root's entries run serially, oldest first, while distinct
// roots run in parallel. Busy subtrees are skipped, not failed; they
// belong to a cascade that is still running.
func (c *Coordinator) ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-minAge)
	entries, err := c.journal.ListNonTerminal(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	byRoot := make(map[string][]*Entry)
	var roots []string
	for _, entry := range entries {
		segs := entry.RootPath.Segments()
		if len(segs) == 0 {
			continue
		}
		if _, ok := byRoot[segs[0]]; !ok {
			roots = append(roots, segs[0])
		}
		byRoot[segs[0]] = append(byRoot[segs[0]], entry)
	}

	var completed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for _, root := range roots {
		batch := byRoot[root]
		g.Go(func() error {
			for _, entry := range batch {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := c.Reconcile(gctx, entry); err != nil {
					if IsSubtreeBusy(err) {
						c.logger.WithField("journal_id", entry.ID).Info("subtree busy, skipping reconcile")
						continue
					}
					c.logger.WithError(err).WithFields(map[string]interface{}{
						"journal_id": entry.ID,
						"attempts":   entry.Attempts,
					}).Error("failed to reconcile journal entry")
					continue
				}
				atomic.AddInt64(&completed, 1)
				c.audit.Log(gctx, audit.Success("reconciler", audit.ActionCascadeReconcile, entry.RootPath.String()).
					WithDetail("journal_id", entry.ID).
					WithDetail("kind", string(entry.Kind)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&completed)), err
	}
	return int(atomic.LoadInt64(&completed)), nil
}
