// Package cascade keeps materialized paths consistent when the tree
// changes shape.
//
// # Overview
//
// A move rewrites the stored path prefix of every descendant node,
// service, and role assignment; a deactivation flips the subtree
// inactive and archives its services. Both run as journaled cascades:
//
//   - the journal entry commits before any tree row changes
//   - all rewrites apply in a single transaction
//   - a per-union lease serializes cascades touching the same roots
//   - the reconciler re-drives any entry left non-terminal by a crash
//
// Moves walk validating, rewriting, cascading, done; deactivations
// walk deactivating, cascaded.
//
// # Usage Example
//
//	coord := cascade.NewCoordinator(cascade.CoordinatorConfig{
//		Pool:    pool,
//		Orgs:    store,
//		Journal: cascade.NewJournalStore(pool),
//		Leases:  cascade.NewLeaser(redis, 2*time.Minute),
//	})
//
//	node, err := coord.Move(ctx, "CH2", "C9", actor.ID)
//	if cascade.IsPartialFailure(err) {
//		// journal entry holds the state; the reconciler finishes it
//	}
//
// # Related Packages
//
//   - pkg/orgs: node and service storage the cascades rewrite
//   - pkg/hierarchy: path rebuilding and cycle detection
//   - pkg/audit: the event trail for every cascade
package cascade
