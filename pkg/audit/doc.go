// Package audit records who did what to which part of the tree.
//
// # Overview
//
// Every structural mutation (create, move, deactivate, destroy), role
// assignment, and authorization denial produces an Event. Events carry
// the acting actor, the action, the target path or ID, the outcome,
// and action-specific detail such as old/new paths or denial reasons.
//
// # Destinations
//
// DBLogger writes to the audit_events table; FileLogger appends
// newline-delimited JSON with size-based rotation; MultiLogger fans out
// to several destinations; AsyncLogger moves writes off the request
// path behind a bounded buffer that drops (and counts) on overflow.
//
// # Usage Example
//
// Record a denied authorization:
//
//	logger.Log(ctx, audit.Denied(actor.ID, audit.ActionAuthzDecide,
//		string(target.Path), decision.Reason))
//
// Record a completed move with its journal reference:
//
//	event := audit.Success(actorID, audit.ActionOrgMove, string(newPath)).
//		WithDetail("old_path", string(oldPath)).
//		WithDetail("journal_id", journalID)
//	logger.Log(ctx, event)
//
// # Retention
//
// The reconciler calls DBLogger.Purge on a schedule; the retention
// window is configuration, not code.
//
// # Related Packages
//
//   - pkg/cascade: journaled structural mutations
//   - pkg/roles: assignment and revocation events
//   - pkg/middleware: denial logging on rejected requests
package audit
