// Package authz implements the path-based authorization engine.
//
// An actor holds grants: (anchor, permission set) pairs where the anchor
// is a tree path or a team ID. Permission strings follow the grammar
//
//	"*" | resource "." action | resource "." action ":" scope | resource ".*"
//
// and are parsed once at grant load, never re-split per check. The engine
// decides allow/deny for (actor, resource, action, target) by evaluating
// every permission of every grant against the relation between the
// grant's anchor and the target. Semantics are OR with no deny rules:
// the first satisfying permission allows.
//
// All types here are pure values; Decide has no side effects and is safe
// for unrestricted concurrent use. Loading actors from storage lives in
// pkg/roles, behind the Directory interface.
package authz
