// Package hierarchy implements the materialized-path model for the
// organizational tree (Union → Conference → Church → Team → Service).
//
// A path is the slash-delimited sequence of ancestor IDs plus the node's
// own ID, root to leaf, e.g. "U1/C1/CH2/T3". Paths are derived values:
// they are computed from the parent chain at write time and rewritten by
// the cascade when an ancestor moves. Nodes never hold live references to
// parents, only IDs, so the tree cannot form reference cycles.
//
// The package is pure: no I/O, no shared mutable state, safe for
// unrestricted concurrent use.
package hierarchy
