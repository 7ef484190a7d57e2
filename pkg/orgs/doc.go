// Package orgs manages the organizational tree for Crozier.
//
// # Overview
//
// The tree has five fixed levels: Union → Conference → Church → Team →
// Service. Every node carries a materialized slash-delimited path of
// ancestor IDs ("U1/C1/CH2/T3"), which makes subtree queries a prefix
// match and authorization checks a string-relation test. Four invariants
// hold at all times:
//
//   - a node's path is its parent's path plus "/" plus its own ID
//   - a node's depth equals its path segment count minus one
//   - no ID appears twice in any path
//   - a parent sits exactly one level above its child; teams bind only
//     to churches, services only to teams
//
// Org nodes (union through team) live in org_nodes; services are leaves
// and live in their own services collection with an archive lifecycle
// instead of the active flag.
//
// # Usage Example
//
// Create a church under a conference:
//
//	node, err := manager.CreateNode(ctx, &orgs.CreateNodeRequest{
//		ParentPath: "U1/C1",
//		ID:         "CH2",
//		Name:       "Hillside",
//		Level:      "church",
//	})
//
// Walk a subtree:
//
//	tree, err := manager.Subtree(ctx, "CH2")
//	for _, n := range tree.Nodes {
//		fmt.Println(n.Path)
//	}
//
// Structural mutations (move, deactivate) are not handled here: they
// rewrite descendant paths and are owned by the cascade coordinator.
//
// # Related Packages
//
//   - pkg/hierarchy: path grammar, relations, and level pairing rules
//   - pkg/cascade: move and deactivate with descendant rewrites
//   - pkg/quota: assignment ceilings per role and org path
package orgs
