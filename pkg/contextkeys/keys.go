// Package contextkeys provides centralized context key definitions
//
// All typed domain values carried on request contexts are keyed here so
// that producers (middleware) and consumers (handlers) agree on one name
// and one stored type. Request-scoped strings (request ID, actor ID) and
// the logger ride on pkg/observability's context helpers instead.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *authz.Actor
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: all protected endpoints, authorization middleware
	ActorKey Key = "actor"

	// NodeKey contains *orgs.Node
	// Set by: middleware.NodeContext (pkg/middleware/org.go)
	// Required by: org-scoped endpoints
	NodeKey Key = "org_node"
)

// WithActor adds the resolved actor to the context. Stored untyped so
// this package stays import-free; middleware.GetActor does the
// assertion.
func WithActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithNode adds the resolved org node to the context.
func WithNode(ctx context.Context, node interface{}) context.Context {
	return context.WithValue(ctx, NodeKey, node)
}
