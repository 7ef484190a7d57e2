// Package api exposes the org tree, role assignments, and the decision
// engine over HTTP.
//
// The surface is versioned under /api/v1:
//
//	POST   /api/v1/orgs                        create a node under a parent
//	GET    /api/v1/orgs/{id}                   fetch one node
//	PATCH  /api/v1/orgs/{id}                   rename or retag (no cascade)
//	DELETE /api/v1/orgs/{id}                   hard delete, empty subtrees only
//	GET    /api/v1/orgs/{id}/children          immediate children
//	GET    /api/v1/orgs/{id}/subtree           the node and everything below
//	POST   /api/v1/orgs/{id}/move              re-parent with path cascade
//	POST   /api/v1/orgs/{id}/deactivate        deactivate the whole subtree
//	GET    /api/v1/orgs/{id}/assignments       active assignments at the node
//
//	POST   /api/v1/services                    create a service under a team
//	GET    /api/v1/services/{id}               fetch one service
//	POST   /api/v1/services/{id}/archive       archive (terminal)
//
//	GET    /api/v1/roles                       the role catalog
//	GET    /api/v1/roles/{name}/quota          quota status at ?org_path=
//	POST   /api/v1/assignments                 assign a role
//	DELETE /api/v1/assignments/{id}            revoke an assignment
//	GET    /api/v1/actors/{id}/assignments     an actor's assignments
//	GET    /api/v1/actors/{id}/context         the actor's acting grant
//
//	POST   /api/v1/authz/decide                explicit permission check
//	POST   /api/v1/tokens                      mint an API token
//	GET    /api/v1/tokens                      list the caller's tokens
//	DELETE /api/v1/tokens/{id}                 revoke a token
//	GET    /api/v1/audit/events                search the audit trail
//
//	GET    /healthz                            liveness
//	GET    /readyz                             readiness (postgres, redis)
//	GET    /metrics                            prometheus
//
// Handlers authorize through the decision engine. Routes anchored on an
// org node load it via middleware.NodeContext and check the static
// permission with middleware.RequirePermission; routes whose target
// comes from a request body or a stored row load the target first and
// call the engine inline. Domain errors map to status codes in
// httputil.WriteDomainError, so handlers return errors, not statuses.
package api
