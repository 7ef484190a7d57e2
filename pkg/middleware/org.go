package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/contextkeys"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/orgs"
)

// NodeContext loads the org node named by the {id} path variable and
// stores it in the request context for permission checks and handlers.
// Mount it only on routes whose {id} is an org node ID; see the package
// documentation. Requests without the variable pass through untouched.
//
// Deactivated nodes still load. Reading a deactivated subtree is legal;
// the operations that refuse deactivated targets enforce that
// themselves.
func NodeContext(manager *orgs.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := mux.Vars(r)["id"]
			if !ok || id == "" {
				next.ServeHTTP(w, r)
				return
			}

			node, err := manager.GetNode(r.Context(), id)
			if err != nil {
				httputil.WriteDomainError(w, r, err)
				return
			}

			ctx := contextkeys.WithNode(r.Context(), node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetNode returns the org node loaded by NodeContext, nil when the
// route carries no node.
func GetNode(r *http.Request) *orgs.Node {
	node, ok := r.Context().Value(contextkeys.NodeKey).(*orgs.Node)
	if !ok {
		return nil
	}
	return node
}
