package middleware

import (
	"net/http"

	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/orgs"
)

// RequirePermission builds route middleware that checks one permission
// against the org node loaded by NodeContext. Routes whose target is
// not an org node (assignment IDs, request bodies) skip this and call
// the engine from the handler instead.
func RequirePermission(engine *authz.Engine, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var target authz.Target
			if node := GetNode(r); node != nil {
				target = NodeTarget(node)
			}

			decision := engine.Decide(GetActor(r), resource, action, target)
			if !decision.Allowed {
				httputil.WriteDecisionDenied(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NodeTarget builds the decision target for an org node. Team nodes
// carry their own ID as the team so team-anchored grants can match.
func NodeTarget(node *orgs.Node) authz.Target {
	target := authz.Target{
		Path:   node.Path,
		Region: node.Region,
	}
	if node.Level == hierarchy.LevelTeam {
		target.TeamID = node.ID
	}
	return target
}
