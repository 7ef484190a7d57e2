package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/roles"
)

// RoleHandlers serves the role catalog, assignments, and per-actor
// views.
type RoleHandlers struct {
	catalog   *roles.Catalog
	service   *roles.Service
	quota     *quota.Guard
	directory authz.Directory
	engine    *authz.Engine
	orgs      *orgs.Manager
}

// NewRoleHandlers creates the role handler group.
func NewRoleHandlers(catalog *roles.Catalog, service *roles.Service, guard *quota.Guard, directory authz.Directory, engine *authz.Engine, manager *orgs.Manager) *RoleHandlers {
	return &RoleHandlers{
		catalog:   catalog,
		service:   service,
		quota:     guard,
		directory: directory,
		engine:    engine,
		orgs:      manager,
	}
}

// Register mounts the role routes. node is the /orgs/{id} subrouter.
func (h *RoleHandlers) Register(api, node *mux.Router) {
	api.HandleFunc("/roles", h.ListRoles).Methods("GET")
	api.HandleFunc("/roles/{name}/quota", h.RoleQuota).Methods("GET")
	api.HandleFunc("/assignments", h.CreateAssignment).Methods("POST")
	api.HandleFunc("/assignments/{id}", h.DeleteAssignment).Methods("DELETE")
	api.HandleFunc("/actors/{id}/assignments", h.ActorAssignments).Methods("GET")
	api.HandleFunc("/actors/{id}/context", h.ActorContext).Methods("GET")

	assign := middleware.RequirePermission(h.engine, "roles", "assign")
	node.Handle("/assignments", assign(http.HandlerFunc(h.AssignmentsAt))).Methods("GET")
}

// ListRoles handles GET /api/v1/roles. The catalog is not secret;
// any authenticated caller may read it.
func (h *RoleHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.catalog.List())
}

type roleQuotaResponse struct {
	Role    string         `json:"role"`
	OrgPath hierarchy.Path `json:"org_path"`
	Quota   *quota.Status  `json:"quota"`
}

// RoleQuota handles GET /api/v1/roles/{name}/quota?org_path=. Coverage
// follows assignment power: whoever could assign the role there may see
// how much headroom is left.
func (h *RoleHandlers) RoleQuota(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	name := mux.Vars(r)["name"]

	if _, ok := h.catalog.Get(name); !ok {
		httputil.WriteDomainError(w, r, &orgs.NotFoundError{Kind: "role", Ref: name})
		return
	}

	rawPath := httputil.ParseQueryString(r, "org_path", "")
	if !httputil.RequireNonEmpty(w, rawPath, "org_path") {
		return
	}
	orgPath := hierarchy.Path(rawPath)
	if err := hierarchy.Validate(orgPath); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	if d := h.engine.Decide(actor, "roles", "assign", authz.Target{Path: orgPath}); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	status, err := h.quota.Check(r.Context(), name, orgPath)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roleQuotaResponse{Role: name, OrgPath: orgPath, Quota: status})
}

type assignmentResponse struct {
	Assignment *roles.Assignment `json:"assignment"`
	Quota      *quota.Status     `json:"quota,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

// CreateAssignment handles POST /api/v1/assignments. The quota is
// reserved inside the same transaction as the insert; a near-limit
// reservation succeeds but carries a warning.
func (h *RoleHandlers) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	var req roles.AssignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ActorID, "actor_id") ||
		!httputil.RequireNonEmpty(w, req.Role, "role") ||
		!httputil.RequireNonEmpty(w, req.OrgID, "org_id") {
		return
	}

	node, err := h.orgs.GetNode(r.Context(), req.OrgID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if d := h.engine.Decide(actor, "roles", "assign", middleware.NodeTarget(node)); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	req.AssignedBy = actor.ID
	assignment, status, err := h.service.Assign(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	resp := assignmentResponse{Assignment: assignment, Quota: status}
	if status != nil && status.NearLimit {
		resp.Warning = fmt.Sprintf("role %s is near its quota at %s: %d/%d", req.Role, node.Path, status.Current, status.Max)
	}
	httputil.WriteCreated(w, resp)
}

// DeleteAssignment handles DELETE /api/v1/assignments/{id}. The check
// runs against the assignment's own org path, loaded before the write.
func (h *RoleHandlers) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	id := mux.Vars(r)["id"]

	assignment, err := h.service.Assignment(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	target := authz.Target{Path: assignment.OrgPath, TeamID: assignment.TeamID}
	if d := h.engine.Decide(actor, "roles", "assign", target); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	if err := h.service.RevokeByID(r.Context(), id, actor.ID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ActorAssignments handles GET /api/v1/actors/{id}/assignments. Actors
// see their own list in full; anyone else sees only the rows they could
// themselves assign, so a conference admin inspecting a pastor does not
// learn about roles the pastor holds elsewhere.
func (h *RoleHandlers) ActorAssignments(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	subject := mux.Vars(r)["id"]

	includeInactive, err := httputil.ParseQueryBool(r, "include_inactive", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	assignments, err := h.service.Assignments(r.Context(), subject, includeInactive)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	visible := assignments
	if caller.ID != subject && !caller.Super {
		visible = make([]*roles.Assignment, 0, len(assignments))
		for _, a := range assignments {
			target := authz.Target{Path: a.OrgPath, TeamID: a.TeamID}
			if h.engine.Decide(caller, "roles", "assign", target).Allowed {
				visible = append(visible, a)
			}
		}
	}
	if visible == nil {
		visible = []*roles.Assignment{}
	}
	httputil.WriteSuccess(w, visible)
}

type actorContextResponse struct {
	ActorID     string         `json:"actor_id"`
	Super       bool           `json:"super"`
	PrimaryOrg  hierarchy.Path `json:"primary_org,omitempty"`
	ActingGrant *authz.Grant   `json:"acting_grant,omitempty"`
}

// ActorContext handles GET /api/v1/actors/{id}/context: the grant the
// actor acts under when no explicit target is named. Limited to the
// actor themselves and super administrators.
func (h *RoleHandlers) ActorContext(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	subject := mux.Vars(r)["id"]
	if caller.ID != subject && !caller.Super {
		httputil.WriteDeniedError(w, authz.ReasonNoMatch)
		return
	}

	actor, err := h.directory.Lookup(r.Context(), subject)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, actorContextResponse{
		ActorID:     actor.ID,
		Super:       actor.Super,
		PrimaryOrg:  actor.PrimaryOrg,
		ActingGrant: h.engine.ActingGrant(actor),
	})
}

// AssignmentsAt handles GET /api/v1/orgs/{id}/assignments: the active
// assignments anchored exactly at the node.
func (h *RoleHandlers) AssignmentsAt(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNode(r)

	assignments, err := h.service.AssignmentsAt(r.Context(), node.Path)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if assignments == nil {
		assignments = []*roles.Assignment{}
	}
	httputil.WriteSuccess(w, assignments)
}
