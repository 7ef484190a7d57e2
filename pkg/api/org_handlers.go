package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/orgs"
)

// OrgHandlers serves the org tree: node CRUD, structural operations,
// and the service leaves.
type OrgHandlers struct {
	manager *orgs.Manager
	cascade *cascade.Coordinator
	engine  *authz.Engine
	audit   audit.Logger
}

// NewOrgHandlers creates the org handler group.
func NewOrgHandlers(manager *orgs.Manager, coordinator *cascade.Coordinator, engine *authz.Engine, auditLog audit.Logger) *OrgHandlers {
	return &OrgHandlers{
		manager: manager,
		cascade: coordinator,
		engine:  engine,
		audit:   auditLog,
	}
}

// Register mounts the org routes. node is the subrouter that already
// carries NodeContext for /orgs/{id} paths.
func (h *OrgHandlers) Register(api, node *mux.Router) {
	api.HandleFunc("/orgs", h.CreateNode).Methods("POST")
	api.HandleFunc("/orgs", h.ListNodes).Methods("GET")

	read := middleware.RequirePermission(h.engine, "orgs", "read")
	manage := middleware.RequirePermission(h.engine, "orgs", "manage")

	node.Handle("", read(http.HandlerFunc(h.GetNode))).Methods("GET")
	node.Handle("", manage(http.HandlerFunc(h.UpdateNode))).Methods("PATCH")
	node.Handle("", manage(http.HandlerFunc(h.DeleteNode))).Methods("DELETE")
	node.Handle("/children", read(http.HandlerFunc(h.Children))).Methods("GET")
	node.Handle("/subtree", read(http.HandlerFunc(h.Subtree))).Methods("GET")
	node.Handle("/move", manage(http.HandlerFunc(h.MoveNode))).Methods("POST")
	node.Handle("/deactivate", manage(http.HandlerFunc(h.DeactivateNode))).Methods("POST")

	api.HandleFunc("/services", h.CreateService).Methods("POST")
	api.HandleFunc("/services/{id}", h.GetService).Methods("GET")
	api.HandleFunc("/services/{id}/archive", h.ArchiveService).Methods("POST")
}

// CreateNode handles POST /api/v1/orgs. The permission target is the
// path the new node will occupy, so subordinate-scoped grants anchored
// at the parent still match. Creating a union root has no parent and
// needs tree-wide power.
func (h *OrgHandlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	var req orgs.CreateNodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ID, "id") ||
		!httputil.RequireNonEmpty(w, req.Name, "name") ||
		!httputil.RequireNonEmpty(w, req.Level, "level") {
		return
	}

	var target authz.Target
	if req.ParentPath != "" {
		parent, err := h.manager.GetNodeByPath(r.Context(), hierarchy.Path(req.ParentPath))
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		target = landingTarget(parent, req.ID)
	}
	if d := h.engine.Decide(actor, "orgs", "manage", target); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	created, err := h.manager.CreateNode(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(actor.ID, audit.ActionOrgCreate, created.Path.String()).
		WithDetail("org_path", created.Path.String()).
		WithDetail("level", created.Level.String()))
	httputil.WriteCreated(w, created)
}

// ListNodes handles GET /api/v1/orgs?level=. The list is filtered to
// the nodes the caller may read, so a church admin asking for every
// church sees only their own.
func (h *OrgHandlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	nodes, err := h.manager.List(r.Context(), httputil.ParseQueryString(r, "level", ""))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	visible := make([]*orgs.Node, 0, len(nodes))
	for _, n := range nodes {
		if h.engine.Decide(actor, "orgs", "read", middleware.NodeTarget(n)).Allowed {
			visible = append(visible, n)
		}
	}
	httputil.WriteSuccess(w, visible)
}

// GetNode handles GET /api/v1/orgs/{id}.
func (h *OrgHandlers) GetNode(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.GetNode(r))
}

// Children handles GET /api/v1/orgs/{id}/children.
func (h *OrgHandlers) Children(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNode(r)
	children, err := h.manager.Children(r.Context(), node.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, children)
}

// Subtree handles GET /api/v1/orgs/{id}/subtree.
func (h *OrgHandlers) Subtree(w http.ResponseWriter, r *http.Request) {
	node := middleware.GetNode(r)
	subtree, err := h.manager.Subtree(r.Context(), node.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, subtree)
}

// UpdateNode handles PATCH /api/v1/orgs/{id}: rename or retag. IDs and
// paths are immutable, so nothing cascades.
func (h *OrgHandlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	node := middleware.GetNode(r)

	var req orgs.UpdateNodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := h.manager.Update(r.Context(), node.ID, &req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(actor.ID, audit.ActionOrgUpdate, updated.Path.String()).
		WithDetail("org_path", updated.Path.String()))
	httputil.WriteSuccess(w, updated)
}

type moveRequest struct {
	NewParentID string `json:"new_parent_id"`
}

// MoveNode handles POST /api/v1/orgs/{id}/move. The route guard covers
// the node's current position; the destination gets its own check
// against the path the subtree will land on, so an admin cannot move a
// subtree into territory they do not manage.
func (h *OrgHandlers) MoveNode(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	node := middleware.GetNode(r)

	var req moveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.NewParentID, "new_parent_id") {
		return
	}

	parent, err := h.manager.GetNode(r.Context(), req.NewParentID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if d := h.engine.Decide(actor, "orgs", "manage", landingTarget(parent, node.ID)); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	moved, err := h.cascade.Move(r.Context(), node.ID, req.NewParentID, actor.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, moved)
}

// DeactivateNode handles POST /api/v1/orgs/{id}/deactivate.
func (h *OrgHandlers) DeactivateNode(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	node := middleware.GetNode(r)

	deactivated, err := h.cascade.Deactivate(r.Context(), node.ID, actor.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, deactivated)
}

// DeleteNode handles DELETE /api/v1/orgs/{id}. Hard deletes reject
// non-empty subtrees; deactivation is the terminal operation for those.
func (h *OrgHandlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)
	node := middleware.GetNode(r)

	if err := h.manager.Delete(r.Context(), node.ID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(actor.ID, audit.ActionOrgDestroy, node.Path.String()).
		WithDetail("org_path", node.Path.String()))
	httputil.WriteNoContent(w)
}

// CreateService handles POST /api/v1/services.
func (h *OrgHandlers) CreateService(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	var req orgs.CreateServiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TeamPath, "team_path") ||
		!httputil.RequireNonEmpty(w, req.ID, "id") ||
		!httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	team, err := h.manager.GetNodeByPath(r.Context(), hierarchy.Path(req.TeamPath))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if d := h.engine.Decide(actor, "services", "manage", landingTarget(team, req.ID)); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	created, err := h.manager.CreateService(r.Context(), &req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(actor.ID, audit.ActionServiceCreate, created.Path.String()).
		WithDetail("org_path", team.Path.String()))
	httputil.WriteCreated(w, created)
}

// GetService handles GET /api/v1/services/{id}.
func (h *OrgHandlers) GetService(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	svc, err := h.manager.GetService(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if d := h.engine.Decide(actor, "services", "read", h.serviceTarget(r, svc)); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}
	httputil.WriteSuccess(w, svc)
}

// ArchiveService handles POST /api/v1/services/{id}/archive. Archiving
// is terminal; an archived service is never reactivated.
func (h *OrgHandlers) ArchiveService(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r)

	svc, err := h.manager.GetService(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if d := h.engine.Decide(actor, "services", "manage", h.serviceTarget(r, svc)); !d.Allowed {
		httputil.WriteDecisionDenied(w, d)
		return
	}

	archived, err := h.manager.ArchiveService(r.Context(), svc.ID, actor.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(actor.ID, audit.ActionServiceArchive, archived.Path.String()).
		WithDetail("org_path", archived.Path.String()))
	httputil.WriteSuccess(w, archived)
}

// landingTarget positions a node or service that is about to land under
// parent: the path it will occupy, carrying the parent's region and, for
// team parents, the team anchor.
func landingTarget(parent *orgs.Node, id string) authz.Target {
	target := authz.Target{
		Path:   hierarchy.Join(parent.Path, id),
		Region: parent.Region,
	}
	if parent.Level == hierarchy.LevelTeam {
		target.TeamID = parent.ID
	}
	return target
}

// serviceTarget positions a service for a permission check: its own
// path, anchored to the owning team. The team node supplies the region
// tag; a missing team degrades to a path-only target rather than
// blocking the check.
func (h *OrgHandlers) serviceTarget(r *http.Request, svc *orgs.Service) authz.Target {
	target := authz.Target{Path: svc.Path}
	teamPath, ok := svc.Path.Parent()
	if !ok {
		return target
	}
	target.TeamID = teamPath.Leaf()
	if team, err := h.manager.GetNodeByPath(r.Context(), teamPath); err == nil {
		target.Region = team.Region
	}
	return target
}
