package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/observability"
)

// AuthzHandlers exposes the decision engine over HTTP.
type AuthzHandlers struct {
	engine    *authz.Engine
	directory authz.Directory
	metrics   *observability.Metrics
	audit     audit.Logger
}

// NewAuthzHandlers creates the authorization handler group.
func NewAuthzHandlers(engine *authz.Engine, directory authz.Directory, metrics *observability.Metrics, auditLog audit.Logger) *AuthzHandlers {
	return &AuthzHandlers{engine: engine, directory: directory, metrics: metrics, audit: auditLog}
}

// Register mounts the authz routes.
func (h *AuthzHandlers) Register(api *mux.Router) {
	api.HandleFunc("/authz/decide", h.Decide).Methods("POST")
}

type decideRequest struct {
	ActorID  string       `json:"actor_id,omitempty"`
	Resource string       `json:"resource"`
	Action   string       `json:"action"`
	Target   authz.Target `json:"target"`
}

// Decide handles POST /api/v1/authz/decide. The response is always 200
// with the decision in the body; a denial here is an answer, not an
// error. Asking about another actor requires the power to act on the
// same target, so the endpoint cannot be used to map grants the caller
// could not reach themselves.
func (h *AuthzHandlers) Decide(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req decideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Resource, "resource") ||
		!httputil.RequireNonEmpty(w, req.Action, "action") {
		return
	}

	subject := caller
	if req.ActorID != "" && req.ActorID != caller.ID {
		if !caller.Super {
			if gate := h.engine.Decide(caller, "authz", "decide", req.Target); !gate.Allowed {
				httputil.WriteDecisionDenied(w, gate)
				return
			}
		}
		var err error
		subject, err = h.directory.Lookup(r.Context(), req.ActorID)
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
	}

	start := time.Now()
	decision := h.engine.Decide(subject, req.Resource, req.Action, req.Target)
	if h.metrics != nil {
		h.metrics.RecordDecision(decision.Allowed, req.Resource, req.Action, time.Since(start))
	}

	var event *audit.Event
	if decision.Allowed {
		event = audit.Success(caller.ID, audit.ActionAuthzDecide, string(req.Target.Path))
	} else {
		event = audit.Denied(caller.ID, audit.ActionAuthzDecide, string(req.Target.Path), decision.Reason)
	}
	event.WithDetail("resource", req.Resource).
		WithDetail("action", req.Action).
		WithDetail("subject", subject.ID)
	if req.Target.Path != "" {
		event.WithDetail("org_path", string(req.Target.Path))
	}
	h.audit.Log(r.Context(), event)

	httputil.WriteSuccess(w, decision)
}
