package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/middleware"
)

// AuditHandlers serves the audit trail. Tree-wide queries are reserved
// for super administrators; everyone else must name an org path and
// hold audit.read there.
type AuditHandlers struct {
	search AuditSearcher
	engine *authz.Engine
}

// NewAuditHandlers creates the audit handler group.
func NewAuditHandlers(search AuditSearcher, engine *authz.Engine) *AuditHandlers {
	return &AuditHandlers{search: search, engine: engine}
}

// Register mounts the audit routes.
func (h *AuditHandlers) Register(api *mux.Router) {
	api.HandleFunc("/audit/events", h.SearchEvents).Methods("GET")
}

// SearchEvents handles GET /api/v1/audit/events.
func (h *AuditHandlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	filter := audit.SearchFilter{
		ActorID: httputil.ParseQueryString(r, "actor_id", ""),
		Action:  audit.Action(httputil.ParseQueryString(r, "action", "")),
		Outcome: audit.Outcome(httputil.ParseQueryString(r, "outcome", "")),
		Target:  httputil.ParseQueryString(r, "target", ""),
	}

	var err error
	filter.Limit, err = httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if raw := httputil.ParseQueryString(r, "since", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &t
	}
	if raw := httputil.ParseQueryString(r, "until", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "until must be an RFC 3339 timestamp")
			return
		}
		filter.Until = &t
	}

	if raw := httputil.ParseQueryString(r, "org_path", ""); raw != "" {
		orgPath := hierarchy.Path(raw)
		if err := hierarchy.Validate(orgPath); err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		if d := h.engine.Decide(caller, "audit", "read", authz.Target{Path: orgPath}); !d.Allowed {
			httputil.WriteDecisionDenied(w, d)
			return
		}
		filter.OrgPath = orgPath
	} else if !caller.Super {
		httputil.WriteDeniedError(w, authz.ReasonNoMatch)
		return
	}

	events, err := h.search.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, events)
}
