package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/orgs"
)

// TokenHandlers manages API tokens. Tokens are self-service; acting on
// another actor's tokens takes a super administrator.
type TokenHandlers struct {
	tokens *auth.TokenStore
	audit  audit.Logger
}

// NewTokenHandlers creates the token handler group.
func NewTokenHandlers(tokens *auth.TokenStore, auditLog audit.Logger) *TokenHandlers {
	return &TokenHandlers{tokens: tokens, audit: auditLog}
}

// Register mounts the token routes.
func (h *TokenHandlers) Register(api *mux.Router) {
	api.HandleFunc("/tokens", h.CreateToken).Methods("POST")
	api.HandleFunc("/tokens", h.ListTokens).Methods("GET")
	api.HandleFunc("/tokens/{id}", h.RevokeToken).Methods("DELETE")
}

type createTokenRequest struct {
	Name      string     `json:"name"`
	ActorID   string     `json:"actor_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type tokenResponse struct {
	Token string         `json:"token"`
	Info  *auth.APIToken `json:"info"`
}

// CreateToken handles POST /api/v1/tokens. The plaintext token appears
// in this response and nowhere else.
func (h *TokenHandlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	subject := caller.ID
	if req.ActorID != "" && req.ActorID != caller.ID {
		if !caller.Super {
			httputil.WriteDeniedError(w, authz.ReasonNoMatch)
			return
		}
		subject = req.ActorID
	}

	record, plaintext, err := h.tokens.Create(r.Context(), subject, req.Name, req.ExpiresAt)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(caller.ID, audit.ActionTokenCreate, record.ID).
		WithDetail("actor_id", subject).
		WithDetail("name", req.Name))
	httputil.WriteCreated(w, tokenResponse{Token: plaintext, Info: record})
}

// ListTokens handles GET /api/v1/tokens. Revoked tokens are included
// so an actor can see the full history of their credentials.
func (h *TokenHandlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	subject := httputil.ParseQueryString(r, "actor_id", caller.ID)
	if subject != caller.ID && !caller.Super {
		httputil.WriteDeniedError(w, authz.ReasonNoMatch)
		return
	}

	tokens, err := h.tokens.ListByActor(r.Context(), subject)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}
	httputil.WriteSuccess(w, tokens)
}

// RevokeToken handles DELETE /api/v1/tokens/{id}. A token the caller
// does not own reads as not found rather than forbidden, so token IDs
// cannot be probed.
func (h *TokenHandlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetActor(r)
	if caller == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id := mux.Vars(r)["id"]

	if !caller.Super {
		owned, err := h.tokens.ListByActor(r.Context(), caller.ID)
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		mine := false
		for _, t := range owned {
			if t.ID == id {
				mine = true
				break
			}
		}
		if !mine {
			httputil.WriteDomainError(w, r, &orgs.NotFoundError{Kind: "token", Ref: id})
			return
		}
	}

	if err := h.tokens.Revoke(r.Context(), id, caller.ID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.Success(caller.ID, audit.ActionTokenRevoke, id))
	httputil.WriteNoContent(w)
}
