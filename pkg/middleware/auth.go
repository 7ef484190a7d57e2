package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/contextkeys"
	"github.com/crozierhq/crozier/pkg/httputil"
	"github.com/crozierhq/crozier/pkg/observability"
)

// AuthMiddleware authenticates bearer tokens and resolves the acting
// actor. The authenticator only answers who is calling; the directory
// loads that actor's grants so downstream permission checks never touch
// storage themselves.
type AuthMiddleware struct {
	authenticator auth.Authenticator
	directory     authz.Directory
	logger        *observability.Logger
	optional      bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. With
// optional set, unauthenticated requests pass through with no actor in
// context; protected routes still deny because the engine reports no
// actor resolved.
func NewAuthMiddleware(authenticator auth.Authenticator, directory authz.Directory, logger *observability.Logger, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		directory:     directory,
		logger:        logger,
		optional:      optional,
	}
}

// Handler wraps an HTTP handler with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract token from Authorization header
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		ctx := r.Context()
		actorID, err := m.authenticator.Authenticate(ctx, parts[1])
		if err != nil {
			if auth.IsUnauthenticated(err) {
				httputil.WriteUnauthorized(w, err.Error())
				return
			}
			// Backend failure, not a bad credential. 503 so clients
			// retry instead of discarding their token.
			m.requestLogger(ctx).WithError(err).Error("authentication backend failed")
			httputil.WriteServiceUnavailable(w, "authentication unavailable")
			return
		}

		actor, err := m.directory.Lookup(ctx, actorID)
		if err != nil {
			m.requestLogger(ctx).WithField("actor_id", actorID).WithError(err).Error("actor directory lookup failed")
			httputil.WriteServiceUnavailable(w, "actor directory unavailable")
			return
		}

		ctx = observability.WithActorID(ctx, actorID)
		ctx = contextkeys.WithActor(ctx, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) requestLogger(ctx context.Context) *observability.Logger {
	logger := m.logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger
}

// GetActor returns the actor resolved by AuthMiddleware, nil when the
// request carried no credentials.
func GetActor(r *http.Request) *authz.Actor {
	actor, ok := r.Context().Value(contextkeys.ActorKey).(*authz.Actor)
	if !ok {
		return nil
	}
	return actor
}
