package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/middleware"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
	"github.com/crozierhq/crozier/pkg/roles"
)

// RateLimiter admits or rejects requests ahead of the handlers. Both
// the in-memory and the redis-backed middleware satisfy it.
type RateLimiter interface {
	Handler(next http.Handler) http.Handler
}

// AuditSearcher reads back stored audit events. The DB-backed audit
// logger satisfies it; file and no-op loggers do not, and deployments
// using those simply have no events endpoint.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
}

// ServerConfig wires the server's collaborators. Health, Registry,
// Metrics, RateLimit, Tokens, and AuditSearch are optional; routes
// that need an absent collaborator are not registered.
type ServerConfig struct {
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Registry      *prometheus.Registry
	Health        *observability.HealthChecker
	RateLimit     RateLimiter
	Authenticator auth.Authenticator
	Directory     authz.Directory
	Engine        *authz.Engine
	Orgs          *orgs.Manager
	Cascade       *cascade.Coordinator
	Roles         *roles.Service
	Catalog       *roles.Catalog
	Quota         *quota.Guard
	Tokens        *auth.TokenStore
	Audit         audit.Logger
	AuditSearch   AuditSearcher
}

// Server is the HTTP front of the authorization service.
type Server struct {
	cfg    ServerConfig
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the server and registers every route.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Engine == nil {
		cfg.Engine = authz.NewEngine()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes builds the middleware chain and mounts the handler
// groups. See pkg/middleware's package doc for why the order matters.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestLogger(s.logger))
	if s.cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	}
	s.router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "crozier-api")
	})

	// Probes and metrics stay outside authentication.
	if s.cfg.Health != nil {
		s.router.HandleFunc("/healthz", s.cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.cfg.Health.Readiness).Methods("GET")
	}
	if s.cfg.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	authn := middleware.NewAuthMiddleware(s.cfg.Authenticator, s.cfg.Directory, s.logger, false)
	api.Use(authn.Handler)
	if s.cfg.RateLimit != nil {
		api.Use(s.cfg.RateLimit.Handler)
	}

	// /orgs/{id} routes share the node-loading subrouter; everything
	// else resolves its own target.
	node := api.PathPrefix("/orgs/{id}").Subrouter()
	node.Use(middleware.NodeContext(s.cfg.Orgs))

	orgHandlers := NewOrgHandlers(s.cfg.Orgs, s.cfg.Cascade, s.cfg.Engine, s.cfg.Audit)
	orgHandlers.Register(api, node)

	roleHandlers := NewRoleHandlers(s.cfg.Catalog, s.cfg.Roles, s.cfg.Quota, s.cfg.Directory, s.cfg.Engine, s.cfg.Orgs)
	roleHandlers.Register(api, node)

	authzHandlers := NewAuthzHandlers(s.cfg.Engine, s.cfg.Directory, s.cfg.Metrics, s.cfg.Audit)
	authzHandlers.Register(api)

	if s.cfg.Tokens != nil {
		tokenHandlers := NewTokenHandlers(s.cfg.Tokens, s.cfg.Audit)
		tokenHandlers.Register(api)
	}
	if s.cfg.AuditSearch != nil {
		auditHandlers := NewAuditHandlers(s.cfg.AuditSearch, s.cfg.Engine)
		auditHandlers.Register(api)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
