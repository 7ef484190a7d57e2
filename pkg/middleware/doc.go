// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Overview
//
// This package implements request processing middleware: request IDs, panic
// recovery, structured request logging, bearer authentication with actor
// resolution, org-node context loading, permission checks, and rate limiting
// (in-memory and Redis-backed).
//
// # Middleware Ordering Requirements
//
// The chain has strict ordering dependencies. Incorrect order makes later
// stages silently degrade rather than fail loudly.
//
// REQUIRED ORDERING (outer to inner):
//  1. RequestID - generates the ID every later log line carries
//  2. Recovery - catches panics from everything below it
//  3. RequestLogger - logs with the request ID, stores the logger in context
//  4. AuthMiddleware - resolves the actor, stores it in context
//  5. Rate limiting - keys by actor when one is resolved, by client IP otherwise
//  6. NodeContext - loads the org node named by the route (org subrouter only)
//  7. RequirePermission - decides against the actor and node from context
//
// Example (correct):
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.Recovery(logger))
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(authMW.Handler)
//	router.Use(rateLimitMW.Handler)
//
//	orgRouter := router.PathPrefix("/api/v1/orgs/{id}").Subrouter()
//	orgRouter.Use(middleware.NodeContext(manager))
//	orgRouter.Handle("", getHandler).Methods("GET")
//
// If rate limiting runs before AuthMiddleware, every request is keyed by IP
// and authenticated clients behind one proxy share a single bucket. If
// RequirePermission runs outside NodeContext, decisions are made against an
// empty target and scoped grants never match.
//
// NodeContext must only be mounted on routes whose {id} variable names an
// org node. Mounting it globally breaks routes where {id} is an assignment
// or token ID.
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-Actor: 1000 req/min, 50 burst
//
// The Redis-backed limiter shares windows across instances and falls back to
// the in-memory limiter when Redis is unreachable.
//
// # Related Packages
//
//   - pkg/auth: token and OIDC authentication
//   - pkg/authz: decision engine
//   - pkg/roles: actor directory
//   - pkg/httputil: response and domain-error helpers
package middleware
