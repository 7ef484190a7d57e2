// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and generic HTTP middleware. Domain errors are
// translated to status codes by WriteDomainError, which keeps the mapping between
// the error taxonomy and HTTP in one place.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, node)
//	httputil.WriteSuccessMessage(w, "subtree deactivated", result)
//
// Error responses:
//
//	httputil.WriteDomainError(w, err)
//	httputil.WriteBadRequest(w, "invalid input")
//	httputil.WriteUnauthorized(w, "token expired")
//	httputil.WriteDeniedError(w, decision.Reason)
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateNodeRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	path, ok := httputil.ParsePathStringOrError(w, r, "path")
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//	orgPath := httputil.ParseQueryString(r, "org_path", "")
//	includeServices, err := httputil.ParseQueryBool(r, "include_services", false)
//
// # Validation
//
//	httputil.ValidateAll(w,
//		func() (bool, string) { return req.ActorID != "", "actor_id is required" },
//		func() (bool, string) { return req.Role != "", "role is required" },
//	)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.CORSMiddleware([]string{"*"}),
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1*1024*1024), // 1MB
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication, authorization, rate limiting, request IDs
package httputil
