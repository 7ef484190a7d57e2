package httputil

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crozierhq/crozier/pkg/auth"
	"github.com/crozierhq/crozier/pkg/authz"
	"github.com/crozierhq/crozier/pkg/cascade"
	"github.com/crozierhq/crozier/pkg/hierarchy"
	"github.com/crozierhq/crozier/pkg/observability"
	"github.com/crozierhq/crozier/pkg/orgs"
	"github.com/crozierhq/crozier/pkg/quota"
)

// WriteDecisionDenied maps a denied decision to a status code by
// reason: a missing actor is 401, a malformed target path is the
// caller's fault (400), anything else is 403 carrying the reason.
func WriteDecisionDenied(w http.ResponseWriter, d authz.Decision) {
	switch d.Reason {
	case authz.ReasonNoActor:
		WriteUnauthorized(w, "authentication required")
	case authz.ReasonMalformedTarget:
		WriteBadRequest(w, d.Reason)
	default:
		WriteDeniedError(w, d.Reason)
	}
}

// WriteDomainError maps a domain error to an HTTP response. Every
// handler funnels errors through here so the error taxonomy maps to
// status codes in exactly one place.
//
// A partial cascade failure must be checked before anything else: it
// wraps the underlying cause, and unwrapping would otherwise match the
// inner error and report the wrong status.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var partial *cascade.PartialFailureError
	if errors.As(err, &partial) {
		writePartialFailure(w, r, partial)
		return
	}

	var unauthed *auth.UnauthenticatedError
	if errors.As(err, &unauthed) {
		WriteUnauthorized(w, unauthed.Error())
		return
	}

	var invalid *hierarchy.InvalidHierarchyError
	if errors.As(err, &invalid) {
		WriteBadRequest(w, invalid.Error())
		return
	}

	var quotaErr *quota.QuotaExceededError
	if errors.As(err, &quotaErr) {
		WriteDetailedError(w, http.StatusConflict, quotaErr, map[string]string{
			"role":     quotaErr.Role,
			"org_path": quotaErr.OrgPath.String(),
			"current":  strconv.Itoa(quotaErr.Current),
			"max":      strconv.Itoa(quotaErr.Max),
		})
		return
	}

	var busy *cascade.SubtreeBusyError
	if errors.As(err, &busy) {
		WriteConflict(w, busy.Error())
		return
	}

	var dup *orgs.DuplicateError
	if errors.As(err, &dup) {
		WriteConflict(w, dup.Error())
		return
	}

	var notEmpty *orgs.SubtreeNotEmptyError
	if errors.As(err, &notEmpty) {
		WriteConflict(w, notEmpty.Error())
		return
	}

	var notFound *orgs.NotFoundError
	if errors.As(err, &notFound) {
		WriteNotFoundError(w, notFound.Error())
		return
	}

	observability.FromContext(r.Context()).WithError(err).Error("unhandled domain error")
	WriteInternalError(w, err)
}

// writePartialFailure reports 502: the journal entry is durable but the
// tree writes did not finish, so the client must not blindly retry. The
// journal ID goes in the response and the error log so operators can
// watch the reconciler pick it up.
func writePartialFailure(w http.ResponseWriter, r *http.Request, pf *cascade.PartialFailureError) {
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"journal_id":   pf.JournalID,
		"cascade_kind": string(pf.Kind),
	}).WithError(pf.Err).Error("cascade incomplete, queued for reconciliation")

	WriteDetailedError(w, http.StatusBadGateway, pf, map[string]string{
		"journal_id": pf.JournalID,
	})
}
