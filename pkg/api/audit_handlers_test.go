package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/authz"
)

// fakeSearcher records the filter it was asked for and returns canned
// events.
type fakeSearcher struct {
	filter audit.SearchFilter
	events []*audit.Event
	err    error
}

func (f *fakeSearcher) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	f.filter = filter
	return f.events, f.err
}

func newAuditSearchFixture() (*AuditHandlers, *fakeSearcher) {
	searcher := &fakeSearcher{events: []*audit.Event{
		audit.Success("alice", audit.ActionOrgCreate, "U1/C1/CH2"),
		audit.Denied("bob", audit.ActionRoleAssign, "carol", "no matching grant"),
	}}
	return NewAuditHandlers(searcher, authz.NewEngine()), searcher
}

func TestSearchEvents_SuperTreeWide(t *testing.T) {
	h, searcher := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?actor_id=alice&limit=25", nil, superActor("root-1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "org.create")
	assert.Contains(t, w.Body.String(), "role.assign")
	assert.Equal(t, "alice", searcher.filter.ActorID)
	assert.Equal(t, 25, searcher.filter.Limit)
	assert.Empty(t, searcher.filter.OrgPath)
}

func TestSearchEvents_NonSuperNeedsAnchor(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events", nil,
		grantedActor(t, "admin-1", "union-admin", "U1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	// Tree-wide queries are a super power; everyone else names the
	// subtree they are allowed to see.
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchEvents_ScopedToAnchor(t *testing.T) {
	h, searcher := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?org_path=U1/C1", nil,
		grantedActor(t, "admin-1", "union-admin", "U1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "U1/C1", string(searcher.filter.OrgPath))
}

func TestSearchEvents_DeniedOutsideScope(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?org_path=U9/C9", nil,
		grantedActor(t, "admin-1", "union-admin", "U1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchEvents_RegionalAuditor(t *testing.T) {
	h, searcher := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?org_path=U1/C1", nil,
		grantedActor(t, "aud-1", "regional-auditor", "U1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "U1/C1", string(searcher.filter.OrgPath))
}

func TestSearchEvents_BadTimestamp(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?since=yesterday", nil, superActor("root-1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "RFC 3339")
}

func TestSearchEvents_BadLimit(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?limit=ten", nil, superActor("root-1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEvents_InvalidOrgPath(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events?org_path=U1//C1", nil, superActor("root-1"))
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEvents_Unauthenticated(t *testing.T) {
	h, _ := newAuditSearchFixture()

	req := authedRequest("GET", "/api/v1/audit/events", nil, nil)
	w := httptest.NewRecorder()
	h.SearchEvents(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
