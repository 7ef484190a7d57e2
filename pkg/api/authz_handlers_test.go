package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crozierhq/crozier/pkg/audit"
	"github.com/crozierhq/crozier/pkg/authz"
)

func newAuthzFixture() (*AuthzHandlers, *fakeDirectory, *auditSink) {
	directory := &fakeDirectory{actors: map[string]*authz.Actor{}}
	sink := &auditSink{}
	return NewAuthzHandlers(authz.NewEngine(), directory, nil, sink), directory, sink
}

func TestDecide_Self(t *testing.T) {
	h, _, sink := newAuthzFixture()

	pastor := grantedActor(t, "alice", "pastor", "U1/C1/CH2")
	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		Resource: "orgs",
		Action:   "read",
		Target:   authz.Target{Path: "U1/C1/CH2/T5"},
	}), pastor)
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)
	assert.Contains(t, w.Body.String(), `"role":"pastor"`)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionAuthzDecide, event.Action)
	assert.Equal(t, audit.OutcomeSuccess, event.Outcome)
	assert.Equal(t, "alice", event.Detail["subject"])
}

func TestDecide_DenialIsAnAnswer(t *testing.T) {
	h, _, sink := newAuthzFixture()

	member := grantedActor(t, "bob", "member", "U1/C1/CH2")
	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		Resource: "orgs",
		Action:   "manage",
		Target:   authz.Target{Path: "U1/C1/CH2"},
	}), member)
	w := httptest.NewRecorder()
	h.Decide(w, req)

	// The caller asked a question and got an answer. Denials are not
	// transport errors here.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
}

func TestDecide_OtherActorRequiresPower(t *testing.T) {
	h, directory, _ := newAuthzFixture()
	directory.actors["bob"] = grantedActor(t, "bob", "member", "U1/C1/CH2")

	// A catalog union-admin has no authz.decide permission, so asking
	// about someone else is refused outright.
	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		ActorID:  "bob",
		Resource: "orgs",
		Action:   "read",
		Target:   authz.Target{Path: "U1/C1/CH2"},
	}), grantedActor(t, "admin-1", "union-admin", "U1"))
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDecide_SuperAboutOther(t *testing.T) {
	h, directory, sink := newAuthzFixture()
	directory.actors["bob"] = grantedActor(t, "bob", "member", "U1/C1/CH2")

	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		ActorID:  "bob",
		Resource: "orgs",
		Action:   "read",
		Target:   authz.Target{Path: "U1/C1/CH2"},
	}), superActor("root-1"))
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)
	assert.Contains(t, w.Body.String(), `"role":"member"`)

	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, "root-1", event.ActorID)
	assert.Equal(t, "bob", event.Detail["subject"])
}

func TestDecide_DelegatedGate(t *testing.T) {
	h, directory, _ := newAuthzFixture()
	directory.actors["bob"] = grantedActor(t, "bob", "pastor", "U1/C1/CH2")

	// A custom catalog can hand out authz.decide, letting an admin ask
	// on behalf of actors within their subtree.
	inspector := &authz.Actor{ID: "insp-1", Grants: []authz.Grant{{
		Role:    "inspector",
		Path:    "U1",
		Primary: true,
		Permissions: []authz.Permission{
			{Resource: "authz", Action: "decide", Scope: authz.ScopeSubordinate},
		},
	}}}

	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		ActorID:  "bob",
		Resource: "teams",
		Action:   "manage",
		Target:   authz.Target{Path: "U1/C1/CH2/T5"},
	}), inspector)
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)
	assert.Contains(t, w.Body.String(), `"role":"pastor"`)
}

func TestDecide_Validation(t *testing.T) {
	h, _, _ := newAuthzFixture()

	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		Action: "read",
	}), superActor("root-1"))
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "resource is required")
}

func TestDecide_Unauthenticated(t *testing.T) {
	h, _, _ := newAuthzFixture()

	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		Resource: "orgs",
		Action:   "read",
	}), nil)
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDecide_MalformedTargetReported(t *testing.T) {
	h, _, _ := newAuthzFixture()

	req := authedRequest("POST", "/api/v1/authz/decide", jsonBody(t, decideRequest{
		Resource: "orgs",
		Action:   "read",
		Target:   authz.Target{Path: "U1//C1"},
	}), grantedActor(t, "alice", "pastor", "U1/C1/CH2"))
	w := httptest.NewRecorder()
	h.Decide(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)
	assert.Contains(t, w.Body.String(), authz.ReasonMalformedTarget)
}
