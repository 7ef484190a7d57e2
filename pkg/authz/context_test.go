package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferPrimaryContext(t *testing.T) {
	actor := &Actor{
		ID:         "a1",
		PrimaryOrg: "U1/C2",
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "primary", Path: "U1/C2"},
			{Role: "third", Path: "U1/C3"},
		},
	}

	g := PreferPrimaryContext(actor)
	require.NotNil(t, g)
	assert.Equal(t, "primary", g.Role)
}

func TestPreferPrimaryContext_PrimaryFlagFallback(t *testing.T) {
	// No declared primary org, but one assignment is flagged primary.
	actor := &Actor{
		ID: "a1",
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "flagged", Path: "U1/C2", Primary: true},
		},
	}

	g := PreferPrimaryContext(actor)
	require.NotNil(t, g)
	assert.Equal(t, "flagged", g.Role)
}

func TestPreferPrimaryContext_FallsBackToAssignmentOrder(t *testing.T) {
	actor := &Actor{
		ID:         "a1",
		PrimaryOrg: "U9/C9", // no grant there
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "second", Path: "U1/C2"},
		},
	}

	g := PreferPrimaryContext(actor)
	require.NotNil(t, g)
	assert.Equal(t, "first", g.Role)
}

func TestPreferPrimaryContext_NoGrants(t *testing.T) {
	assert.Nil(t, PreferPrimaryContext(&Actor{ID: "a1"}))
}

func TestFirstAssignedContext(t *testing.T) {
	actor := &Actor{
		ID:         "a1",
		PrimaryOrg: "U1/C2",
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "primary", Path: "U1/C2"},
		},
	}

	g := FirstAssignedContext(actor)
	require.NotNil(t, g)
	assert.Equal(t, "first", g.Role, "ignores the primary marker")

	assert.Nil(t, FirstAssignedContext(&Actor{}))
}

func TestParseContextPolicy(t *testing.T) {
	actor := &Actor{
		PrimaryOrg: "U1/C2",
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "primary", Path: "U1/C2"},
		},
	}

	p, err := ParseContextPolicy("primary")
	require.NoError(t, err)
	assert.Equal(t, "primary", p(actor).Role)

	p, err = ParseContextPolicy("first")
	require.NoError(t, err)
	assert.Equal(t, "first", p(actor).Role)

	p, err = ParseContextPolicy("")
	require.NoError(t, err)
	assert.Equal(t, "primary", p(actor).Role)

	_, err = ParseContextPolicy("random")
	assert.Error(t, err)
}

func TestEngine_ActingGrant(t *testing.T) {
	actor := &Actor{
		PrimaryOrg: "U1/C2",
		Grants: []Grant{
			{Role: "first", Path: "U1/C1"},
			{Role: "primary", Path: "U1/C2"},
		},
	}

	engine := NewEngine()
	require.NotNil(t, engine.ActingGrant(actor))
	assert.Equal(t, "primary", engine.ActingGrant(actor).Role)

	engine = NewEngine(WithContextPolicy(FirstAssignedContext))
	assert.Equal(t, "first", engine.ActingGrant(actor).Role)

	assert.Nil(t, engine.ActingGrant(nil))
}
