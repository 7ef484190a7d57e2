package authz

import (
	"context"
	"time"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// Scope restricts a permission to a relation between the grant's anchor
// and the target.
type Scope string

const (
	// ScopeNone is the implicit scope of strings without a scope suffix.
	// It behaves like ScopeOwn: the grant applies to its own org only.
	ScopeNone Scope = ""

	ScopeOwn             Scope = "own"
	ScopeSubordinate     Scope = "subordinate"
	ScopeAll             Scope = "all"
	ScopeTeam            Scope = "team"
	ScopeTeamSubordinate Scope = "team_subordinate"
	ScopeRegion          Scope = "region"
)

// Valid reports whether s is a recognized scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeNone, ScopeOwn, ScopeSubordinate, ScopeAll, ScopeTeam, ScopeTeamSubordinate, ScopeRegion:
		return true
	}
	return false
}

// Wildcard matches any resource or action in a permission string.
const Wildcard = "*"

// Permission is one parsed permission string.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    Scope  `json:"scope,omitempty"`
}

// String renders the permission back into grammar form.
func (p Permission) String() string {
	if p.Resource == Wildcard && p.Action == Wildcard && p.Scope == ScopeNone {
		return Wildcard
	}
	s := p.Resource + "." + p.Action
	if p.Scope != ScopeNone {
		s += ":" + string(p.Scope)
	}
	return s
}

// matches checks the resource/action pair, honoring wildcards.
func (p Permission) matches(resource, action string) bool {
	if p.Resource != Wildcard && p.Resource != resource {
		return false
	}
	if p.Action != Wildcard && p.Action != action {
		return false
	}
	return true
}

// Grant is a (anchor, permission set) pair held by an actor. The anchor
// is either a tree path or a team ID; team-anchored grants carry no path
// and satisfy only the team scopes (and "all").
type Grant struct {
	Role        string         `json:"role"`
	Path        hierarchy.Path `json:"path,omitempty"`
	TeamID      string         `json:"team_id,omitempty"`
	Region      string         `json:"region,omitempty"`
	Primary     bool           `json:"primary"`
	Permissions []Permission   `json:"permissions"`
}

// Anchor describes the grant's anchor for log and reason strings.
func (g *Grant) Anchor() string {
	switch {
	case g.Path != "":
		return string(g.Path)
	case g.TeamID != "":
		return "team:" + g.TeamID
	default:
		return "unanchored"
	}
}

// Actor is a resolved caller: the super flag plus grants in assignment
// order. Order matters only to context resolution, never to Decide.
type Actor struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Super      bool           `json:"super"`
	PrimaryOrg hierarchy.Path `json:"primary_org,omitempty"`
	Grants     []Grant        `json:"grants"`
}

// Target identifies what a decision is about. Path positions the target
// in the tree; TeamID, Region and LedBy are caller-supplied context for
// the scopes that cannot be derived from paths alone. LedBy lists the
// team IDs whose team leads the target's team.
type Target struct {
	Path   hierarchy.Path `json:"path,omitempty"`
	TeamID string         `json:"team_id,omitempty"`
	Region string         `json:"region,omitempty"`
	LedBy  []string       `json:"led_by,omitempty"`
}

// Decision reason strings. Deny reasons are part of the API surface:
// handlers branch on them to pick status codes.
const (
	ReasonSuper           = "super administrator"
	ReasonNoActor         = "no actor resolved"
	ReasonNoGrants        = "no role assigned"
	ReasonNoMatch         = "insufficient permissions"
	ReasonMalformedTarget = "malformed target path"
)

// Decision is the typed outcome of a permission check. Decide never
// returns an error; callers branch on Allowed and Reason.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	Target    Target    `json:"target"`
	Matched   *Grant    `json:"matched,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Directory resolves actor IDs to actors with their grants loaded and
// permission strings already parsed. Implemented in pkg/roles against
// postgres. An actor with no assignments resolves to an actor with no
// grants, not an error; errors mean the directory itself failed.
type Directory interface {
	Lookup(ctx context.Context, actorID string) (*Actor, error)
}
