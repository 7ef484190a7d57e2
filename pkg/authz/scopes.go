package authz

import "github.com/crozierhq/crozier/pkg/hierarchy"

// satisfies reports whether a single parsed permission grants
// (resource, action) on the target, given the grant it belongs to.
// Path-relation scopes require both the grant and the target to be
// path-anchored; team scopes require the grant's team anchor.
func satisfies(p Permission, g *Grant, resource, action string, target Target) bool {
	if !p.matches(resource, action) {
		return false
	}

	switch p.Scope {
	case ScopeAll:
		return true
	case ScopeNone, ScopeOwn:
		return pathsRelate(g, target) == hierarchy.RelationEqual
	case ScopeSubordinate:
		// Strictly above the target: Equal does not satisfy.
		return pathsRelate(g, target) == hierarchy.RelationAncestor
	case ScopeTeam:
		return g.TeamID != "" && g.TeamID == target.TeamID
	case ScopeTeamSubordinate:
		if g.TeamID == "" {
			return false
		}
		for _, leader := range target.LedBy {
			if leader == g.TeamID {
				return true
			}
		}
		return false
	case ScopeRegion:
		if rel := pathsRelate(g, target); rel == hierarchy.RelationAncestor || rel == hierarchy.RelationEqual {
			return true
		}
		return g.Region != "" && g.Region == target.Region
	default:
		return false
	}
}

// pathsRelate computes the grant/target path relation. Grants or targets
// without a path (team-anchored grants, team-only targets) relate to
// nothing.
func pathsRelate(g *Grant, target Target) hierarchy.Relation {
	if g.Path == "" || target.Path == "" {
		return hierarchy.RelationUnrelated
	}
	return hierarchy.Relate(g.Path, target.Path)
}
