package authz

import (
	"fmt"
	"strings"
)

// ParsePermission parses one permission string. The grammar is strict:
// anything outside it is an error, so malformed role definitions fail at
// load time instead of silently never matching.
func ParsePermission(s string) (Permission, error) {
	if s == Wildcard {
		return Permission{Resource: Wildcard, Action: Wildcard}, nil
	}

	base := s
	scope := ScopeNone
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		base = s[:idx]
		scope = Scope(s[idx+1:])
		if scope == ScopeNone {
			return Permission{}, fmt.Errorf("permission %q: empty scope", s)
		}
		if !scope.Valid() {
			return Permission{}, fmt.Errorf("permission %q: unknown scope %q", s, string(scope))
		}
	}

	parts := strings.Split(base, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("permission %q: want resource.action, resource.action:scope, resource.* or *", s)
	}
	resource, action := parts[0], parts[1]
	if resource == Wildcard {
		return Permission{}, fmt.Errorf("permission %q: wildcard resource is only valid as bare *", s)
	}
	if action == Wildcard && scope != ScopeNone {
		// resource.* carries no scope slot in the grammar.
		return Permission{}, fmt.Errorf("permission %q: resource.* cannot take a scope", s)
	}

	return Permission{Resource: resource, Action: action, Scope: scope}, nil
}

// ParsePermissions parses a full permission set, failing on the first
// bad string.
func ParsePermissions(raw []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}
