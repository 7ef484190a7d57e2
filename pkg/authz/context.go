package authz

import "fmt"

// ContextPolicy picks the grant an actor acts under when a request names
// no explicit target organization. The tie-break deliberately is an
// injectable function: observed deployments disagree on it, so behavior
// must be pinned by configuration and by tests, not buried in the engine.
type ContextPolicy func(actor *Actor) *Grant

// PreferPrimaryContext returns the grant anchored at the actor's declared
// primary organization, falling back to the first grant in assignment
// order. This is the default policy.
func PreferPrimaryContext(actor *Actor) *Grant {
	if len(actor.Grants) == 0 {
		return nil
	}
	if actor.PrimaryOrg != "" {
		for i := range actor.Grants {
			if actor.Grants[i].Path == actor.PrimaryOrg {
				return &actor.Grants[i]
			}
		}
	}
	for i := range actor.Grants {
		if actor.Grants[i].Primary {
			return &actor.Grants[i]
		}
	}
	return &actor.Grants[0]
}

// FirstAssignedContext strictly takes the first grant in assignment
// order, ignoring primary-organization markers.
func FirstAssignedContext(actor *Actor) *Grant {
	if len(actor.Grants) == 0 {
		return nil
	}
	return &actor.Grants[0]
}

// ParseContextPolicy maps a config value to a policy.
func ParseContextPolicy(name string) (ContextPolicy, error) {
	switch name {
	case "", "primary":
		return PreferPrimaryContext, nil
	case "first":
		return FirstAssignedContext, nil
	default:
		return nil, fmt.Errorf("unknown context policy %q (want primary or first)", name)
	}
}
