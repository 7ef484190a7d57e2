package authz

import (
	"fmt"
	"time"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// Engine evaluates permission checks. It is stateless apart from the
// configured context policy and safe for concurrent use.
type Engine struct {
	contextPolicy ContextPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithContextPolicy overrides the acting-context tie-break policy.
func WithContextPolicy(policy ContextPolicy) Option {
	return func(e *Engine) {
		e.contextPolicy = policy
	}
}

// NewEngine builds an engine with PreferPrimaryContext as the default
// context policy.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{contextPolicy: PreferPrimaryContext}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide answers whether the actor may perform (resource, action) on the
// target. It never returns an error:
//
//  1. super actors are allowed outright,
//  2. a present-but-malformed target path denies with a reason handlers
//     map to 400 rather than 403,
//  3. an actor without grants denies with "no role assigned",
//  4. otherwise every permission of every grant is tried in order and
//     the first satisfying one allows,
//  5. nothing matched: "insufficient permissions".
func (e *Engine) Decide(actor *Actor, resource, action string, target Target) Decision {
	d := Decision{
		Resource:  resource,
		Action:    action,
		Target:    target,
		CheckedAt: time.Now().UTC(),
	}

	if actor == nil {
		d.Reason = ReasonNoActor
		return d
	}
	if actor.Super {
		d.Allowed = true
		d.Reason = ReasonSuper
		return d
	}
	if target.Path != "" {
		if err := hierarchy.Validate(target.Path); err != nil {
			d.Reason = ReasonMalformedTarget
			return d
		}
	}
	if len(actor.Grants) == 0 {
		d.Reason = ReasonNoGrants
		return d
	}

	for i := range actor.Grants {
		grant := &actor.Grants[i]
		for _, perm := range grant.Permissions {
			if satisfies(perm, grant, resource, action, target) {
				d.Allowed = true
				d.Reason = fmt.Sprintf("granted by role %s at %s", grant.Role, grant.Anchor())
				d.Matched = grant
				return d
			}
		}
	}

	d.Reason = ReasonNoMatch
	return d
}

// ActingGrant resolves which grant the actor is "acting under" when the
// caller names no explicit target organization, using the configured
// context policy. Nil when the actor holds no grants.
func (e *Engine) ActingGrant(actor *Actor) *Grant {
	if actor == nil {
		return nil
	}
	return e.contextPolicy(actor)
}
