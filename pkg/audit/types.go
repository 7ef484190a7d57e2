package audit

import (
	"encoding/json"
	"time"

	"github.com/crozierhq/crozier/pkg/hierarchy"
)

// Action identifies what an actor did.
type Action string

const (
	ActionOrgCreate     Action = "org.create"
	ActionOrgUpdate     Action = "org.update"
	ActionOrgMove       Action = "org.move"
	ActionOrgDeactivate Action = "org.deactivate"
	ActionOrgDestroy    Action = "org.destroy"

	ActionServiceCreate  Action = "service.create"
	ActionServiceArchive Action = "service.archive"

	ActionRoleAssign Action = "role.assign"
	ActionRoleRevoke Action = "role.revoke"

	ActionAuthzDecide Action = "authz.decide"

	ActionTokenCreate Action = "token.create"
	ActionTokenRevoke Action = "token.revoke"

	ActionCascadeReconcile Action = "cascade.reconcile"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is a single audit record. Target holds the path or ID of
// whatever the action touched; Detail carries action-specific context
// (old path, new path, denial reason, journal id).
type Event struct {
	ID        int64                  `json:"id,omitempty"`
	ActorID   string                 `json:"actor_id"`
	Action    Action                 `json:"action"`
	Target    string                 `json:"target"`
	Outcome   Outcome                `json:"outcome"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ToJSON converts the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Success builds a success event.
func Success(actorID string, action Action, target string) *Event {
	return &Event{
		ActorID:   actorID,
		Action:    action,
		Target:    target,
		Outcome:   OutcomeSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

// Failure builds a failure event carrying the error text.
func Failure(actorID string, action Action, target string, err error) *Event {
	e := &Event{
		ActorID:   actorID,
		Action:    action,
		Target:    target,
		Outcome:   OutcomeFailure,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		e.Detail = map[string]interface{}{"error": err.Error()}
	}
	return e
}

// Denied builds a denied event carrying the denial reason.
func Denied(actorID string, action Action, target, reason string) *Event {
	return &Event{
		ActorID:   actorID,
		Action:    action,
		Target:    target,
		Outcome:   OutcomeDenied,
		Detail:    map[string]interface{}{"reason": reason},
		CreatedAt: time.Now().UTC(),
	}
}

// WithDetail attaches a key/value pair to the event and returns it, so
// callers can chain detail onto the constructors above.
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Detail == nil {
		e.Detail = make(map[string]interface{})
	}
	e.Detail[key] = value
	return e
}

// SearchFilter selects audit events. Zero-valued fields are ignored.
// OrgPath matches events whose target path or org_path detail equals
// the path or sits anywhere under it, so a subtree admin sees only
// their own slice.
type SearchFilter struct {
	ActorID string
	Action  Action
	Outcome Outcome
	Target  string
	OrgPath hierarchy.Path
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}
