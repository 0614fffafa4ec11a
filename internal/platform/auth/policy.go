package auth

import "sort"

// Role is a closed set of actor roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Entity identifies an entity type for permission checks.
type Entity string

const (
	EntityEncounter Entity = "encounter"
	EntityCharge    Entity = "charge"
	EntityClaim     Entity = "claim"
	EntityDenial    Entity = "denial"
	EntityInvoice   Entity = "invoice"
)

// Action is a lifecycle or read action an actor may perform on an entity.
type Action string

const (
	ActionRead Action = "read"

	ActionCreate Action = "create"
	ActionEdit   Action = "edit"

	ActionFinalize Action = "finalize"
	ActionSubmit   Action = "submit"

	ActionAdjudicate Action = "adjudicate"

	ActionAppeal   Action = "appeal"
	ActionDecide   Action = "decide"
	ActionResubmit Action = "resubmit"

	ActionRecordPayment Action = "record_payment"
	ActionMarkOverdue   Action = "mark_overdue"
)

// Actor is the identity attached to a session.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// rule grants an action, optionally restricted to a set of entity statuses.
// An empty status list grants the action regardless of status.
type rule struct {
	action   Action
	statuses []string
}

func grant(a Action) rule { return rule{action: a} }

func grantWhen(a Action, statuses ...string) rule {
	return rule{action: a, statuses: statuses}
}

// policyTable is the single source of truth for role permissions. Every
// handler and the lifecycle engine consult it; nothing may hardcode a role
// check elsewhere. A (role, entity) pair absent from the table yields no
// actions.
var policyTable = map[Role]map[Entity][]rule{
	RoleAdmin: {
		EntityEncounter: {grant(ActionRead), grant(ActionCreate), grant(ActionEdit)},
		EntityCharge:    {grant(ActionRead), grant(ActionCreate), grant(ActionEdit), grant(ActionFinalize), grant(ActionSubmit)},
		EntityClaim:     {grant(ActionRead), grant(ActionAdjudicate)},
		EntityDenial:    {grant(ActionRead), grant(ActionAppeal), grant(ActionDecide), grant(ActionResubmit)},
		EntityInvoice:   {grant(ActionRead), grant(ActionCreate), grant(ActionRecordPayment), grant(ActionMarkOverdue)},
	},
	RoleDoctor: {
		EntityEncounter: {grant(ActionRead), grant(ActionCreate), grant(ActionEdit)},
		EntityCharge:    {grant(ActionRead), grant(ActionCreate), grantWhen(ActionEdit, "draft")},
		EntityClaim:     {grant(ActionRead)},
		EntityDenial:    {grant(ActionRead)},
	},
	RolePatient: {
		EntityClaim:   {grant(ActionRead)},
		EntityDenial:  {grant(ActionRead), grantWhen(ActionAppeal, "open")},
		EntityInvoice: {grant(ActionRead), grant(ActionRecordPayment)},
	},
}

// PermittedActions returns the set of actions role may perform on an entity
// in the given status, sorted for stable output. Unknown roles, entities, or
// statuses yield the empty set.
func PermittedActions(role Role, entity Entity, status string) []Action {
	rules, ok := policyTable[role][entity]
	if !ok {
		return nil
	}

	var actions []Action
	for _, r := range rules {
		if len(r.statuses) == 0 {
			actions = append(actions, r.action)
			continue
		}
		for _, s := range r.statuses {
			if s == status {
				actions = append(actions, r.action)
				break
			}
		}
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Allowed reports whether role may perform action on an entity in the given
// status.
func Allowed(role Role, entity Entity, status string, action Action) bool {
	for _, a := range PermittedActions(role, entity, status) {
		if a == action {
			return true
		}
	}
	return false
}
