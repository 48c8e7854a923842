package authz

import (
	"sort"

	"openbudget.org/internal/budget"
)

// RoleSet is the materialized left-hand side of every policy decision: the
// actor's global flags plus its (role-kind, entity-id) memberships. It is
// built once per request from the loaded user row and never mutated.
type RoleSet struct {
	IsAnon  bool
	IsSuper bool
	IsAdmin bool
	UserID  int64

	InitiativeIDs              []int64
	ActivityIDs                []int64
	OverseerGrantIDs           []int64
	GrantOfficerRegulationIDs  []int64
	PolicyOfficerRegulationIDs []int64
	BankAccountUserIDs         []int64
	BankAccountOwnerIDs        []int64
}

// BuildRoleSet derives the role set from an actor. A nil actor is anonymous.
// Equal actors yield equal role sets; no I/O happens here — the membership
// rows ride on the user row.
func BuildRoleSet(actor *budget.User) RoleSet {
	if actor == nil {
		return RoleSet{IsAnon: true}
	}
	return RoleSet{
		UserID:                     actor.ID,
		IsSuper:                    actor.IsSuperuser,
		IsAdmin:                    actor.IsSuperuser || actor.Role == budget.RoleAdministrator,
		InitiativeIDs:              sortedCopy(actor.InitiativeIDs),
		ActivityIDs:                sortedCopy(actor.ActivityIDs),
		OverseerGrantIDs:           sortedCopy(actor.OverseerGrantIDs),
		GrantOfficerRegulationIDs:  sortedCopy(actor.GrantOfficerRegulationIDs),
		PolicyOfficerRegulationIDs: sortedCopy(actor.PolicyOfficerRegulationIDs),
		BankAccountUserIDs:         sortedCopy(actor.BankAccountUserIDs),
		BankAccountOwnerIDs:        sortedCopy(actor.BankAccountOwnerIDs),
	}
}

func (r RoleSet) contains(ids []int64, id int64) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

func sortedCopy(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int64, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
