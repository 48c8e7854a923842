package authz

import (
	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

// scopeCols maps (class, relation) to the column the relation scopes over
// in class-level queries. Dotted paths traverse the manifest's parent refs.
var scopeCols = map[budget.Class]map[Relation]string{
	budget.ClassUser: {
		RelSelf: "id",
	},
	budget.ClassRegulation: {
		RelGrantOfficer:  "id",
		RelPolicyOfficer: "id",
	},
	budget.ClassGrant: {
		RelGrantOverseer: "id",
		RelGrantOfficer:  "regulation_id",
		RelPolicyOfficer: "regulation_id",
	},
	budget.ClassInitiative: {
		RelInitiativeOwner: "id",
		RelGrantOverseer:   "grant_id",
		RelGrantOfficer:    "grant.regulation_id",
		RelPolicyOfficer:   "grant.regulation_id",
	},
	budget.ClassActivity: {
		RelActivityOwner:   "id",
		RelInitiativeOwner: "initiative_id",
		RelGrantOverseer:   "initiative.grant_id",
		RelGrantOfficer:    "initiative.grant.regulation_id",
		RelPolicyOfficer:   "initiative.grant.regulation_id",
	},
	budget.ClassPayment: {
		RelInitiativeOwner:  "initiative_id",
		RelActivityOwner:    "activity_id",
		RelGrantOverseer:    "initiative.grant_id",
		RelGrantOfficer:     "initiative.grant.regulation_id",
		RelPolicyOfficer:    "initiative.grant.regulation_id",
		RelBankAccountUser:  "bank_account_id",
		RelBankAccountOwner: "bank_account_id",
	},
	budget.ClassBankAccount: {
		RelBankAccountUser:  "id",
		RelBankAccountOwner: "id",
	},
}

// roleIDs picks the id set a scoped relation draws from.
func roleIDs(rel Relation, roles RoleSet) []int64 {
	switch rel {
	case RelInitiativeOwner:
		return roles.InitiativeIDs
	case RelActivityOwner:
		return roles.ActivityIDs
	case RelGrantOverseer:
		return roles.OverseerGrantIDs
	case RelGrantOfficer:
		return roles.GrantOfficerRegulationIDs
	case RelPolicyOfficer:
		return roles.PolicyOfficerRegulationIDs
	case RelBankAccountUser:
		return roles.BankAccountUserIDs
	case RelBankAccountOwner:
		return roles.BankAccountOwnerIDs
	}
	return nil
}

// refID picks the resolved ref a scoped relation is checked against for one
// resource instance.
func refID(rel Relation, refs Refs) int64 {
	switch rel {
	case RelInitiativeOwner:
		return refs.InitiativeID
	case RelActivityOwner:
		return refs.ActivityID
	case RelGrantOverseer:
		return refs.GrantID
	case RelGrantOfficer, RelPolicyOfficer:
		return refs.RegulationID
	case RelBankAccountUser, RelBankAccountOwner:
		return refs.BankAccountID
	}
	return 0
}

// publicClause is the row-level rendition of "this row and its ancestors are
// not hidden" for visibility-controlled classes.
func publicClause(class budget.Class) store.Predicate {
	switch class {
	case budget.ClassInitiative:
		return store.Eq{Col: "hidden", Value: false}
	case budget.ClassActivity:
		return store.And{
			store.Eq{Col: "hidden", Value: false},
			store.Eq{Col: "initiative.hidden", Value: false},
		}
	case budget.ClassPayment:
		return store.And{
			store.Eq{Col: "hidden", Value: false},
			store.Or{
				store.Eq{Col: "initiative_id", Value: nil},
				store.Eq{Col: "initiative.hidden", Value: false},
			},
			store.Or{
				store.Eq{Col: "activity_id", Value: nil},
				store.Eq{Col: "activity.hidden", Value: false},
			},
		}
	case budget.ClassUser:
		return store.Eq{Col: "hidden", Value: false}
	}
	return store.All{}
}
