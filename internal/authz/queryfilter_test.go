package authz

import (
	"reflect"
	"testing"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

func TestQueryPredicateAdmin(t *testing.T) {
	p := DefaultPolicy()
	pred := p.QueryPredicate(RoleSet{IsAdmin: true}, ActionRead, budget.ClassPayment)
	if _, ok := pred.(store.All); !ok {
		t.Fatalf("expected All for admin, got %#v", pred)
	}
}

func TestQueryPredicateAnonymousPayments(t *testing.T) {
	p := DefaultPolicy()
	pred := p.QueryPredicate(BuildRoleSet(nil), ActionRead, budget.ClassPayment)
	if _, ok := pred.(store.None); !ok {
		t.Fatalf("expected None for anonymous payments, got %#v", pred)
	}
}

func TestQueryPredicateAnonymousInitiatives(t *testing.T) {
	p := DefaultPolicy()
	pred := p.QueryPredicate(BuildRoleSet(nil), ActionRead, budget.ClassInitiative)
	want := store.And{
		store.All{},
		store.Eq{Col: "hidden", Value: false},
	}
	if !reflect.DeepEqual(pred, want) {
		t.Fatalf("got %#v, want %#v", pred, want)
	}
}

func TestQueryPredicateOwnerInitiatives(t *testing.T) {
	p := DefaultPolicy()
	owner := BuildRoleSet(&budget.User{ID: 2, InitiativeIDs: []int64{31, 30}})
	pred := p.QueryPredicate(owner, ActionRead, budget.ClassInitiative)
	want := store.Or{
		store.And{
			store.All{},
			store.Eq{Col: "hidden", Value: false},
		},
		store.In{Col: "id", IDs: []int64{30, 31}},
	}
	if !reflect.DeepEqual(pred, want) {
		t.Fatalf("got %#v, want %#v", pred, want)
	}
}

func TestQueryPredicateAuthenticatedPayments(t *testing.T) {
	p := DefaultPolicy()
	pred := p.QueryPredicate(BuildRoleSet(&budget.User{ID: 5}), ActionRead, budget.ClassPayment)
	want := store.And{
		store.All{},
		store.And{
			store.Eq{Col: "hidden", Value: false},
			store.Or{
				store.Eq{Col: "initiative_id", Value: nil},
				store.Eq{Col: "initiative.hidden", Value: false},
			},
			store.Or{
				store.Eq{Col: "activity_id", Value: nil},
				store.Eq{Col: "activity.hidden", Value: false},
			},
		},
	}
	if !reflect.DeepEqual(pred, want) {
		t.Fatalf("got %#v, want %#v", pred, want)
	}
}

func TestQueryPredicateOverseerJoinsParentPath(t *testing.T) {
	p := DefaultPolicy()
	overseer := BuildRoleSet(&budget.User{ID: 6, OverseerGrantIDs: []int64{20}})
	pred := p.QueryPredicate(overseer, ActionRead, budget.ClassPayment)
	// The overseer clause scopes payments through the initiative join.
	if !predicateMentions(pred, "initiative.grant_id") {
		t.Fatalf("overseer predicate misses the join path: %#v", pred)
	}
}

func predicateMentions(pred store.Predicate, col string) bool {
	switch p := pred.(type) {
	case store.Eq:
		return p.Col == col
	case store.In:
		return p.Col == col
	case store.And:
		for _, part := range p {
			if predicateMentions(part, col) {
				return true
			}
		}
	case store.Or:
		for _, part := range p {
			if predicateMentions(part, col) {
				return true
			}
		}
	case store.Not:
		return predicateMentions(p.P, col)
	}
	return false
}
