package authz

import (
	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

// QueryPredicate translates class-level policy into a row predicate: the
// disjunction of every read rule's clause for this actor. The caller always
// composes user filters and pagination around it, never instead of it.
func (p *Policy) QueryPredicate(roles RoleSet, action Action, class budget.Class) store.Predicate {
	if roles.IsAdmin {
		return store.All{}
	}
	var clauses []store.Predicate
	for _, i := range p.index[class] {
		r := p.rules[i]
		if !r.hasAction(action) {
			continue
		}
		clause, ok := p.ruleClause(r, roles, class)
		if !ok {
			continue
		}
		clauses = append(clauses, clause)
	}
	switch len(clauses) {
	case 0:
		return store.None{}
	case 1:
		return clauses[0]
	default:
		return store.Or(clauses)
	}
}

// ruleClause compiles one rule to a predicate; ok is false when the rule
// cannot match any row for this actor (empty membership, anonymous).
func (p *Policy) ruleClause(r Rule, roles RoleSet, class budget.Class) (store.Predicate, bool) {
	var via []store.Predicate
	for _, rel := range r.Via {
		switch rel {
		case RelAnyone:
			via = append(via, store.All{})
		case RelAuthenticated:
			if !roles.IsAnon {
				via = append(via, store.All{})
			}
		case RelSelf:
			if !roles.IsAnon && class == budget.ClassUser {
				via = append(via, store.Eq{Col: "id", Value: roles.UserID})
			}
		default:
			col, ok := scopeCols[class][rel]
			if !ok {
				continue
			}
			ids := roleIDs(rel, roles)
			if len(ids) == 0 {
				continue
			}
			via = append(via, store.In{Col: col, IDs: ids})
		}
	}
	if len(via) == 0 {
		return nil, false
	}

	parts := []store.Predicate{orOf(via)}
	for _, c := range r.When {
		parts = append(parts, store.Eq{Col: c.Field, Value: c.Equals})
	}
	if r.Public {
		parts = append(parts, publicClause(class))
	}
	if len(parts) == 1 {
		return parts[0], true
	}
	return store.And(parts), true
}

func orOf(parts []store.Predicate) store.Predicate {
	for _, p := range parts {
		if _, ok := p.(store.All); ok {
			return store.All{}
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return store.Or(parts)
}
