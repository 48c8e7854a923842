package authz

import (
	"fmt"

	"openbudget.org/internal/budget"
)

// Relation names how an actor stands to a resource. Rules grant actions to
// any-of a relation list; administrators and superusers are handled by the
// global rule and never appear in Via.
type Relation int

const (
	// RelAnyone matches every actor, anonymous included.
	RelAnyone Relation = iota
	// RelAuthenticated matches any signed-in actor.
	RelAuthenticated
	// RelSelf matches a user resource with the actor's own id.
	RelSelf
	RelInitiativeOwner
	RelActivityOwner
	RelGrantOverseer
	RelGrantOfficer
	RelPolicyOfficer
	RelBankAccountUser
	RelBankAccountOwner
)

// Cond is a resource-local equality condition gating a rule, e.g. an
// activity rule that only applies while finished is false.
type Cond struct {
	Field  string
	Equals any
}

// Rule grants Actions on Class to actors standing in any Via relation.
// Fields is the granted field set; nil means the full non-sensitive set for
// read and no field grant for other actions. Public restricts the rule to
// rows whose visibility chain is not hidden.
type Rule struct {
	Class   budget.Class
	Actions []Action
	Via     []Relation
	Fields  []string
	When    []Cond
	Public  bool
}

// Policy is the immutable declarative rule set, constructed once at process
// start and injected into the guard. The union of matching grants decides
// allow; absence of any grant denies.
type Policy struct {
	rules []Rule
	index map[budget.Class][]int
}

// NewPolicy validates the rule set against the class manifests. A rule
// naming an unknown class, field, or inapplicable relation is a programming
// error and rejected here so it cannot surface mid-request.
func NewPolicy(rules []Rule) (*Policy, error) {
	p := &Policy{rules: rules, index: make(map[budget.Class][]int)}
	for i, r := range rules {
		m, ok := budget.ManifestFor(r.Class)
		if !ok {
			return nil, fmt.Errorf("authz: rule %d: unknown class %q", i, r.Class)
		}
		if len(r.Actions) == 0 {
			return nil, fmt.Errorf("authz: rule %d (%s): no actions", i, r.Class)
		}
		if len(r.Via) == 0 {
			return nil, fmt.Errorf("authz: rule %d (%s): no relations", i, r.Class)
		}
		for _, f := range r.Fields {
			if !m.HasScalar(f) {
				if _, ok := m.RelationNamed(f); !ok {
					return nil, fmt.Errorf("authz: rule %d (%s): unknown field %q", i, r.Class, f)
				}
			}
		}
		for _, c := range r.When {
			if !m.HasScalar(c.Field) {
				return nil, fmt.Errorf("authz: rule %d (%s): unknown condition field %q", i, r.Class, c.Field)
			}
		}
		if r.Public && !m.HasScalar("hidden") {
			return nil, fmt.Errorf("authz: rule %d (%s): public rule on class without hidden flag", i, r.Class)
		}
		p.index[r.Class] = append(p.index[r.Class], i)
	}
	return p, nil
}

// MustPolicy panics on a malformed rule set; a bad policy is fatal for the
// process.
func MustPolicy(rules []Rule) *Policy {
	p, err := NewPolicy(rules)
	if err != nil {
		panic(err)
	}
	return p
}

func (r Rule) hasAction(action Action) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Allows decides (actor, action, resource) for one loaded instance. The
// global administrator rule applies first; otherwise any matching rule
// grants.
func (p *Policy) Allows(roles RoleSet, action Action, res budget.Resource, refs Refs) bool {
	if roles.IsAdmin {
		return p.adminAllows(roles, action, res)
	}
	for _, i := range p.index[res.ResourceClass()] {
		r := p.rules[i]
		if !r.hasAction(action) {
			continue
		}
		if p.ruleMatches(r, roles, res, refs) {
			return true
		}
	}
	return false
}

// adminAllows implements the global rule: administrators and superusers may
// do everything except delete themselves and except edit another
// administrator or superuser unless they are a superuser.
func (p *Policy) adminAllows(roles RoleSet, action Action, res budget.Resource) bool {
	if res.ResourceClass() != budget.ClassUser {
		return true
	}
	target, ok := res.(*budget.User)
	if !ok {
		return true
	}
	if action == ActionDelete && target.ID == roles.UserID {
		return false
	}
	if action == ActionEdit && target.ID != roles.UserID && !roles.IsSuper {
		if target.IsSuperuser || target.Role == budget.RoleAdministrator {
			return false
		}
	}
	return true
}

func (p *Policy) ruleMatches(r Rule, roles RoleSet, res budget.Resource, refs Refs) bool {
	if !p.viaHolds(r.Via, roles, res, refs) {
		return false
	}
	fields := res.Fields()
	for _, c := range r.When {
		if fields[c.Field] != c.Equals {
			return false
		}
	}
	if r.Public {
		if hidden, ok := fields["hidden"].(bool); ok && hidden {
			return false
		}
		if refs.UpstreamHidden {
			return false
		}
	}
	return true
}

func (p *Policy) viaHolds(via []Relation, roles RoleSet, res budget.Resource, refs Refs) bool {
	for _, rel := range via {
		if relationHolds(rel, roles, res, refs) {
			return true
		}
	}
	return false
}

func relationHolds(rel Relation, roles RoleSet, res budget.Resource, refs Refs) bool {
	switch rel {
	case RelAnyone:
		return true
	case RelAuthenticated:
		return !roles.IsAnon
	case RelSelf:
		return !roles.IsAnon && res.ResourceClass() == budget.ClassUser && res.ResourceID() == roles.UserID
	default:
		id := refID(rel, refs)
		return id != 0 && roles.contains(roleIDs(rel, roles), id)
	}
}

// possiblyHolds answers class-level field queries: could the relation hold
// for some row, given the actor's memberships.
func possiblyHolds(rel Relation, roles RoleSet, class budget.Class) bool {
	switch rel {
	case RelAnyone:
		return true
	case RelAuthenticated:
		return !roles.IsAnon
	case RelSelf:
		return !roles.IsAnon && class == budget.ClassUser
	default:
		return len(roleIDs(rel, roles)) > 0
	}
}

// FieldsFor returns the union of field grants for (actor, action) on a
// resource instance, or on the class when res is nil. Sensitive fields are
// never part of a nil (default) grant.
func (p *Policy) FieldsFor(roles RoleSet, action Action, class budget.Class, res budget.Resource, refs Refs) FieldSet {
	m, ok := budget.ManifestFor(class)
	if !ok {
		return NewFieldSet()
	}
	if roles.IsAdmin {
		if res != nil && !p.adminAllows(roles, action, res) {
			return NewFieldSet()
		}
		return allFields(m, true)
	}
	out := NewFieldSet()
	for _, i := range p.index[class] {
		r := p.rules[i]
		if !r.hasAction(action) {
			continue
		}
		if res != nil {
			if !p.ruleMatches(r, roles, res, refs) {
				continue
			}
		} else {
			if !p.classViaHolds(r.Via, roles, class) {
				continue
			}
		}
		if r.Fields == nil {
			if action == ActionRead {
				for f := range allFields(m, false) {
					out.Add(f)
				}
			}
			continue
		}
		out.Add(r.Fields...)
	}
	return out
}

func (p *Policy) classViaHolds(via []Relation, roles RoleSet, class budget.Class) bool {
	for _, rel := range via {
		if possiblyHolds(rel, roles, class) {
			return true
		}
	}
	return false
}

// allFields lists a class's scalars and relationships; sensitive columns
// only when asked for.
func allFields(m budget.Manifest, sensitive bool) FieldSet {
	out := NewFieldSet()
	for _, f := range m.Scalars {
		if !sensitive && m.IsSensitive(f) {
			continue
		}
		out.Add(f)
	}
	for _, r := range m.Relations {
		out.Add(r.Name)
	}
	return out
}
