package authz

import "openbudget.org/internal/budget"

// Project returns the read projection of a loaded resource for the actor:
// authorized scalars verbatim, eager-loaded relationships projected one
// level deep, unloaded relationships kept at their sentinel. It never
// triggers loading and never exposes a field outside the authorized set.
func (p *Policy) Project(roles RoleSet, res budget.Resource, refs Refs) map[string]any {
	fields := p.FieldsFor(roles, ActionRead, res.ResourceClass(), res, refs)
	fields = fields.Union(p.FieldsFor(roles, ActionReadSensitive, res.ResourceClass(), res, refs))

	out := make(map[string]any, len(fields))
	for name, v := range res.Fields() {
		if fields.Has(name) {
			out[name] = v
		}
	}
	for name, rel := range res.Relations() {
		if !fields.Has(name) {
			continue
		}
		if !rel.Loaded {
			// Unloaded stays unloaded: nil for singles, empty for
			// collections. Policy is never evaluated against phantom rows.
			if rel.Collection {
				out[name] = []map[string]any{}
			} else {
				out[name] = nil
			}
			continue
		}
		if rel.Collection {
			items := make([]map[string]any, 0, len(rel.Items))
			for _, child := range rel.Items {
				if m, ok := p.projectChild(roles, res, refs, child); ok {
					items = append(items, m)
				}
			}
			out[name] = items
		} else if rel.Item != nil {
			if m, ok := p.projectChild(roles, res, refs, rel.Item); ok {
				out[name] = m
			} else {
				out[name] = nil
			}
		} else {
			out[name] = nil
		}
	}
	return out
}

// projectChild projects one eager-loaded related row, scalars only —
// relationships of relationships are dropped, which bounds expansion and
// breaks cycles.
func (p *Policy) projectChild(roles RoleSet, parent budget.Resource, parentRefs Refs, child budget.Resource) (map[string]any, bool) {
	refs := childRefs(parent, parentRefs, child)
	if !p.Allows(roles, ActionRead, child, refs) {
		return nil, false
	}
	fields := p.FieldsFor(roles, ActionRead, child.ResourceClass(), child, refs)
	out := make(map[string]any, len(fields))
	for name, v := range child.Fields() {
		if fields.Has(name) {
			out[name] = v
		}
	}
	return out, true
}

// childRefs derives a child's relationship refs from the parent's without
// I/O: every declared relationship points one level down the hierarchy, so
// the parent's resolved chain carries over.
func childRefs(parent budget.Resource, parentRefs Refs, child budget.Resource) Refs {
	refs := Refs{UpstreamHidden: parentRefs.UpstreamHidden}
	if hidden, ok := parent.Fields()["hidden"].(bool); ok && hidden {
		refs.UpstreamHidden = true
	}
	switch c := child.(type) {
	case *budget.Regulation:
		refs.RegulationID = c.ID
	case *budget.Grant:
		refs.GrantID = c.ID
		refs.RegulationID = c.RegulationID
	case *budget.Initiative:
		refs.InitiativeID = c.ID
		refs.GrantID = c.GrantID
		refs.RegulationID = parentRefs.RegulationID
	case *budget.Activity:
		refs.ActivityID = c.ID
		refs.InitiativeID = c.InitiativeID
		refs.GrantID = parentRefs.GrantID
		refs.RegulationID = parentRefs.RegulationID
	case *budget.Payment:
		if c.InitiativeID != nil {
			refs.InitiativeID = *c.InitiativeID
		}
		if c.ActivityID != nil {
			refs.ActivityID = *c.ActivityID
		}
		if c.BankAccountID != nil {
			refs.BankAccountID = *c.BankAccountID
		}
	}
	return refs
}
