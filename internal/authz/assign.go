package authz

import (
	"context"

	"openbudget.org/internal/audit"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

// roleBinding describes which action on which class guards a role kind, and
// whether the kind is a singleton (grant overseer, bank account owner).
type roleBinding struct {
	class     budget.Class
	action    Action
	singleton bool
	adminOnly bool
}

var roleBindings = map[store.RoleKind]roleBinding{
	store.RoleInitiativeOwner:  {class: budget.ClassInitiative, action: ActionAssignOwners},
	store.RoleActivityOwner:    {class: budget.ClassActivity, action: ActionAssignOwners},
	store.RoleGrantOverseer:    {class: budget.ClassGrant, action: ActionAssignOverseer, singleton: true},
	store.RoleGrantOfficer:     {class: budget.ClassRegulation, action: ActionAssignOfficers, adminOnly: true},
	store.RolePolicyOfficer:    {class: budget.ClassRegulation, action: ActionAssignOfficers, adminOnly: true},
	store.RoleBankAccountUser:  {class: budget.ClassBankAccount, action: ActionAssignOwners},
	store.RoleBankAccountOwner: {class: budget.ClassBankAccount, action: ActionAssignOwners, singleton: true},
}

// AssignRoles replaces the holder set of one role kind on one entity with
// target. The diff (to-add, to-remove, to-keep) is computed against the
// persisted rows and applied in a single transaction, which makes the
// operation idempotent and keeps intermediate states invisible.
func (g *Guard) AssignRoles(ctx context.Context, actor *budget.User, kind store.RoleKind, entity budget.Resource, target []int64) error {
	binding, ok := roleBindings[kind]
	if !ok {
		return validation("unknown role kind %q", kind)
	}
	if entity.ResourceClass() != binding.class {
		return validation("role kind %q does not apply to %s", kind, entity.ResourceClass())
	}
	target = dedupe(target)
	if binding.singleton && len(target) > 1 {
		return validation("role kind %q holds at most one user", kind)
	}
	if kind == store.RoleBankAccountOwner && len(target) != 1 {
		// A bank account always has exactly one owner.
		return validation("bank account owner cannot be removed, only replaced")
	}

	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, entity)
	if err != nil {
		return err
	}
	if binding.adminOnly {
		if !roles.IsAdmin {
			return ErrNotAuthorized
		}
	} else if err := g.authorize(roles, binding.action, entity, refs); err != nil {
		return err
	}

	err = g.store.InTx(ctx, func(ctx context.Context, tx store.DataStore) error {
		for _, userID := range target {
			if _, err := tx.Get(ctx, budget.ClassUser, userID); err != nil {
				return validation("unknown user %d", userID)
			}
		}
		current, err := tx.RoleHolders(ctx, kind, entity.ResourceID())
		if err != nil {
			return err
		}
		toAdd, toRemove := diff(current, target)
		if len(toAdd) == 0 && len(toRemove) == 0 {
			return nil
		}
		muts := make([]store.Mutation, 0, len(toAdd)+len(toRemove))
		for _, id := range toRemove {
			muts = append(muts, store.RemoveRole{Kind: kind, EntityID: entity.ResourceID(), UserID: id})
		}
		for _, id := range toAdd {
			muts = append(muts, store.AddRole{Kind: kind, EntityID: entity.ResourceID(), UserID: id})
		}
		return tx.Apply(ctx, muts)
	})
	if err != nil {
		return mapStoreErr(err)
	}
	_ = audit.LogEvent(ctx, "roles.assign", map[string]any{
		"kind": string(kind), "class": string(binding.class),
		"entity_id": entity.ResourceID(), "user_ids": target,
	})
	return nil
}

// diff splits current/target into the rows to insert and delete; rows in
// both sets are kept untouched.
func diff(current, target []int64) (toAdd, toRemove []int64) {
	cur := make(map[int64]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	want := make(map[int64]struct{}, len(target))
	for _, id := range target {
		want[id] = struct{}{}
		if _, ok := cur[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range current {
		if _, ok := want[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
