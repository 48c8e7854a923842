package authz

import (
	"context"
	"errors"
	"time"

	"openbudget.org/internal/audit"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/obs"
	"openbudget.org/internal/store"
)

// Guard is the single authorization surface the HTTP layer talks to. It
// owns the immutable policy and the data store boundary; every decision and
// every guarded mutation goes through here.
type Guard struct {
	policy *Policy
	store  store.DataStore
}

// NewGuard wires the policy to the store. The policy has been validated at
// construction; a nil store is a programming error.
func NewGuard(policy *Policy, ds store.DataStore) (*Guard, error) {
	if policy == nil {
		return nil, errors.New("authz: policy is required")
	}
	if ds == nil {
		return nil, errors.New("authz: data store is required")
	}
	return &Guard{policy: policy, store: ds}, nil
}

// Authorize decides whether the actor may perform action on the loaded
// resource. A read denial reports NotFound so filtered rows are
// indistinguishable from absent ones; other denials report NotFound only
// when the actor cannot read the resource either.
func (g *Guard) Authorize(ctx context.Context, actor *budget.User, action Action, res budget.Resource) error {
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, res)
	if err != nil {
		return err
	}
	return g.authorize(roles, action, res, refs)
}

func (g *Guard) authorize(roles RoleSet, action Action, res budget.Resource, refs Refs) error {
	class := res.ResourceClass()
	if g.policy.Allows(roles, action, res, refs) {
		obs.AuthzDecision(string(class), string(action), true)
		return nil
	}
	obs.AuthzDecision(string(class), string(action), false)
	if action != ActionRead && g.policy.Allows(roles, ActionRead, res, refs) {
		return ErrNotAuthorized
	}
	return ErrNotFound
}

// AuthorizedFields returns the actor's field grants for action on a
// resource instance, or on the class when res is nil.
func (g *Guard) AuthorizedFields(ctx context.Context, actor *budget.User, action Action, class budget.Class, res budget.Resource) (FieldSet, error) {
	roles := BuildRoleSet(actor)
	var refs Refs
	if res != nil {
		var err error
		refs, err = g.resolveRefs(ctx, g.store, res)
		if err != nil {
			return nil, err
		}
	}
	return g.policy.FieldsFor(roles, action, class, res, refs), nil
}

// AuthorizedQuery produces the row predicate enforcing class-level
// visibility for the actor. Callers compose user filters and pagination
// around it; the predicate itself is never weakened.
func (g *Guard) AuthorizedQuery(actor *budget.User, action Action, class budget.Class) store.Predicate {
	return g.policy.QueryPredicate(BuildRoleSet(actor), action, class)
}

// ProjectForRead returns the authorized projection of a loaded resource.
func (g *Guard) ProjectForRead(ctx context.Context, actor *budget.User, res budget.Resource) (map[string]any, error) {
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, res)
	if err != nil {
		return nil, err
	}
	if err := g.authorize(roles, ActionRead, res, refs); err != nil {
		return nil, err
	}
	return g.policy.Project(roles, res, refs), nil
}

// Update applies a guarded field update: every changed column must be in
// the actor's edit grant, link columns must go through the link operations,
// and financial columns of bank imports are immutable.
func (g *Guard) Update(ctx context.Context, actor *budget.User, res budget.Resource, changes map[string]any) error {
	if len(changes) == 0 {
		return validation("no changes")
	}
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, res)
	if err != nil {
		return err
	}
	if err := g.authorize(roles, ActionEdit, res, refs); err != nil {
		return err
	}
	class := res.ResourceClass()
	if class == budget.ClassPayment {
		for col := range changes {
			if isLinkColumn(col) {
				return validation("column %s changes through the link operations", col)
			}
		}
		if p, ok := res.(*budget.Payment); ok && p.Type == budget.PaymentTypeBank {
			for col := range changes {
				if isFinancialColumn(col) {
					return conflict(ReasonBankPaymentImmutableField)
				}
			}
		}
	}
	allowed := g.policy.FieldsFor(roles, ActionEdit, class, res, refs)
	for col := range changes {
		if !allowed.Has(col) {
			return ErrNotAuthorized
		}
	}
	if err := g.store.Apply(ctx, []store.Mutation{store.Update{Class: class, ID: res.ResourceID(), Changes: changes}}); err != nil {
		return mapStoreErr(err)
	}
	_ = audit.LogEvent(ctx, "resource.update", map[string]any{
		"class": string(class), "id": res.ResourceID(), "fields": fieldNames(changes),
	})
	return nil
}

// Create inserts a new row after authorizing create against the prospective
// resource (its parent references decide who may create it).
func (g *Guard) Create(ctx context.Context, actor *budget.User, res budget.Resource) error {
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, res)
	if err != nil {
		return err
	}
	class := res.ResourceClass()
	if !g.policy.Allows(roles, ActionCreate, res, refs) {
		obs.AuthzDecision(string(class), string(ActionCreate), false)
		return ErrNotAuthorized
	}
	obs.AuthzDecision(string(class), string(ActionCreate), true)
	fields := res.Fields()
	delete(fields, "id")
	if err := g.store.Apply(ctx, []store.Mutation{store.Insert{Class: class, Fields: fields}}); err != nil {
		return mapStoreErr(err)
	}
	_ = audit.LogEvent(ctx, "resource.create", map[string]any{"class": string(class)})
	return nil
}

// Delete removes a row; children cascade per schema.
func (g *Guard) Delete(ctx context.Context, actor *budget.User, res budget.Resource) error {
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, res)
	if err != nil {
		return err
	}
	if err := g.authorize(roles, ActionDelete, res, refs); err != nil {
		return err
	}
	if err := g.store.Apply(ctx, []store.Mutation{store.Delete{Class: res.ResourceClass(), ID: res.ResourceID()}}); err != nil {
		return mapStoreErr(err)
	}
	_ = audit.LogEvent(ctx, "resource.delete", map[string]any{
		"class": string(res.ResourceClass()), "id": res.ResourceID(),
	})
	return nil
}

// LinkPaymentInitiative moves the initiative side of a payment's link pair.
// target nil detaches. Runs read-check-write in one transaction.
func (g *Guard) LinkPaymentInitiative(ctx context.Context, actor *budget.User, paymentID int64, target *int64) error {
	roles := BuildRoleSet(actor)
	err := g.store.InTx(ctx, func(ctx context.Context, tx store.DataStore) error {
		p, err := g.lockedPayment(ctx, tx, roles, paymentID)
		if err != nil {
			return err
		}
		if cerr := checkInitiativeTransition(p, target); cerr != nil {
			return cerr
		}
		if target != nil {
			res, err := tx.Get(ctx, budget.ClassInitiative, *target)
			if err != nil {
				return mapStoreErr(err)
			}
			initiative := res.(*budget.Initiative)
			irefs, err := g.resolveRefs(ctx, tx, initiative)
			if err != nil {
				return err
			}
			// Attaching to an initiative the actor cannot edit is forbidden;
			// detaching needs no target check.
			if !g.policy.Allows(roles, ActionEdit, initiative, irefs) {
				return ErrNotAuthorized
			}
		}
		var value any
		if target != nil {
			value = *target
		}
		return mapStoreErr(tx.Apply(ctx, []store.Mutation{store.Update{
			Class: budget.ClassPayment, ID: paymentID,
			Changes: map[string]any{"initiative_id": value},
		}}))
	})
	if err != nil {
		obs.AuthzDecision(string(budget.ClassPayment), string(ActionLinkInitiative), false)
		return err
	}
	obs.AuthzDecision(string(budget.ClassPayment), string(ActionLinkInitiative), true)
	_ = audit.LogEvent(ctx, "payment.link_initiative", map[string]any{
		"payment_id": paymentID, "initiative_id": optVal(target),
	})
	return nil
}

// LinkPaymentActivity moves the activity side of the pair within the given
// initiative. target nil detaches the activity.
func (g *Guard) LinkPaymentActivity(ctx context.Context, actor *budget.User, paymentID, initiativeID int64, target *int64) error {
	roles := BuildRoleSet(actor)
	err := g.store.InTx(ctx, func(ctx context.Context, tx store.DataStore) error {
		p, err := g.lockedPayment(ctx, tx, roles, paymentID)
		if err != nil {
			return err
		}
		if p.InitiativeID == nil {
			return conflict(ReasonInitiativeRequired)
		}
		if *p.InitiativeID != initiativeID {
			return conflict(ReasonActivityInitiativeMismatch)
		}
		if target != nil {
			res, err := tx.Get(ctx, budget.ClassActivity, *target)
			if err != nil {
				return mapStoreErr(err)
			}
			activity := res.(*budget.Activity)
			if cerr := checkActivityTransition(p, activity); cerr != nil {
				return cerr
			}
			arefs, err := g.resolveRefs(ctx, tx, activity)
			if err != nil {
				return err
			}
			if !g.policy.Allows(roles, ActionEdit, activity, arefs) {
				return ErrNotAuthorized
			}
		}
		var value any
		if target != nil {
			value = *target
		}
		return mapStoreErr(tx.Apply(ctx, []store.Mutation{store.Update{
			Class: budget.ClassPayment, ID: paymentID,
			Changes: map[string]any{"activity_id": value},
		}}))
	})
	if err != nil {
		obs.AuthzDecision(string(budget.ClassPayment), string(ActionLinkActivity), false)
		return err
	}
	obs.AuthzDecision(string(budget.ClassPayment), string(ActionLinkActivity), true)
	_ = audit.LogEvent(ctx, "payment.link_activity", map[string]any{
		"payment_id": paymentID, "initiative_id": initiativeID, "activity_id": optVal(target),
	})
	return nil
}

// LinkDebitCards rebinds a bank account to its provider: the api account id
// and the requisition set the provider issued. No policy rule grants the
// action, which leaves it to administrators.
func (g *Guard) LinkDebitCards(ctx context.Context, actor *budget.User, account *budget.BankAccount, apiAccountID string, requisitionIDs []string) error {
	roles := BuildRoleSet(actor)
	refs, err := g.resolveRefs(ctx, g.store, account)
	if err != nil {
		return err
	}
	if err := g.authorize(roles, ActionLinkDebitCards, account, refs); err != nil {
		return err
	}
	changes := map[string]any{
		"requisition_ids": requisitionIDs,
		"linked_at":       time.Now().UTC(),
	}
	if apiAccountID != "" {
		changes["api_account_id"] = apiAccountID
	}
	if err := g.store.Apply(ctx, []store.Mutation{store.Update{
		Class: budget.ClassBankAccount, ID: account.ID, Changes: changes,
	}}); err != nil {
		return mapStoreErr(err)
	}
	_ = audit.LogEvent(ctx, "bank_account.link_debit_cards", map[string]any{
		"bank_account_id": account.ID,
	})
	return nil
}

// lockedPayment loads the payment inside the transaction and runs the link
// authorization: the actor must hold an edit grant on the payment, or own
// the bank account the payment arrived on.
func (g *Guard) lockedPayment(ctx context.Context, tx store.DataStore, roles RoleSet, paymentID int64) (*budget.Payment, error) {
	res, err := tx.Get(ctx, budget.ClassPayment, paymentID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	p := res.(*budget.Payment)
	refs, err := g.resolveRefs(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	canEdit := g.policy.Allows(roles, ActionEdit, p, refs)
	ownsAccount := p.BankAccountID != nil && roles.contains(roles.BankAccountOwnerIDs, *p.BankAccountID)
	if !canEdit && !ownsAccount {
		if g.policy.Allows(roles, ActionRead, p, refs) {
			return nil, ErrNotAuthorized
		}
		return nil, ErrNotFound
	}
	return p, nil
}

// resolveRefs walks the ownership chain of a resource through the store so
// the engine can evaluate relationship rules without I/O of its own.
func (g *Guard) resolveRefs(ctx context.Context, ds store.DataStore, res budget.Resource) (Refs, error) {
	var refs Refs
	switch v := res.(type) {
	case *budget.Regulation:
		refs.RegulationID = v.ID
	case *budget.Grant:
		refs.GrantID = v.ID
		refs.RegulationID = v.RegulationID
	case *budget.Initiative:
		refs.InitiativeID = v.ID
		refs.GrantID = v.GrantID
		reg, err := g.parentRegulation(ctx, ds, v.GrantID)
		if err != nil {
			return refs, err
		}
		refs.RegulationID = reg
	case *budget.Activity:
		refs.ActivityID = v.ID
		refs.InitiativeID = v.InitiativeID
		if err := g.fillFromInitiative(ctx, ds, v.InitiativeID, &refs); err != nil {
			return refs, err
		}
	case *budget.Payment:
		if v.BankAccountID != nil {
			refs.BankAccountID = *v.BankAccountID
		}
		if v.ActivityID != nil {
			refs.ActivityID = *v.ActivityID
			act, err := ds.Get(ctx, budget.ClassActivity, *v.ActivityID)
			if err == nil && act.(*budget.Activity).Hidden {
				refs.UpstreamHidden = true
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return refs, err
			}
		}
		if v.InitiativeID != nil {
			refs.InitiativeID = *v.InitiativeID
			if err := g.fillFromInitiative(ctx, ds, *v.InitiativeID, &refs); err != nil {
				return refs, err
			}
		}
	case *budget.BankAccount:
		refs.BankAccountID = v.ID
	case *budget.Attachment:
		entity, err := ds.Get(ctx, v.EntityClass, v.EntityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return refs, nil
			}
			return refs, err
		}
		return g.resolveRefs(ctx, ds, entity)
	}
	return refs, nil
}

// fillFromInitiative resolves grant and regulation above an initiative and
// folds its hidden flag into the upstream visibility.
func (g *Guard) fillFromInitiative(ctx context.Context, ds store.DataStore, initiativeID int64, refs *Refs) error {
	res, err := ds.Get(ctx, budget.ClassInitiative, initiativeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	initiative := res.(*budget.Initiative)
	if initiative.Hidden {
		refs.UpstreamHidden = true
	}
	refs.GrantID = initiative.GrantID
	reg, err := g.parentRegulation(ctx, ds, initiative.GrantID)
	if err != nil {
		return err
	}
	refs.RegulationID = reg
	return nil
}

func (g *Guard) parentRegulation(ctx context.Context, ds store.DataStore, grantID int64) (int64, error) {
	if grantID == 0 {
		return 0, nil
	}
	res, err := ds.Get(ctx, budget.ClassGrant, grantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return res.(*budget.Grant).RegulationID, nil
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return alreadyExists()
	default:
		return err
	}
}

func fieldNames(changes map[string]any) []string {
	out := make([]string, 0, len(changes))
	for k := range changes {
		out = append(out, k)
	}
	return out
}

func optVal(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
