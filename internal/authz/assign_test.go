package authz

import (
	"context"
	"reflect"
	"testing"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

func TestAssignInitiativeOwners(t *testing.T) {
	g, mem := newFixture(t)
	alice := loadUser(t, mem, aliceID)
	ctx := context.Background()

	entity, _ := mem.Get(ctx, budget.ClassInitiative, initiativeID)

	if err := g.AssignRoles(ctx, alice, store.RoleInitiativeOwner, entity, []int64{aliceID, daveID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	holders, _ := mem.RoleHolders(ctx, store.RoleInitiativeOwner, initiativeID)
	if !reflect.DeepEqual(holders, []int64{aliceID, daveID}) {
		t.Fatalf("holders after assign: %v", holders)
	}

	// Replaying the same target is a no-op.
	if err := g.AssignRoles(ctx, alice, store.RoleInitiativeOwner, entity, []int64{daveID, aliceID, daveID}); err != nil {
		t.Fatalf("idempotent assign: %v", err)
	}

	// Dropping a holder removes the membership row.
	if err := g.AssignRoles(ctx, alice, store.RoleInitiativeOwner, entity, []int64{daveID}); err != nil {
		t.Fatalf("shrink assign: %v", err)
	}
	holders, _ = mem.RoleHolders(ctx, store.RoleInitiativeOwner, initiativeID)
	if !reflect.DeepEqual(holders, []int64{daveID}) {
		t.Fatalf("holders after shrink: %v", holders)
	}
}

func TestAssignOwnersRequiresChainRole(t *testing.T) {
	g, mem := newFixture(t)
	dave := loadUser(t, mem, daveID)

	entity, _ := mem.Get(context.Background(), budget.ClassInitiative, initiativeID)
	err := g.AssignRoles(context.Background(), dave, store.RoleInitiativeOwner, entity, []int64{daveID})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized, got %v", err)
	}
}

func TestAssignOfficersIsAdminOnly(t *testing.T) {
	g, mem := newFixture(t)
	frank := loadUser(t, mem, frankID)
	admin := loadUser(t, mem, adminID)
	ctx := context.Background()

	entity, _ := mem.Get(ctx, budget.ClassRegulation, regulationID)

	// Even a sitting officer cannot appoint officers.
	err := g.AssignRoles(ctx, frank, store.RoleGrantOfficer, entity, []int64{frankID, daveID})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for officer, got %v", err)
	}

	if err := g.AssignRoles(ctx, admin, store.RolePolicyOfficer, entity, []int64{daveID}); err != nil {
		t.Fatalf("admin assign: %v", err)
	}
	holders, _ := mem.RoleHolders(ctx, store.RolePolicyOfficer, regulationID)
	if !reflect.DeepEqual(holders, []int64{daveID}) {
		t.Fatalf("holders: %v", holders)
	}
}

func TestAssignOverseerSingleton(t *testing.T) {
	g, mem := newFixture(t)
	frank := loadUser(t, mem, frankID)
	ctx := context.Background()

	entity, _ := mem.Get(ctx, budget.ClassGrant, grantID)

	err := g.AssignRoles(ctx, frank, store.RoleGrantOverseer, entity, []int64{eveID, daveID})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation for two overseers, got %v", err)
	}

	// Officers of the regulation may replace or clear the overseer.
	if err := g.AssignRoles(ctx, frank, store.RoleGrantOverseer, entity, []int64{daveID}); err != nil {
		t.Fatalf("replace overseer: %v", err)
	}
	holders, _ := mem.RoleHolders(ctx, store.RoleGrantOverseer, grantID)
	if !reflect.DeepEqual(holders, []int64{daveID}) {
		t.Fatalf("holders: %v", holders)
	}
	if err := g.AssignRoles(ctx, frank, store.RoleGrantOverseer, entity, nil); err != nil {
		t.Fatalf("clear overseer: %v", err)
	}
	if holders, _ := mem.RoleHolders(ctx, store.RoleGrantOverseer, grantID); len(holders) != 0 {
		t.Fatalf("overseer not cleared: %v", holders)
	}
}

func TestAssignBankAccountOwnerReplaceOnly(t *testing.T) {
	g, mem := newFixture(t)
	carol := loadUser(t, mem, carolID)
	ctx := context.Background()

	entity, _ := mem.Get(ctx, budget.ClassBankAccount, accountID)

	err := g.AssignRoles(ctx, carol, store.RoleBankAccountOwner, entity, nil)
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation for ownerless account, got %v", err)
	}

	if err := g.AssignRoles(ctx, carol, store.RoleBankAccountOwner, entity, []int64{daveID}); err != nil {
		t.Fatalf("replace owner: %v", err)
	}
	holders, _ := mem.RoleHolders(ctx, store.RoleBankAccountOwner, accountID)
	if !reflect.DeepEqual(holders, []int64{daveID}) {
		t.Fatalf("holders: %v", holders)
	}
}

func TestAssignRejectsBadInput(t *testing.T) {
	g, mem := newFixture(t)
	admin := loadUser(t, mem, adminID)
	ctx := context.Background()

	initiative, _ := mem.Get(ctx, budget.ClassInitiative, initiativeID)

	// Role kind and entity class must agree.
	err := g.AssignRoles(ctx, admin, store.RoleActivityOwner, initiative, []int64{daveID})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation for class mismatch, got %v", err)
	}

	err = g.AssignRoles(ctx, admin, store.RoleKind("mascot"), initiative, []int64{daveID})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation for unknown kind, got %v", err)
	}

	err = g.AssignRoles(ctx, admin, store.RoleInitiativeOwner, initiative, []int64{9999})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation for unknown user, got %v", err)
	}
}
