package authz

import (
	"context"
	"testing"
	"time"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
	"openbudget.org/internal/store/memstore"
)

// Fixture ids. One funder chain with a visible and a hidden initiative, two
// activities on the visible one, a linked bank account, and payments in the
// interesting link states.
const (
	adminID = int64(1)
	aliceID = int64(2) // owns both initiatives
	bobID   = int64(3) // owns both activities
	carolID = int64(4) // owns the bank account
	daveID  = int64(5) // plain signed-in user
	eveID   = int64(6) // grant overseer
	frankID = int64(7) // grant officer on the regulation

	regulationID       = int64(10)
	grantID            = int64(20)
	initiativeID       = int64(30)
	hiddenInitiativeID = int64(31)
	activityID         = int64(40) // open
	finishedActivityID = int64(41) // finished
	accountID          = int64(50)

	linkedPaymentID   = int64(60) // bank, on initiative+activity
	unlinkedPaymentID = int64(61) // bank, detached
	manualPaymentID   = int64(62) // manual, on the hidden initiative
	hiddenPaymentID   = int64(63) // bank, hidden flag set
)

func newFixture(t *testing.T) (*Guard, *memstore.Mem) {
	t.Helper()
	mem := memstore.New()

	mem.Seed(
		&budget.User{ID: adminID, Email: "admin@example.org", Role: budget.RoleAdministrator},
		&budget.User{ID: aliceID, Email: "alice@example.org", Role: budget.RoleUser},
		&budget.User{ID: bobID, Email: "bob@example.org", Role: budget.RoleUser},
		&budget.User{ID: carolID, Email: "carol@example.org", Role: budget.RoleUser},
		&budget.User{ID: daveID, Email: "dave@example.org", Role: budget.RoleUser},
		&budget.User{ID: eveID, Email: "eve@example.org", Role: budget.RoleUser},
		&budget.User{ID: frankID, Email: "frank@example.org", Role: budget.RoleUser},

		&budget.Funder{ID: 1, Name: "Community Fund"},
		&budget.Regulation{ID: regulationID, FunderID: 1, Name: "Neighbourhood 2025"},
		&budget.Grant{ID: grantID, RegulationID: regulationID, Name: "District North", Budget: 5_000_00},
		&budget.Initiative{ID: initiativeID, GrantID: grantID, Name: "Community Garden"},
		&budget.Initiative{ID: hiddenInitiativeID, GrantID: grantID, Name: "Quiet Project", Hidden: true},
		&budget.Activity{ID: activityID, InitiativeID: initiativeID, Name: "Spring Planting"},
		&budget.Activity{ID: finishedActivityID, InitiativeID: initiativeID, Name: "Winter Prep", Finished: true},
		&budget.BankAccount{ID: accountID, IBAN: "NL00TEST0123456789", Name: "Garden Account", APIAccountID: "acc-secret"},
	)

	booked := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	mem.Seed(
		&budget.Payment{ID: linkedPaymentID, TransactionID: "tx-linked", Type: budget.PaymentTypeBank, Amount: -2500,
			BookingDate: booked, BankAccountID: ptr(accountID), InitiativeID: ptr(initiativeID), ActivityID: ptr(activityID)},
		&budget.Payment{ID: unlinkedPaymentID, TransactionID: "tx-unlinked", Type: budget.PaymentTypeBank, Amount: -900,
			BookingDate: booked, BankAccountID: ptr(accountID)},
		&budget.Payment{ID: manualPaymentID, TransactionID: "tx-manual", Type: budget.PaymentTypeManual, Amount: -400,
			BookingDate: booked, InitiativeID: ptr(hiddenInitiativeID)},
		&budget.Payment{ID: hiddenPaymentID, TransactionID: "tx-hidden", Type: budget.PaymentTypeBank, Amount: -100,
			BookingDate: booked, BankAccountID: ptr(accountID), InitiativeID: ptr(initiativeID), Hidden: true},
	)

	mem.SeedRole(store.RoleInitiativeOwner, initiativeID, aliceID)
	mem.SeedRole(store.RoleInitiativeOwner, hiddenInitiativeID, aliceID)
	mem.SeedRole(store.RoleActivityOwner, activityID, bobID)
	mem.SeedRole(store.RoleActivityOwner, finishedActivityID, bobID)
	mem.SeedRole(store.RoleGrantOverseer, grantID, eveID)
	mem.SeedRole(store.RoleGrantOfficer, regulationID, frankID)
	mem.SeedRole(store.RoleBankAccountOwner, accountID, carolID)

	guard, err := NewGuard(DefaultPolicy(), mem)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return guard, mem
}

func ptr(v int64) *int64 { return &v }

func loadUser(t *testing.T, mem *memstore.Mem, id int64) *budget.User {
	t.Helper()
	res, err := mem.Get(context.Background(), budget.ClassUser, id)
	if err != nil {
		t.Fatalf("load user %d: %v", id, err)
	}
	return res.(*budget.User)
}

func listIDs(t *testing.T, g *Guard, mem *memstore.Mem, actor *budget.User, class budget.Class) []int64 {
	t.Helper()
	pred := g.AuthorizedQuery(actor, ActionRead, class)
	rows, err := mem.Query(context.Background(), class, pred, nil, 0, 0)
	if err != nil {
		t.Fatalf("query %s: %v", class, err)
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ResourceID())
	}
	return ids
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestAnonymousSeesOnlyVisibleInitiatives(t *testing.T) {
	g, mem := newFixture(t)

	ids := listIDs(t, g, mem, nil, budget.ClassInitiative)
	if !containsID(ids, initiativeID) {
		t.Fatal("visible initiative missing from anonymous listing")
	}
	if containsID(ids, hiddenInitiativeID) {
		t.Fatal("hidden initiative leaked to anonymous listing")
	}
}

func TestOwnerSeesHiddenInitiative(t *testing.T) {
	g, mem := newFixture(t)
	alice := loadUser(t, mem, aliceID)

	ids := listIDs(t, g, mem, alice, budget.ClassInitiative)
	if !containsID(ids, hiddenInitiativeID) {
		t.Fatal("owner cannot see own hidden initiative")
	}

	// A plain user still cannot, neither in listings nor by direct read.
	dave := loadUser(t, mem, daveID)
	if containsID(listIDs(t, g, mem, dave, budget.ClassInitiative), hiddenInitiativeID) {
		t.Fatal("hidden initiative leaked to unrelated user")
	}
	res, _ := mem.Get(context.Background(), budget.ClassInitiative, hiddenInitiativeID)
	if _, err := g.ProjectForRead(context.Background(), dave, res); KindOf(err) != KindNotFound {
		t.Fatalf("expected not-found for hidden initiative, got %v", err)
	}
}

func TestReadDenialIsNotFoundEditDenialIsNotAuthorized(t *testing.T) {
	g, mem := newFixture(t)
	dave := loadUser(t, mem, daveID)

	res, _ := mem.Get(context.Background(), budget.ClassInitiative, initiativeID)
	// The initiative is publicly readable, so a denied edit must be a 403
	// shape, not a 404.
	err := g.Update(context.Background(), dave, res, map[string]any{"description": "mine now"})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized, got %v", err)
	}
}

func TestFinishedActivityEditGrants(t *testing.T) {
	g, mem := newFixture(t)
	bob := loadUser(t, mem, bobID)
	alice := loadUser(t, mem, aliceID)
	ctx := context.Background()

	res, _ := mem.Get(ctx, budget.ClassActivity, finishedActivityID)

	// The activity owner lost the general edit grant when it finished.
	err := g.Update(ctx, bob, res, map[string]any{"description": "late change"})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for finished activity edit, got %v", err)
	}

	// The closing note stays editable for the owner.
	if err := g.Update(ctx, bob, res, map[string]any{"finished_description": "all done"}); err != nil {
		t.Fatalf("finished_description edit failed: %v", err)
	}

	// The initiative owner keeps the full grant and can reopen.
	if err := g.Update(ctx, alice, res, map[string]any{"finished": false}); err != nil {
		t.Fatalf("initiative owner reopen failed: %v", err)
	}
}

func TestOpenActivityOwnerEdit(t *testing.T) {
	g, mem := newFixture(t)
	bob := loadUser(t, mem, bobID)

	res, _ := mem.Get(context.Background(), budget.ClassActivity, activityID)
	if err := g.Update(context.Background(), bob, res, map[string]any{"description": "weekly schedule"}); err != nil {
		t.Fatalf("open activity edit failed: %v", err)
	}
	// The budget column is reserved for the initiative chain.
	err := g.Update(context.Background(), bob, res, map[string]any{"budget": int64(100)})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for budget edit, got %v", err)
	}
}

func TestLinkDetachActivityFirst(t *testing.T) {
	g, mem := newFixture(t)
	alice := loadUser(t, mem, aliceID)
	ctx := context.Background()

	// Moving the initiative while an activity is attached conflicts.
	err := g.LinkPaymentInitiative(ctx, alice, linkedPaymentID, ptr(hiddenInitiativeID))
	if ReasonOf(err) != ReasonDetachActivityFirst {
		t.Fatalf("expected detach-activity-first, got %v", err)
	}
	// Clearing it outright conflicts the same way.
	err = g.LinkPaymentInitiative(ctx, alice, linkedPaymentID, nil)
	if ReasonOf(err) != ReasonDetachActivityFirst {
		t.Fatalf("expected detach-activity-first, got %v", err)
	}
	// Re-linking to the same initiative is a no-op, not a conflict.
	if err := g.LinkPaymentInitiative(ctx, alice, linkedPaymentID, ptr(initiativeID)); err != nil {
		t.Fatalf("same-target link failed: %v", err)
	}

	// Detach the activity, then the move is legal.
	if err := g.LinkPaymentActivity(ctx, alice, linkedPaymentID, initiativeID, nil); err != nil {
		t.Fatalf("activity detach failed: %v", err)
	}
	if err := g.LinkPaymentInitiative(ctx, alice, linkedPaymentID, ptr(hiddenInitiativeID)); err != nil {
		t.Fatalf("initiative move failed: %v", err)
	}

	res, _ := mem.Get(ctx, budget.ClassPayment, linkedPaymentID)
	p := res.(*budget.Payment)
	if p.InitiativeID == nil || *p.InitiativeID != hiddenInitiativeID || p.ActivityID != nil {
		t.Fatalf("unexpected link state: %+v", p)
	}
}

func TestLinkActivityRequiresInitiative(t *testing.T) {
	g, mem := newFixture(t)
	carol := loadUser(t, mem, carolID)
	ctx := context.Background()

	err := g.LinkPaymentActivity(ctx, carol, unlinkedPaymentID, initiativeID, ptr(activityID))
	if ReasonOf(err) != ReasonInitiativeRequired {
		t.Fatalf("expected initiative-required, got %v", err)
	}
}

func TestLinkActivityMustMatchInitiative(t *testing.T) {
	g, mem := newFixture(t)
	alice := loadUser(t, mem, aliceID)
	ctx := context.Background()

	// Seed a second activity under the hidden initiative.
	mem.Seed(&budget.Activity{ID: 42, InitiativeID: hiddenInitiativeID, Name: "Other Work"})

	err := g.LinkPaymentActivity(ctx, alice, linkedPaymentID, initiativeID, ptr(42))
	if ReasonOf(err) != ReasonActivityInitiativeMismatch {
		t.Fatalf("expected activity-initiative-mismatch, got %v", err)
	}
}

func TestBankAccountOwnerDetachesForeignPayment(t *testing.T) {
	g, mem := newFixture(t)
	carol := loadUser(t, mem, carolID)
	ctx := context.Background()

	// Carol holds no role on the initiative, yet the payment sits on her
	// account: she may detach it.
	if err := g.LinkPaymentActivity(ctx, carol, linkedPaymentID, initiativeID, nil); err != nil {
		t.Fatalf("owner activity detach failed: %v", err)
	}
	if err := g.LinkPaymentInitiative(ctx, carol, linkedPaymentID, nil); err != nil {
		t.Fatalf("owner initiative detach failed: %v", err)
	}

	// Attaching to an initiative she cannot edit stays forbidden.
	err := g.LinkPaymentInitiative(ctx, carol, linkedPaymentID, ptr(initiativeID))
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for attach, got %v", err)
	}
}

func TestBankPaymentFinancialColumnsImmutable(t *testing.T) {
	g, mem := newFixture(t)
	admin := loadUser(t, mem, adminID)
	ctx := context.Background()

	res, _ := mem.Get(ctx, budget.ClassPayment, linkedPaymentID)
	err := g.Update(ctx, admin, res, map[string]any{"amount": int64(-9999)})
	if ReasonOf(err) != ReasonBankPaymentImmutableField {
		t.Fatalf("expected bank-payment-immutable-field, got %v", err)
	}

	// Descriptions stay editable even on bank imports.
	if err := g.Update(ctx, admin, res, map[string]any{"short_user_description": "groceries"}); err != nil {
		t.Fatalf("description edit failed: %v", err)
	}

	// Manual payments have no frozen columns.
	manual, _ := mem.Get(ctx, budget.ClassPayment, manualPaymentID)
	if err := g.Update(ctx, admin, manual, map[string]any{"amount": int64(-450)}); err != nil {
		t.Fatalf("manual amount edit failed: %v", err)
	}
}

func TestUpdateRejectsLinkColumns(t *testing.T) {
	g, mem := newFixture(t)
	admin := loadUser(t, mem, adminID)

	res, _ := mem.Get(context.Background(), budget.ClassPayment, manualPaymentID)
	err := g.Update(context.Background(), admin, res, map[string]any{"initiative_id": initiativeID})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for link column, got %v", err)
	}
}

func TestPaymentVisibility(t *testing.T) {
	g, mem := newFixture(t)
	dave := loadUser(t, mem, daveID)
	alice := loadUser(t, mem, aliceID)

	// Anonymous actors see no payments at all.
	if ids := listIDs(t, g, mem, nil, budget.ClassPayment); len(ids) != 0 {
		t.Fatalf("payments leaked to anonymous: %v", ids)
	}

	ids := listIDs(t, g, mem, dave, budget.ClassPayment)
	if !containsID(ids, linkedPaymentID) || !containsID(ids, unlinkedPaymentID) {
		t.Fatalf("signed-in user missing visible payments: %v", ids)
	}
	if containsID(ids, manualPaymentID) {
		t.Fatal("payment on hidden initiative leaked")
	}
	if containsID(ids, hiddenPaymentID) {
		t.Fatal("hidden payment leaked")
	}

	// The initiative owner sees through the hidden chain.
	ids = listIDs(t, g, mem, alice, budget.ClassPayment)
	if !containsID(ids, manualPaymentID) {
		t.Fatalf("owner missing payment on own hidden initiative: %v", ids)
	}
}

func TestDeleteAuthorization(t *testing.T) {
	g, mem := newFixture(t)
	bob := loadUser(t, mem, bobID)
	alice := loadUser(t, mem, aliceID)
	ctx := context.Background()

	res, _ := mem.Get(ctx, budget.ClassActivity, activityID)
	// Activity owners cannot delete; the initiative chain can.
	if err := g.Delete(ctx, bob, res); KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for owner delete, got %v", err)
	}
	if err := g.Delete(ctx, alice, res); err != nil {
		t.Fatalf("initiative owner delete failed: %v", err)
	}
	if _, err := mem.Get(ctx, budget.ClassActivity, activityID); err == nil {
		t.Fatal("activity still present after delete")
	}
}

func TestInitiativeDeleteCascades(t *testing.T) {
	g, mem := newFixture(t)
	admin := loadUser(t, mem, adminID)
	ctx := context.Background()

	res, _ := mem.Get(ctx, budget.ClassInitiative, initiativeID)
	if err := g.Delete(ctx, admin, res); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := mem.Get(ctx, budget.ClassActivity, activityID); err == nil {
		t.Fatal("activity survived initiative delete")
	}
	p, err := mem.Get(ctx, budget.ClassPayment, linkedPaymentID)
	if err != nil {
		t.Fatalf("payment lost on cascade: %v", err)
	}
	if got := p.(*budget.Payment); got.InitiativeID != nil || got.ActivityID != nil {
		t.Fatalf("payment still linked after cascade: %+v", got)
	}
}

func TestManualPaymentCreate(t *testing.T) {
	g, mem := newFixture(t)
	alice := loadUser(t, mem, aliceID)
	dave := loadUser(t, mem, daveID)
	ctx := context.Background()

	p := &budget.Payment{
		TransactionID: "tx-new", Type: budget.PaymentTypeManual, Amount: -1200,
		BookingDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), InitiativeID: ptr(initiativeID),
	}
	if err := g.Create(ctx, alice, p); err != nil {
		t.Fatalf("owner manual create failed: %v", err)
	}

	p2 := &budget.Payment{
		TransactionID: "tx-new-2", Type: budget.PaymentTypeManual, Amount: -100,
		BookingDate: time.Now(), InitiativeID: ptr(initiativeID),
	}
	if err := g.Create(ctx, dave, p2); KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for unrelated create, got %v", err)
	}

	// Duplicate transaction ids surface as already-exists.
	dup := &budget.Payment{
		TransactionID: "tx-new", Type: budget.PaymentTypeManual, Amount: -1,
		BookingDate: time.Now(), InitiativeID: ptr(initiativeID),
	}
	if err := g.Create(ctx, alice, dup); KindOf(err) != KindAlreadyExists {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestLinkDebitCardsIsAdminOnly(t *testing.T) {
	g, mem := newFixture(t)
	ctx := context.Background()

	res, _ := mem.Get(ctx, budget.ClassBankAccount, accountID)
	account := res.(*budget.BankAccount)

	carol := loadUser(t, mem, carolID)
	err := g.LinkDebitCards(ctx, carol, account, "", []string{"req-1"})
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for owner, got %v", err)
	}
	dave := loadUser(t, mem, daveID)
	if err := g.LinkDebitCards(ctx, dave, account, "", []string{"req-1"}); KindOf(err) != KindNotFound {
		t.Fatalf("expected not-found for outsider, got %v", err)
	}

	admin := loadUser(t, mem, adminID)
	if err := g.LinkDebitCards(ctx, admin, account, "acc-new", []string{"req-1", "req-2"}); err != nil {
		t.Fatalf("admin link: %v", err)
	}
	res, _ = mem.Get(ctx, budget.ClassBankAccount, accountID)
	got := res.(*budget.BankAccount)
	if got.APIAccountID != "acc-new" || len(got.RequisitionIDs) != 2 {
		t.Fatalf("account after link: %+v", got)
	}
}

func TestAdminCannotDeleteSelf(t *testing.T) {
	g, mem := newFixture(t)
	admin := loadUser(t, mem, adminID)

	err := g.Delete(context.Background(), admin, admin)
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not-authorized for self delete, got %v", err)
	}
}
