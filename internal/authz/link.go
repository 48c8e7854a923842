package authz

import "openbudget.org/internal/budget"

// The link state of a payment is the (initiative, activity) pair. Legal
// transitions:
//
//	(nil, nil): set initiative
//	(I, nil):   clear initiative, change initiative, set activity of I
//	(I, A):     clear activity, change activity within I
//
// Everything else is a typed conflict. These checks are pure; the guard
// runs them inside the transaction that holds the payment row lock.

// checkInitiativeTransition validates moving the initiative side to target
// (nil clears). A payment with an attached activity cannot move or clear
// its initiative; the activity must be detached first.
func checkInitiativeTransition(p *budget.Payment, target *int64) *Error {
	if p.ActivityID == nil {
		return nil
	}
	if target != nil && p.InitiativeID != nil && *target == *p.InitiativeID {
		// Same value, no transition.
		return nil
	}
	return conflict(ReasonDetachActivityFirst)
}

// checkActivityTransition validates moving the activity side to act (nil
// clears). A set activity must belong to the payment's initiative.
func checkActivityTransition(p *budget.Payment, act *budget.Activity) *Error {
	if act == nil {
		return nil
	}
	if p.InitiativeID == nil {
		return conflict(ReasonInitiativeRequired)
	}
	if act.InitiativeID != *p.InitiativeID {
		return conflict(ReasonActivityInitiativeMismatch)
	}
	return nil
}

// financialColumns are the payment columns frozen on bank imports.
var financialColumns = map[string]struct{}{
	"amount":               {},
	"booking_date":         {},
	"counterparty_name":    {},
	"counterparty_account": {},
	"transaction_id":       {},
	"bank_account_id":      {},
}

func isFinancialColumn(col string) bool {
	_, ok := financialColumns[col]
	return ok
}

// linkColumns may only change through the link operations, never through a
// plain update.
var linkColumns = map[string]struct{}{
	"initiative_id": {},
	"activity_id":   {},
}

func isLinkColumn(col string) bool {
	_, ok := linkColumns[col]
	return ok
}
