package authz

import "openbudget.org/internal/budget"

// Field grant sets referenced by the default policy. Declared once so the
// rule table below stays readable.
var (
	userSelfEdit = []string{"first_name", "last_name", "biography", "email", "password_hash", "profile_picture"}

	initiativeOwnerEdit    = []string{"description", "hidden", "profile_picture", "finished_description"}
	initiativeOverseerEdit = []string{"name", "description", "purpose", "target_audience", "budget", "profile_picture", "finished_description"}

	activityOwnerEdit  = []string{"name", "description", "purpose", "target_audience", "finished", "finished_description", "profile_picture"}
	activityHigherEdit = []string{"name", "description", "purpose", "target_audience", "hidden", "finished", "finished_description", "budget", "profile_picture"}

	paymentUserEdit      = []string{"short_user_description", "long_user_description", "hidden"}
	paymentFinancialEdit = []string{"amount", "booking_date", "counterparty_name", "counterparty_account", "short_user_description", "long_user_description", "hidden"}

	bankAccountSensitive = []string{"api_account_id", "requisition_ids"}
)

var initiativeChain = []Relation{RelInitiativeOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}
var activityChain = []Relation{RelActivityOwner, RelInitiativeOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}

// DefaultPolicy is the production rule set. Administrators and superusers
// are covered by the global rule; everything not granted here is denied.
func DefaultPolicy() *Policy {
	return MustPolicy([]Rule{
		// Users: self-service only. Role, hidden and superuser flags are
		// never self-editable.
		{Class: budget.ClassUser, Actions: []Action{ActionRead}, Via: []Relation{RelSelf}},
		{Class: budget.ClassUser, Actions: []Action{ActionEdit}, Via: []Relation{RelSelf}, Fields: userSelfEdit},

		// The funding hierarchy is public down to grants.
		{Class: budget.ClassFunder, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}},
		{Class: budget.ClassRegulation, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}},
		{Class: budget.ClassGrant, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}},

		// Officers of the regulation may appoint a grant's overseer.
		{Class: budget.ClassGrant, Actions: []Action{ActionAssignOverseer}, Via: []Relation{RelGrantOfficer, RelPolicyOfficer}},

		// Initiatives: public when visible; owners and everyone above see
		// hidden rows too.
		{Class: budget.ClassInitiative, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}, Public: true},
		{Class: budget.ClassInitiative, Actions: []Action{ActionRead}, Via: initiativeChain},
		{Class: budget.ClassInitiative, Actions: []Action{ActionEdit}, Via: []Relation{RelInitiativeOwner}, Fields: initiativeOwnerEdit},
		{Class: budget.ClassInitiative, Actions: []Action{ActionEdit}, Via: []Relation{RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}, Fields: initiativeOverseerEdit},
		{Class: budget.ClassInitiative, Actions: []Action{ActionAssignOwners}, Via: initiativeChain},

		// Activities: owners edit while unfinished, keep the closing note
		// afterwards; only an initiative owner or higher can reopen.
		{Class: budget.ClassActivity, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}, Public: true},
		{Class: budget.ClassActivity, Actions: []Action{ActionRead}, Via: activityChain},
		{Class: budget.ClassActivity, Actions: []Action{ActionCreate}, Via: initiativeChain},
		{Class: budget.ClassActivity, Actions: []Action{ActionEdit}, Via: []Relation{RelActivityOwner}, Fields: activityOwnerEdit, When: []Cond{{Field: "finished", Equals: false}}},
		{Class: budget.ClassActivity, Actions: []Action{ActionEdit}, Via: []Relation{RelActivityOwner}, Fields: []string{"finished_description"}},
		{Class: budget.ClassActivity, Actions: []Action{ActionEdit}, Via: initiativeChain, Fields: activityHigherEdit},
		{Class: budget.ClassActivity, Actions: []Action{ActionAssignOwners}, Via: initiativeChain},
		{Class: budget.ClassActivity, Actions: []Action{ActionDelete}, Via: initiativeChain},

		// Payments: transparency for signed-in users on the visible chain;
		// owners, overseers, officers and account holders see the rest.
		{Class: budget.ClassPayment, Actions: []Action{ActionRead}, Via: []Relation{RelAuthenticated}, Public: true},
		{Class: budget.ClassPayment, Actions: []Action{ActionRead}, Via: []Relation{RelInitiativeOwner, RelActivityOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer, RelBankAccountUser, RelBankAccountOwner}},
		{Class: budget.ClassPayment, Actions: []Action{ActionEdit}, Via: []Relation{RelInitiativeOwner, RelActivityOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}, Fields: paymentUserEdit},
		// Financial columns are only ever editable on manual records; bank
		// imports stay immutable regardless of role.
		{Class: budget.ClassPayment, Actions: []Action{ActionEdit}, Via: []Relation{RelInitiativeOwner, RelActivityOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}, Fields: paymentFinancialEdit, When: []Cond{{Field: "type", Equals: budget.PaymentTypeManual}}},
		{Class: budget.ClassPayment, Actions: []Action{ActionCreate}, Via: []Relation{RelInitiativeOwner, RelActivityOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}, When: []Cond{{Field: "type", Equals: budget.PaymentTypeManual}}},
		{Class: budget.ClassPayment, Actions: []Action{ActionDelete}, Via: []Relation{RelInitiativeOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}, When: []Cond{{Field: "type", Equals: budget.PaymentTypeManual}}},

		// Bank accounts: users read the plain columns, the owner also the
		// requisition internals. Owner manages users and may unlink.
		{Class: budget.ClassBankAccount, Actions: []Action{ActionRead}, Via: []Relation{RelBankAccountUser, RelBankAccountOwner}},
		{Class: budget.ClassBankAccount, Actions: []Action{ActionReadSensitive}, Via: []Relation{RelBankAccountOwner}, Fields: bankAccountSensitive},
		{Class: budget.ClassBankAccount, Actions: []Action{ActionEdit}, Via: []Relation{RelBankAccountOwner}, Fields: []string{"name"}},
		{Class: budget.ClassBankAccount, Actions: []Action{ActionAssignOwners}, Via: []Relation{RelBankAccountOwner}},
		{Class: budget.ClassBankAccount, Actions: []Action{ActionDelete}, Via: []Relation{RelBankAccountOwner}},

		// Attachments: profile pictures are public, receipts follow the
		// payment chain.
		{Class: budget.ClassAttachment, Actions: []Action{ActionRead}, Via: []Relation{RelAnyone}, When: []Cond{{Field: "kind", Equals: budget.AttachmentProfilePicture}}},
		{Class: budget.ClassAttachment, Actions: []Action{ActionRead, ActionDelete}, Via: []Relation{RelInitiativeOwner, RelActivityOwner, RelGrantOverseer, RelGrantOfficer, RelPolicyOfficer}},
	})
}
