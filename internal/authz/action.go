package authz

// Action is the verb of a policy decision.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"

	// Composite, resource-specific actions.
	ActionAssignOwners   Action = "assign-owners"
	ActionAssignOfficers Action = "assign-officers"
	ActionAssignOverseer Action = "assign-overseer"
	ActionLinkDebitCards Action = "link-debit-cards"
	ActionLinkInitiative Action = "link-initiative"
	ActionLinkActivity   Action = "link-activity"
	ActionReadSensitive  Action = "read-sensitive"
)
