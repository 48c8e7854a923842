package authz

// Refs carries the resolved relationship ids of one resource instance: the
// initiative owning an activity, the grant above it, and so on up the
// hierarchy. The guard resolves refs through the data store before calling
// the engine, which keeps the engine free of I/O.
type Refs struct {
	InitiativeID  int64
	ActivityID    int64
	GrantID       int64
	RegulationID  int64
	BankAccountID int64

	// UpstreamHidden is true when any ancestor on the visibility chain
	// (activity, initiative) is hidden. Hidden privilege cascades downward,
	// so a public row under a hidden parent is still invisible.
	UpstreamHidden bool
}
