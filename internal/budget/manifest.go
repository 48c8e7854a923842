package budget

// RelationSpec declares one relationship slot of a class.
type RelationSpec struct {
	Name       string
	Class      Class
	Collection bool
}

// ParentRef declares a many-to-one relationship usable as a join path segment
// in query predicates (e.g. "initiative.grant_id" on the activity class).
type ParentRef struct {
	Class Class
	// FKCol is the local column referencing the parent's id.
	FKCol string
}

// Manifest is the static field and relationship description of a class. The
// field filter and the query compiler consult these instead of reflecting
// over value graphs.
type Manifest struct {
	Class     Class
	Table     string
	Scalars   []string
	Sensitive []string
	Relations []RelationSpec
	Parents   map[string]ParentRef
}

// Manifests indexes every class the core authorizes. Resolved once at compile
// time; never mutated.
var Manifests = map[Class]Manifest{
	ClassUser: {
		Class:     ClassUser,
		Table:     "users",
		Scalars:   []string{"id", "email", "password_hash", "first_name", "last_name", "biography", "role", "is_superuser", "hidden", "profile_picture"},
		Sensitive: []string{"password_hash"},
	},
	ClassFunder: {
		Class:   ClassFunder,
		Table:   "funders",
		Scalars: []string{"id", "name", "url"},
		Relations: []RelationSpec{
			{Name: "regulations", Class: ClassRegulation, Collection: true},
		},
	},
	ClassRegulation: {
		Class:   ClassRegulation,
		Table:   "regulations",
		Scalars: []string{"id", "funder_id", "name", "description"},
		Relations: []RelationSpec{
			{Name: "grants", Class: ClassGrant, Collection: true},
		},
		Parents: map[string]ParentRef{
			"funder": {Class: ClassFunder, FKCol: "funder_id"},
		},
	},
	ClassGrant: {
		Class:   ClassGrant,
		Table:   "grants",
		Scalars: []string{"id", "regulation_id", "name", "budget"},
		Relations: []RelationSpec{
			{Name: "initiatives", Class: ClassInitiative, Collection: true},
		},
		Parents: map[string]ParentRef{
			"regulation": {Class: ClassRegulation, FKCol: "regulation_id"},
		},
	},
	ClassInitiative: {
		Class:   ClassInitiative,
		Table:   "initiatives",
		Scalars: []string{"id", "grant_id", "name", "description", "purpose", "target_audience", "hidden", "budget", "profile_picture", "finished_description"},
		Relations: []RelationSpec{
			{Name: "activities", Class: ClassActivity, Collection: true},
		},
		Parents: map[string]ParentRef{
			"grant": {Class: ClassGrant, FKCol: "grant_id"},
		},
	},
	ClassActivity: {
		Class:   ClassActivity,
		Table:   "activities",
		Scalars: []string{"id", "initiative_id", "name", "description", "purpose", "target_audience", "hidden", "finished", "finished_description", "budget", "profile_picture"},
		Parents: map[string]ParentRef{
			"initiative": {Class: ClassInitiative, FKCol: "initiative_id"},
		},
	},
	ClassBankAccount: {
		Class:     ClassBankAccount,
		Table:     "bank_accounts",
		Scalars:   []string{"id", "iban", "name", "linked_at", "api_account_id", "requisition_ids"},
		Sensitive: []string{"api_account_id", "requisition_ids"},
		Relations: []RelationSpec{
			{Name: "payments", Class: ClassPayment, Collection: true},
		},
	},
	ClassPayment: {
		Class:   ClassPayment,
		Table:   "payments",
		Scalars: []string{"id", "transaction_id", "type", "amount", "booking_date", "counterparty_name", "counterparty_account", "hidden", "short_user_description", "long_user_description", "bank_account_id", "initiative_id", "activity_id"},
		Parents: map[string]ParentRef{
			"initiative":   {Class: ClassInitiative, FKCol: "initiative_id"},
			"activity":     {Class: ClassActivity, FKCol: "activity_id"},
			"bank_account": {Class: ClassBankAccount, FKCol: "bank_account_id"},
		},
	},
	ClassAttachment: {
		Class:   ClassAttachment,
		Table:   "attachments",
		Scalars: []string{"id", "kind", "entity_class", "entity_id", "path"},
	},
}

// ManifestFor returns the manifest of a class; ok is false for unknown tags.
func ManifestFor(class Class) (Manifest, bool) {
	m, ok := Manifests[class]
	return m, ok
}

// IsSensitive reports whether the named field is sensitive on the class.
func (m Manifest) IsSensitive(field string) bool {
	for _, s := range m.Sensitive {
		if s == field {
			return true
		}
	}
	return false
}

// HasScalar reports whether the class declares the named scalar column.
func (m Manifest) HasScalar(field string) bool {
	for _, s := range m.Scalars {
		if s == field {
			return true
		}
	}
	return false
}

// RelationNamed returns the relationship slot declared under name.
func (m Manifest) RelationNamed(name string) (RelationSpec, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationSpec{}, false
}
