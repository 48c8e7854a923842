package budget

import "time"

// Class tags the entity variants the authorization core reasons about.
type Class string

const (
	ClassUser        Class = "user"
	ClassFunder      Class = "funder"
	ClassRegulation  Class = "regulation"
	ClassGrant       Class = "grant"
	ClassInitiative  Class = "initiative"
	ClassActivity    Class = "activity"
	ClassBankAccount Class = "bank_account"
	ClassPayment     Class = "payment"
	ClassAttachment  Class = "attachment"
)

// Global roles carried on the user row. Anonymous actors have no row at all.
const (
	RoleUser          = "user"
	RoleAdministrator = "administrator"
)

// Payment source types.
const (
	PaymentTypeBank   = "bank"
	PaymentTypeManual = "manual"
)

// Attachment kinds.
const (
	AttachmentProfilePicture = "profile-picture"
	AttachmentReceipt        = "receipt"
)

// Resource is the tagged variant every policy decision dispatches on.
type Resource interface {
	ResourceClass() Class
	ResourceID() int64
	// Fields returns the scalar columns of the row keyed by column name.
	Fields() map[string]any
	// Relations returns the declared relationships and their load state.
	Relations() map[string]Related
}

// Related describes one relationship slot on a loaded resource. An unloaded
// relationship keeps its sentinel: Item nil for singles, empty Items for
// collections. The field filter never loads anything through this.
type Related struct {
	Class      Class
	Collection bool
	Loaded     bool
	Item       Resource
	Items      []Resource
}

// User is both an actor and a resource. Membership id sets are loaded eagerly
// with the row; the in-memory actor holds ids only, never object pointers.
type User struct {
	ID             int64
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Biography      string
	Role           string
	IsSuperuser    bool
	Hidden         bool
	ProfilePicture string
	CreatedAt      time.Time

	// Membership rows, eager-loaded from the per-entity role tables.
	InitiativeIDs              []int64
	ActivityIDs                []int64
	OverseerGrantIDs           []int64
	GrantOfficerRegulationIDs  []int64
	PolicyOfficerRegulationIDs []int64
	BankAccountUserIDs         []int64
	BankAccountOwnerIDs        []int64
}

func (u *User) ResourceClass() Class { return ClassUser }
func (u *User) ResourceID() int64    { return u.ID }

func (u *User) Fields() map[string]any {
	return map[string]any{
		"id":              u.ID,
		"email":           u.Email,
		"password_hash":   u.PasswordHash,
		"first_name":      u.FirstName,
		"last_name":       u.LastName,
		"biography":       u.Biography,
		"role":            u.Role,
		"is_superuser":    u.IsSuperuser,
		"hidden":          u.Hidden,
		"profile_picture": u.ProfilePicture,
	}
}

func (u *User) Relations() map[string]Related { return nil }

// Funder is the top of the funding hierarchy.
type Funder struct {
	ID   int64
	Name string
	URL  string

	Regulations       []*Regulation
	RegulationsLoaded bool
}

func (f *Funder) ResourceClass() Class { return ClassFunder }
func (f *Funder) ResourceID() int64    { return f.ID }

func (f *Funder) Fields() map[string]any {
	return map[string]any{"id": f.ID, "name": f.Name, "url": f.URL}
}

func (f *Funder) Relations() map[string]Related {
	return map[string]Related{
		"regulations": collection(ClassRegulation, f.RegulationsLoaded, toResources(f.Regulations)),
	}
}

// Regulation groups grants under a funder and carries the officer roles.
type Regulation struct {
	ID          int64
	FunderID    int64
	Name        string
	Description string

	Grants       []*Grant
	GrantsLoaded bool
}

func (r *Regulation) ResourceClass() Class { return ClassRegulation }
func (r *Regulation) ResourceID() int64    { return r.ID }

func (r *Regulation) Fields() map[string]any {
	return map[string]any{
		"id":          r.ID,
		"funder_id":   r.FunderID,
		"name":        r.Name,
		"description": r.Description,
	}
}

func (r *Regulation) Relations() map[string]Related {
	return map[string]Related{
		"grants": collection(ClassGrant, r.GrantsLoaded, toResources(r.Grants)),
	}
}

// Grant funds initiatives and has at most one overseer.
type Grant struct {
	ID           int64
	RegulationID int64
	Name         string
	Budget       int64

	Initiatives       []*Initiative
	InitiativesLoaded bool
}

func (g *Grant) ResourceClass() Class { return ClassGrant }
func (g *Grant) ResourceID() int64    { return g.ID }

func (g *Grant) Fields() map[string]any {
	return map[string]any{
		"id":            g.ID,
		"regulation_id": g.RegulationID,
		"name":          g.Name,
		"budget":        g.Budget,
	}
}

func (g *Grant) Relations() map[string]Related {
	return map[string]Related{
		"initiatives": collection(ClassInitiative, g.InitiativesLoaded, toResources(g.Initiatives)),
	}
}

// Initiative is the unit participants own and spend against.
type Initiative struct {
	ID                  int64
	GrantID             int64
	Name                string
	Description         string
	Purpose             string
	TargetAudience      string
	Hidden              bool
	Budget              int64
	ProfilePicture      string
	FinishedDescription string

	Activities       []*Activity
	ActivitiesLoaded bool
}

func (i *Initiative) ResourceClass() Class { return ClassInitiative }
func (i *Initiative) ResourceID() int64    { return i.ID }

func (i *Initiative) Fields() map[string]any {
	return map[string]any{
		"id":                   i.ID,
		"grant_id":             i.GrantID,
		"name":                 i.Name,
		"description":          i.Description,
		"purpose":              i.Purpose,
		"target_audience":      i.TargetAudience,
		"hidden":               i.Hidden,
		"budget":               i.Budget,
		"profile_picture":      i.ProfilePicture,
		"finished_description": i.FinishedDescription,
	}
}

func (i *Initiative) Relations() map[string]Related {
	return map[string]Related{
		"activities": collection(ClassActivity, i.ActivitiesLoaded, toResources(i.Activities)),
	}
}

// Activity is a sub-project of an initiative. The (name, initiative_id) pair
// is unique in storage.
type Activity struct {
	ID                  int64
	InitiativeID        int64
	Name                string
	Description         string
	Purpose             string
	TargetAudience      string
	Hidden              bool
	Finished            bool
	FinishedDescription string
	Budget              int64
	ProfilePicture      string
}

func (a *Activity) ResourceClass() Class { return ClassActivity }
func (a *Activity) ResourceID() int64    { return a.ID }

func (a *Activity) Fields() map[string]any {
	return map[string]any{
		"id":                   a.ID,
		"initiative_id":        a.InitiativeID,
		"name":                 a.Name,
		"description":          a.Description,
		"purpose":              a.Purpose,
		"target_audience":      a.TargetAudience,
		"hidden":               a.Hidden,
		"finished":             a.Finished,
		"finished_description": a.FinishedDescription,
		"budget":               a.Budget,
		"profile_picture":      a.ProfilePicture,
	}
}

func (a *Activity) Relations() map[string]Related { return nil }

// BankAccount is an account linked through open banking. Exactly one owner at
// a time; users are a separate multiset.
type BankAccount struct {
	ID           int64
	IBAN         string
	Name         string
	APIAccountID string
	LinkedAt     time.Time

	RequisitionIDs []string

	Payments       []*Payment
	PaymentsLoaded bool
}

func (b *BankAccount) ResourceClass() Class { return ClassBankAccount }
func (b *BankAccount) ResourceID() int64    { return b.ID }

func (b *BankAccount) Fields() map[string]any {
	return map[string]any{
		"id":              b.ID,
		"iban":            b.IBAN,
		"name":            b.Name,
		"api_account_id":  b.APIAccountID,
		"linked_at":       b.LinkedAt,
		"requisition_ids": b.RequisitionIDs,
	}
}

func (b *BankAccount) Relations() map[string]Related {
	return map[string]Related{
		"payments": collection(ClassPayment, b.PaymentsLoaded, toResources(b.Payments)),
	}
}

// Payment is an imported bank transaction or a manually recorded expense.
// Amounts are minor units; no floats. The (initiative, activity) pair is the
// link state governed by the linking state machine.
type Payment struct {
	ID                   int64
	TransactionID        string
	Type                 string
	Amount               int64
	BookingDate          time.Time
	CounterpartyName     string
	CounterpartyAccount  string
	Hidden               bool
	ShortUserDescription string
	LongUserDescription  string

	BankAccountID *int64
	InitiativeID  *int64
	ActivityID    *int64
}

func (p *Payment) ResourceClass() Class { return ClassPayment }
func (p *Payment) ResourceID() int64    { return p.ID }

func (p *Payment) Fields() map[string]any {
	return map[string]any{
		"id":                     p.ID,
		"transaction_id":         p.TransactionID,
		"type":                   p.Type,
		"amount":                 p.Amount,
		"booking_date":           p.BookingDate,
		"counterparty_name":      p.CounterpartyName,
		"counterparty_account":   p.CounterpartyAccount,
		"hidden":                 p.Hidden,
		"short_user_description": p.ShortUserDescription,
		"long_user_description":  p.LongUserDescription,
		"bank_account_id":        optID(p.BankAccountID),
		"initiative_id":          optID(p.InitiativeID),
		"activity_id":            optID(p.ActivityID),
	}
}

func (p *Payment) Relations() map[string]Related { return nil }

// Attachment is an uploaded file bound to one entity.
type Attachment struct {
	ID          int64
	Kind        string
	EntityClass Class
	EntityID    int64
	Path        string
}

func (a *Attachment) ResourceClass() Class { return ClassAttachment }
func (a *Attachment) ResourceID() int64    { return a.ID }

func (a *Attachment) Fields() map[string]any {
	return map[string]any{
		"id":           a.ID,
		"kind":         a.Kind,
		"entity_class": string(a.EntityClass),
		"entity_id":    a.EntityID,
		"path":         a.Path,
	}
}

func (a *Attachment) Relations() map[string]Related { return nil }

func collection(class Class, loaded bool, items []Resource) Related {
	return Related{Class: class, Collection: true, Loaded: loaded, Items: items}
}

func toResources[T Resource](in []T) []Resource {
	if len(in) == 0 {
		return nil
	}
	out := make([]Resource, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	return out
}

func optID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
