// Package store defines the persistence boundary consumed by the
// authorization core. Implementations: memstore (in-process) and pg
// (Postgres via pgx).
package store

import (
	"context"
	"errors"

	"openbudget.org/internal/budget"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Predicate is the query language of the store: a small algebra over columns
// of the resource table and of joined parent relations. Columns may be dotted
// paths ("initiative.grant_id") resolved through the class manifest's parent
// refs.
type Predicate interface{ pred() }

// All matches every row. Used for the administrator clause.
type All struct{}

// None matches no row. Used for the anonymous deny.
type None struct{}

// Eq matches rows whose column equals the value.
type Eq struct {
	Col   string
	Value any
}

// In matches rows whose column is contained in the id set. An empty set
// matches nothing.
type In struct {
	Col string
	IDs []int64
}

// And is the conjunction of its parts.
type And []Predicate

// Or is the disjunction of its parts.
type Or []Predicate

// Not negates its operand.
type Not struct{ P Predicate }

func (All) pred()  {}
func (None) pred() {}
func (Eq) pred()   {}
func (In) pred()   {}
func (And) pred()  {}
func (Or) pred()   {}
func (Not) pred()  {}

// Order is one sort key. Collections default to id descending; payments sort
// by booking_date descending then id descending.
type Order struct {
	Col  string
	Desc bool
}

// DefaultOrder returns the canonical ordering for a class.
func DefaultOrder(class budget.Class) []Order {
	if class == budget.ClassPayment {
		return []Order{{Col: "booking_date", Desc: true}, {Col: "id", Desc: true}}
	}
	return []Order{{Col: "id", Desc: true}}
}

// RoleKind names a membership row kind in the per-entity role tables.
type RoleKind string

const (
	RoleInitiativeOwner  RoleKind = "initiative-owner"
	RoleActivityOwner    RoleKind = "activity-owner"
	RoleGrantOverseer    RoleKind = "grant-overseer"
	RoleGrantOfficer     RoleKind = "grant-officer"
	RolePolicyOfficer    RoleKind = "policy-officer"
	RoleBankAccountUser  RoleKind = "bank-account-user"
	RoleBankAccountOwner RoleKind = "bank-account-owner"
)

// Mutation is one atomic write. Apply executes all mutations of a batch in a
// single transaction.
type Mutation interface{ mut() }

// Insert creates a row; the store assigns the id unless "id" is present.
type Insert struct {
	Class  budget.Class
	Fields map[string]any
}

// Update overwrites the given columns of one row.
type Update struct {
	Class   budget.Class
	ID      int64
	Changes map[string]any
}

// Delete removes one row (children cascade per schema).
type Delete struct {
	Class budget.Class
	ID    int64
}

// AddRole inserts a membership row.
type AddRole struct {
	Kind     RoleKind
	EntityID int64
	UserID   int64
}

// RemoveRole deletes a membership row.
type RemoveRole struct {
	Kind     RoleKind
	EntityID int64
	UserID   int64
}

func (Insert) mut()     {}
func (Update) mut()     {}
func (Delete) mut()     {}
func (AddRole) mut()    {}
func (RemoveRole) mut() {}

// DataStore is the row boundary of the core. Reads honor the predicate
// algebra; writes happen through Apply inside one transaction. InTx runs fn
// against a transactional view with the payment row lock semantics the
// linking state machine relies on.
type DataStore interface {
	// Get returns a loaded row or ErrNotFound. User rows carry their
	// membership id sets.
	Get(ctx context.Context, class budget.Class, id int64) (budget.Resource, error)

	// Query returns the rows matching pred, ordered, paginated. The
	// authorization predicate is always part of pred; user filters are
	// composed around it by the caller.
	Query(ctx context.Context, class budget.Class, pred Predicate, order []Order, offset, limit int) ([]budget.Resource, error)

	// RoleHolders returns the user ids holding kind on the entity.
	RoleHolders(ctx context.Context, kind RoleKind, entityID int64) ([]int64, error)

	// FindUserByEmail is the login lookup. Returns ErrNotFound when absent.
	FindUserByEmail(ctx context.Context, email string) (*budget.User, error)

	// Apply executes the batch atomically. Unique violations surface as
	// ErrAlreadyExists.
	Apply(ctx context.Context, muts []Mutation) error

	// InTx runs fn in one transaction; Get acquires a row lock for
	// classes the caller intends to mutate.
	InTx(ctx context.Context, fn func(ctx context.Context, tx DataStore) error) error
}
