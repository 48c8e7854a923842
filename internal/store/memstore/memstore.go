// Package memstore implements store.DataStore in process memory. It backs
// the core's tests and local development without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

type roleKey struct {
	kind     store.RoleKind
	entityID int64
	userID   int64
}

// Mem holds rows per class plus the membership rows of the per-entity role
// tables. All methods are safe for concurrent use.
type Mem struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	rows  map[budget.Class]map[int64]budget.Resource
	roles map[roleKey]struct{}
	next  int64
}

var _ store.DataStore = (*Mem)(nil)

func New() *Mem {
	return &Mem{
		rows:  make(map[budget.Class]map[int64]budget.Resource),
		roles: make(map[roleKey]struct{}),
		next:  1000,
	}
}

// Seed inserts rows verbatim, keeping their ids.
func (m *Mem) Seed(resources ...budget.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range resources {
		m.put(r)
	}
}

// SeedRole records a membership row.
func (m *Mem) SeedRole(kind store.RoleKind, entityID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[roleKey{kind, entityID, userID}] = struct{}{}
}

func (m *Mem) put(r budget.Resource) {
	class := r.ResourceClass()
	if m.rows[class] == nil {
		m.rows[class] = make(map[int64]budget.Resource)
	}
	m.rows[class][r.ResourceID()] = r
}

func (m *Mem) Get(ctx context.Context, class budget.Class, id int64) (budget.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(class, id)
}

func (m *Mem) get(class budget.Class, id int64) (budget.Resource, error) {
	r, ok := m.rows[class][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if u, ok := r.(*budget.User); ok {
		return m.userWithMemberships(u), nil
	}
	return r, nil
}

// userWithMemberships copies the row and attaches its role table ids.
func (m *Mem) userWithMemberships(u *budget.User) *budget.User {
	out := *u
	out.InitiativeIDs = m.entityIDs(store.RoleInitiativeOwner, u.ID)
	out.ActivityIDs = m.entityIDs(store.RoleActivityOwner, u.ID)
	out.OverseerGrantIDs = m.entityIDs(store.RoleGrantOverseer, u.ID)
	out.GrantOfficerRegulationIDs = m.entityIDs(store.RoleGrantOfficer, u.ID)
	out.PolicyOfficerRegulationIDs = m.entityIDs(store.RolePolicyOfficer, u.ID)
	out.BankAccountUserIDs = m.entityIDs(store.RoleBankAccountUser, u.ID)
	out.BankAccountOwnerIDs = m.entityIDs(store.RoleBankAccountOwner, u.ID)
	return &out
}

func (m *Mem) entityIDs(kind store.RoleKind, userID int64) []int64 {
	var ids []int64
	for k := range m.roles {
		if k.kind == kind && k.userID == userID {
			ids = append(ids, k.entityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Mem) Query(ctx context.Context, class budget.Class, pred store.Predicate, order []store.Order, offset, limit int) ([]budget.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []budget.Resource
	for _, r := range m.rows[class] {
		ok, err := m.matches(r, pred)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, r)
		}
	}
	if len(order) == 0 {
		order = store.DefaultOrder(class)
	}
	sortRows(matched, order)
	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Mem) RoleHolders(ctx context.Context, kind store.RoleKind, entityID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for k := range m.roles {
		if k.kind == kind && k.entityID == entityID {
			ids = append(ids, k.userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Mem) FindUserByEmail(ctx context.Context, email string) (*budget.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, r := range m.rows[budget.ClassUser] {
		u := r.(*budget.User)
		if strings.ToLower(u.Email) == email {
			return m.userWithMemberships(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Mem) Apply(ctx context.Context, muts []store.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching state so a failing batch
	// leaves no partial effect.
	for _, mut := range muts {
		if err := m.check(mut); err != nil {
			return err
		}
	}
	for _, mut := range muts {
		m.apply(mut)
	}
	return nil
}

func (m *Mem) check(mut store.Mutation) error {
	switch v := mut.(type) {
	case store.Insert:
		return m.checkUnique(v.Class, 0, v.Fields)
	case store.Update:
		if _, ok := m.rows[v.Class][v.ID]; !ok {
			return store.ErrNotFound
		}
		return m.checkUnique(v.Class, v.ID, v.Changes)
	case store.Delete:
		if _, ok := m.rows[v.Class][v.ID]; !ok {
			return store.ErrNotFound
		}
	}
	return nil
}

// checkUnique enforces the unique indexes the schema declares:
// payments.transaction_id and (activities.name, initiative_id).
func (m *Mem) checkUnique(class budget.Class, selfID int64, changes map[string]any) error {
	switch class {
	case budget.ClassPayment:
		tid, ok := changes["transaction_id"].(string)
		if !ok || tid == "" {
			return nil
		}
		for id, r := range m.rows[class] {
			if id != selfID && r.(*budget.Payment).TransactionID == tid {
				return store.ErrAlreadyExists
			}
		}
	case budget.ClassActivity:
		name, ok := changes["name"].(string)
		if !ok {
			return nil
		}
		initiativeID, _ := changes["initiative_id"].(int64)
		if initiativeID == 0 && selfID != 0 {
			if cur, ok := m.rows[class][selfID]; ok {
				initiativeID = cur.(*budget.Activity).InitiativeID
			}
		}
		for id, r := range m.rows[class] {
			a := r.(*budget.Activity)
			if id != selfID && a.Name == name && a.InitiativeID == initiativeID {
				return store.ErrAlreadyExists
			}
		}
	}
	return nil
}

func (m *Mem) apply(mut store.Mutation) {
	switch v := mut.(type) {
	case store.Insert:
		id, _ := v.Fields["id"].(int64)
		if id == 0 {
			m.next++
			id = m.next
		}
		m.put(buildRow(v.Class, id, v.Fields))
	case store.Update:
		if cur, ok := m.rows[v.Class][v.ID]; ok {
			fields := cur.Fields()
			for k, val := range v.Changes {
				fields[k] = val
			}
			m.put(buildRow(v.Class, v.ID, fields))
		}
	case store.Delete:
		delete(m.rows[v.Class], v.ID)
		m.cascade(v.Class, v.ID)
	case store.AddRole:
		m.roles[roleKey{v.Kind, v.EntityID, v.UserID}] = struct{}{}
	case store.RemoveRole:
		delete(m.roles, roleKey{v.Kind, v.EntityID, v.UserID})
	}
}

// cascade mirrors the schema's ON DELETE CASCADE: initiatives take their
// activities with them; activities detach from payments.
func (m *Mem) cascade(class budget.Class, id int64) {
	switch class {
	case budget.ClassInitiative:
		for aid, r := range m.rows[budget.ClassActivity] {
			if r.(*budget.Activity).InitiativeID == id {
				delete(m.rows[budget.ClassActivity], aid)
				m.cascade(budget.ClassActivity, aid)
			}
		}
		for _, r := range m.rows[budget.ClassPayment] {
			p := r.(*budget.Payment)
			if p.InitiativeID != nil && *p.InitiativeID == id {
				p.InitiativeID = nil
				p.ActivityID = nil
			}
		}
	case budget.ClassActivity:
		for _, r := range m.rows[budget.ClassPayment] {
			p := r.(*budget.Payment)
			if p.ActivityID != nil && *p.ActivityID == id {
				p.ActivityID = nil
			}
		}
	}
}

// InTx serializes transactional sections. Memory has no rollback; Apply
// batches stay all-or-nothing, which is what the core relies on.
func (m *Mem) InTx(ctx context.Context, fn func(ctx context.Context, tx store.DataStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, m)
}

// matches evaluates the predicate against a row, resolving dotted parent
// paths through the class manifests.
func (m *Mem) matches(r budget.Resource, pred store.Predicate) (bool, error) {
	switch p := pred.(type) {
	case nil:
		return true, nil
	case store.All:
		return true, nil
	case store.None:
		return false, nil
	case store.Eq:
		v, ok := m.resolve(r, p.Col)
		if p.Value == nil {
			// Eq against nil asks "is the column (or join) absent".
			return !ok, nil
		}
		if !ok {
			return false, nil
		}
		return equal(v, p.Value), nil
	case store.In:
		v, ok := m.resolve(r, p.Col)
		if !ok {
			return false, nil
		}
		id, ok := asID(v)
		if !ok {
			return false, nil
		}
		for _, want := range p.IDs {
			if id == want {
				return true, nil
			}
		}
		return false, nil
	case store.And:
		for _, part := range p {
			ok, err := m.matches(r, part)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case store.Or:
		for _, part := range p {
			ok, err := m.matches(r, part)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case store.Not:
		ok, err := m.matches(r, p.P)
		return !ok, err
	default:
		return false, fmt.Errorf("memstore: unknown predicate %T", pred)
	}
}

// resolve walks "rel.rel.col" through parent refs. A nil foreign key along
// the path resolves to no value, matching SQL inner join semantics.
func (m *Mem) resolve(r budget.Resource, col string) (any, bool) {
	parts := strings.Split(col, ".")
	cur := r
	for len(parts) > 1 {
		manifest, ok := budget.ManifestFor(cur.ResourceClass())
		if !ok {
			return nil, false
		}
		ref, ok := manifest.Parents[parts[0]]
		if !ok {
			return nil, false
		}
		fk, ok := asID(cur.Fields()[ref.FKCol])
		if !ok {
			return nil, false
		}
		parent, ok := m.rows[ref.Class][fk]
		if !ok {
			return nil, false
		}
		cur = parent
		parts = parts[1:]
	}
	v, ok := cur.Fields()[parts[0]]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func equal(a, b any) bool {
	if ai, ok := asID(a); ok {
		if bi, ok := asID(b); ok {
			return ai == bi
		}
	}
	return a == b
}

func asID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case *int64:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}

func sortRows(rows []budget.Resource, order []store.Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		fi, fj := rows[i].Fields(), rows[j].Fields()
		for _, o := range order {
			vi, vj := fi[o.Col], fj[o.Col]
			c := compare(vi, vj)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		tb, _ := b.(time.Time)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	}
	ai, aok := asID(a)
	bi, bok := asID(b)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

// buildRow reconstructs a typed row from a column map.
func buildRow(class budget.Class, id int64, f map[string]any) budget.Resource {
	switch class {
	case budget.ClassUser:
		return &budget.User{
			ID:             id,
			Email:          str(f["email"]),
			PasswordHash:   str(f["password_hash"]),
			FirstName:      str(f["first_name"]),
			LastName:       str(f["last_name"]),
			Biography:      str(f["biography"]),
			Role:           str(f["role"]),
			IsSuperuser:    boolean(f["is_superuser"]),
			Hidden:         boolean(f["hidden"]),
			ProfilePicture: str(f["profile_picture"]),
		}
	case budget.ClassFunder:
		return &budget.Funder{ID: id, Name: str(f["name"]), URL: str(f["url"])}
	case budget.ClassRegulation:
		return &budget.Regulation{ID: id, FunderID: id64(f["funder_id"]), Name: str(f["name"]), Description: str(f["description"])}
	case budget.ClassGrant:
		return &budget.Grant{ID: id, RegulationID: id64(f["regulation_id"]), Name: str(f["name"]), Budget: id64(f["budget"])}
	case budget.ClassInitiative:
		return &budget.Initiative{
			ID:                  id,
			GrantID:             id64(f["grant_id"]),
			Name:                str(f["name"]),
			Description:         str(f["description"]),
			Purpose:             str(f["purpose"]),
			TargetAudience:      str(f["target_audience"]),
			Hidden:              boolean(f["hidden"]),
			Budget:              id64(f["budget"]),
			ProfilePicture:      str(f["profile_picture"]),
			FinishedDescription: str(f["finished_description"]),
		}
	case budget.ClassActivity:
		return &budget.Activity{
			ID:                  id,
			InitiativeID:        id64(f["initiative_id"]),
			Name:                str(f["name"]),
			Description:         str(f["description"]),
			Purpose:             str(f["purpose"]),
			TargetAudience:      str(f["target_audience"]),
			Hidden:              boolean(f["hidden"]),
			Finished:            boolean(f["finished"]),
			FinishedDescription: str(f["finished_description"]),
			Budget:              id64(f["budget"]),
			ProfilePicture:      str(f["profile_picture"]),
		}
	case budget.ClassBankAccount:
		b := &budget.BankAccount{
			ID:           id,
			IBAN:         str(f["iban"]),
			Name:         str(f["name"]),
			APIAccountID: str(f["api_account_id"]),
		}
		if t, ok := f["linked_at"].(time.Time); ok {
			b.LinkedAt = t
		}
		if ids, ok := f["requisition_ids"].([]string); ok {
			b.RequisitionIDs = ids
		}
		return b
	case budget.ClassPayment:
		p := &budget.Payment{
			ID:                   id,
			TransactionID:        str(f["transaction_id"]),
			Type:                 str(f["type"]),
			Amount:               id64(f["amount"]),
			CounterpartyName:     str(f["counterparty_name"]),
			CounterpartyAccount:  str(f["counterparty_account"]),
			Hidden:               boolean(f["hidden"]),
			ShortUserDescription: str(f["short_user_description"]),
			LongUserDescription:  str(f["long_user_description"]),
		}
		if t, ok := f["booking_date"].(time.Time); ok {
			p.BookingDate = t
		}
		p.BankAccountID = opt(f["bank_account_id"])
		p.InitiativeID = opt(f["initiative_id"])
		p.ActivityID = opt(f["activity_id"])
		return p
	case budget.ClassAttachment:
		return &budget.Attachment{
			ID:          id,
			Kind:        str(f["kind"]),
			EntityClass: budget.Class(str(f["entity_class"])),
			EntityID:    id64(f["entity_id"]),
			Path:        str(f["path"]),
		}
	}
	panic(fmt.Sprintf("memstore: unknown class %q", class))
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func id64(v any) int64 {
	n, _ := asID(v)
	return n
}

func opt(v any) *int64 {
	if n, ok := asID(v); ok {
		return &n
	}
	return nil
}
