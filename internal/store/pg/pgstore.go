package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

// Store implements store.DataStore on Postgres through the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

var _ store.DataStore = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle; used by tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Get(ctx context.Context, class budget.Class, id int64) (budget.Resource, error) {
	return getRow(ctx, s.db, class, id, false)
}

func (s *Store) Query(ctx context.Context, class budget.Class, pred store.Predicate, order []store.Order, offset, limit int) ([]budget.Resource, error) {
	return queryRows(ctx, s.db, class, pred, order, offset, limit)
}

func (s *Store) RoleHolders(ctx context.Context, kind store.RoleKind, entityID int64) ([]int64, error) {
	return roleHolders(ctx, s.db, kind, entityID)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*budget.User, error) {
	return findUserByEmail(ctx, s.db, email)
}

func (s *Store) Apply(ctx context.Context, muts []store.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := applyAll(ctx, tx, muts); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.DataStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(ctx, &txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the transactional view handed to InTx callbacks. Its Get takes a
// row lock so the linking state machine reads a stable payment.
type txStore struct {
	tx *sql.Tx
}

var _ store.DataStore = (*txStore)(nil)

func (t *txStore) Get(ctx context.Context, class budget.Class, id int64) (budget.Resource, error) {
	return getRow(ctx, t.tx, class, id, true)
}

func (t *txStore) Query(ctx context.Context, class budget.Class, pred store.Predicate, order []store.Order, offset, limit int) ([]budget.Resource, error) {
	return queryRows(ctx, t.tx, class, pred, order, offset, limit)
}

func (t *txStore) RoleHolders(ctx context.Context, kind store.RoleKind, entityID int64) ([]int64, error) {
	return roleHolders(ctx, t.tx, kind, entityID)
}

func (t *txStore) FindUserByEmail(ctx context.Context, email string) (*budget.User, error) {
	return findUserByEmail(ctx, t.tx, email)
}

func (t *txStore) Apply(ctx context.Context, muts []store.Mutation) error {
	return applyAll(ctx, t.tx, muts)
}

// InTx on a transactional view joins the enclosing transaction.
func (t *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.DataStore) error) error {
	return fn(ctx, t)
}

// --- reads ---

// columnsFor is the scan column list per class. Order matters: the scan
// functions below consume the columns positionally.
func columnsFor(class budget.Class) []string {
	switch class {
	case budget.ClassUser:
		return []string{"id", "email", "password_hash", "first_name", "last_name", "biography", "role", "is_superuser", "hidden", "profile_picture", "created_at"}
	case budget.ClassFunder:
		return []string{"id", "name", "url"}
	case budget.ClassRegulation:
		return []string{"id", "funder_id", "name", "description"}
	case budget.ClassGrant:
		return []string{"id", "regulation_id", "name", "budget"}
	case budget.ClassInitiative:
		return []string{"id", "grant_id", "name", "description", "purpose", "target_audience", "hidden", "budget", "profile_picture", "finished_description"}
	case budget.ClassActivity:
		return []string{"id", "initiative_id", "name", "description", "purpose", "target_audience", "hidden", "finished", "finished_description", "budget", "profile_picture"}
	case budget.ClassBankAccount:
		return []string{"id", "iban", "name", "api_account_id", "linked_at", "requisition_ids"}
	case budget.ClassPayment:
		return []string{"id", "transaction_id", "type", "amount", "booking_date", "counterparty_name", "counterparty_account", "hidden", "short_user_description", "long_user_description", "bank_account_id", "initiative_id", "activity_id"}
	case budget.ClassAttachment:
		return []string{"id", "kind", "entity_class", "entity_id", "path"}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(class budget.Class, row rowScanner) (budget.Resource, error) {
	switch class {
	case budget.ClassUser:
		u := &budget.User{}
		err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Biography, &u.Role, &u.IsSuperuser, &u.Hidden, &u.ProfilePicture, &u.CreatedAt)
		return u, err
	case budget.ClassFunder:
		f := &budget.Funder{}
		err := row.Scan(&f.ID, &f.Name, &f.URL)
		return f, err
	case budget.ClassRegulation:
		r := &budget.Regulation{}
		err := row.Scan(&r.ID, &r.FunderID, &r.Name, &r.Description)
		return r, err
	case budget.ClassGrant:
		g := &budget.Grant{}
		err := row.Scan(&g.ID, &g.RegulationID, &g.Name, &g.Budget)
		return g, err
	case budget.ClassInitiative:
		i := &budget.Initiative{}
		err := row.Scan(&i.ID, &i.GrantID, &i.Name, &i.Description, &i.Purpose, &i.TargetAudience, &i.Hidden, &i.Budget, &i.ProfilePicture, &i.FinishedDescription)
		return i, err
	case budget.ClassActivity:
		a := &budget.Activity{}
		err := row.Scan(&a.ID, &a.InitiativeID, &a.Name, &a.Description, &a.Purpose, &a.TargetAudience, &a.Hidden, &a.Finished, &a.FinishedDescription, &a.Budget, &a.ProfilePicture)
		return a, err
	case budget.ClassBankAccount:
		b := &budget.BankAccount{}
		var requisitions []byte
		err := row.Scan(&b.ID, &b.IBAN, &b.Name, &b.APIAccountID, &b.LinkedAt, &requisitions)
		if err == nil && len(requisitions) > 0 {
			err = json.Unmarshal(requisitions, &b.RequisitionIDs)
		}
		return b, err
	case budget.ClassPayment:
		p := &budget.Payment{}
		var bankAccountID, initiativeID, activityID sql.NullInt64
		err := row.Scan(&p.ID, &p.TransactionID, &p.Type, &p.Amount, &p.BookingDate, &p.CounterpartyName, &p.CounterpartyAccount, &p.Hidden, &p.ShortUserDescription, &p.LongUserDescription, &bankAccountID, &initiativeID, &activityID)
		if bankAccountID.Valid {
			p.BankAccountID = &bankAccountID.Int64
		}
		if initiativeID.Valid {
			p.InitiativeID = &initiativeID.Int64
		}
		if activityID.Valid {
			p.ActivityID = &activityID.Int64
		}
		return p, err
	case budget.ClassAttachment:
		a := &budget.Attachment{}
		var entityClass string
		err := row.Scan(&a.ID, &a.Kind, &entityClass, &a.EntityID, &a.Path)
		a.EntityClass = budget.Class(entityClass)
		return a, err
	}
	return nil, fmt.Errorf("unknown class %q", class)
}

func getRow(ctx context.Context, q querier, class budget.Class, id int64, forUpdate bool) (budget.Resource, error) {
	man, ok := budget.ManifestFor(class)
	if !ok {
		return nil, fmt.Errorf("unknown class %q", class)
	}
	b := psql.Select(columnsFor(class)...).From(man.Table).Where(sq.Eq{"id": id})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	res, err := scanResource(class, q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u, ok := res.(*budget.User); ok {
		if err := loadMemberships(ctx, q, u); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func queryRows(ctx context.Context, q querier, class budget.Class, pred store.Predicate, order []store.Order, offset, limit int) ([]budget.Resource, error) {
	query, args, err := selectQuery(class, pred, order, offset, limit)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []budget.Resource
	for rows.Next() {
		res, err := scanResource(class, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func findUserByEmail(ctx context.Context, q querier, email string) (*budget.User, error) {
	man := budget.Manifests[budget.ClassUser]
	query, args, err := psql.Select(columnsFor(budget.ClassUser)...).From(man.Table).Where(sq.Eq{"email": email}).ToSql()
	if err != nil {
		return nil, err
	}
	res, err := scanResource(budget.ClassUser, q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u := res.(*budget.User)
	if err := loadMemberships(ctx, q, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- role tables ---

var roleTables = map[store.RoleKind]struct {
	table     string
	entityCol string
}{
	store.RoleInitiativeOwner:  {"initiative_owners", "initiative_id"},
	store.RoleActivityOwner:    {"activity_owners", "activity_id"},
	store.RoleGrantOverseer:    {"grant_overseers", "grant_id"},
	store.RoleGrantOfficer:     {"regulation_grant_officers", "regulation_id"},
	store.RolePolicyOfficer:    {"regulation_policy_officers", "regulation_id"},
	store.RoleBankAccountUser:  {"bank_account_users", "bank_account_id"},
	store.RoleBankAccountOwner: {"bank_account_owners", "bank_account_id"},
}

func roleHolders(ctx context.Context, q querier, kind store.RoleKind, entityID int64) ([]int64, error) {
	rt, ok := roleTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown role kind %q", kind)
	}
	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE %s = $1 ORDER BY user_id`, rt.table, rt.entityCol)
	rows, err := q.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadMemberships eager-loads the user's id sets from every role table.
func loadMemberships(ctx context.Context, q querier, u *budget.User) error {
	load := func(kind store.RoleKind, dst *[]int64) error {
		rt := roleTables[kind]
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY %s`, rt.entityCol, rt.table, rt.entityCol)
		rows, err := q.QueryContext(ctx, query, u.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			*dst = append(*dst, id)
		}
		return rows.Err()
	}

	for _, m := range []struct {
		kind store.RoleKind
		dst  *[]int64
	}{
		{store.RoleInitiativeOwner, &u.InitiativeIDs},
		{store.RoleActivityOwner, &u.ActivityIDs},
		{store.RoleGrantOverseer, &u.OverseerGrantIDs},
		{store.RoleGrantOfficer, &u.GrantOfficerRegulationIDs},
		{store.RolePolicyOfficer, &u.PolicyOfficerRegulationIDs},
		{store.RoleBankAccountUser, &u.BankAccountUserIDs},
		{store.RoleBankAccountOwner, &u.BankAccountOwnerIDs},
	} {
		if err := load(m.kind, m.dst); err != nil {
			return err
		}
	}
	return nil
}

// --- writes ---

func applyAll(ctx context.Context, q querier, muts []store.Mutation) error {
	for _, m := range muts {
		if err := applyOne(ctx, q, m); err != nil {
			if isUniqueViolation(err) {
				return store.ErrAlreadyExists
			}
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, q querier, m store.Mutation) error {
	switch v := m.(type) {
	case store.Insert:
		man, ok := budget.ManifestFor(v.Class)
		if !ok {
			return fmt.Errorf("unknown class %q", v.Class)
		}
		query, args, err := psql.Insert(man.Table).SetMap(normalizeValues(v.Fields)).ToSql()
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, query, args...)
		return err
	case store.Update:
		man, ok := budget.ManifestFor(v.Class)
		if !ok {
			return fmt.Errorf("unknown class %q", v.Class)
		}
		query, args, err := psql.Update(man.Table).SetMap(normalizeValues(v.Changes)).Where(sq.Eq{"id": v.ID}).ToSql()
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return requireRow(res)
	case store.Delete:
		man, ok := budget.ManifestFor(v.Class)
		if !ok {
			return fmt.Errorf("unknown class %q", v.Class)
		}
		res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, man.Table), v.ID)
		if err != nil {
			return err
		}
		return requireRow(res)
	case store.AddRole:
		rt, ok := roleTables[v.Kind]
		if !ok {
			return fmt.Errorf("unknown role kind %q", v.Kind)
		}
		query := fmt.Sprintf(`INSERT INTO %s (%s, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, rt.table, rt.entityCol)
		_, err := q.ExecContext(ctx, query, v.EntityID, v.UserID)
		return err
	case store.RemoveRole:
		rt, ok := roleTables[v.Kind]
		if !ok {
			return fmt.Errorf("unknown role kind %q", v.Kind)
		}
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2`, rt.table, rt.entityCol)
		_, err := q.ExecContext(ctx, query, v.EntityID, v.UserID)
		return err
	default:
		return fmt.Errorf("unknown mutation %T", m)
	}
}

// normalizeValues maps Go values the driver cannot encode onto their column
// representation (string slices live in jsonb columns).
func normalizeValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case []string:
			data, _ := json.Marshal(t)
			out[k] = data
		case budget.Class:
			out[k] = string(t)
		default:
			out[k] = v
		}
	}
	return out
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
