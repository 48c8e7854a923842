package pg

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type join struct {
	table string
	alias string
	on    string
}

// compiler translates the store predicate algebra into one SELECT. Dotted
// columns become LEFT JOINs derived from the class manifest's parent refs;
// each join path is registered once per statement.
type compiler struct {
	man   budget.Manifest
	joins []join
	seen  map[string]struct{}
}

func newCompiler(class budget.Class) (*compiler, error) {
	man, ok := budget.ManifestFor(class)
	if !ok {
		return nil, fmt.Errorf("unknown class %q", class)
	}
	return &compiler{man: man, seen: make(map[string]struct{})}, nil
}

// column qualifies col against the base table, walking parent refs for every
// dotted segment and registering the joins they need.
func (c *compiler) column(col string) (string, error) {
	segments := strings.Split(col, ".")
	if len(segments) == 1 {
		if !c.man.HasScalar(col) {
			return "", fmt.Errorf("class %s has no column %q", c.man.Class, col)
		}
		return c.man.Table + "." + col, nil
	}

	man := c.man
	table := c.man.Table
	alias := ""
	for _, seg := range segments[:len(segments)-1] {
		ref, ok := man.Parents[seg]
		if !ok {
			return "", fmt.Errorf("class %s has no parent %q", man.Class, seg)
		}
		parent, ok := budget.ManifestFor(ref.Class)
		if !ok {
			return "", fmt.Errorf("unknown class %q", ref.Class)
		}
		next := seg
		if alias != "" {
			next = alias + "_" + seg
		}
		if _, dup := c.seen[next]; !dup {
			c.seen[next] = struct{}{}
			c.joins = append(c.joins, join{
				table: parent.Table,
				alias: next,
				on:    fmt.Sprintf("%s.%s = %s.id", table, ref.FKCol, next),
			})
		}
		man = parent
		table = next
		alias = next
	}

	leaf := segments[len(segments)-1]
	if !man.HasScalar(leaf) {
		return "", fmt.Errorf("class %s has no column %q", man.Class, leaf)
	}
	return table + "." + leaf, nil
}

func (c *compiler) sqlizer(p store.Predicate) (sq.Sqlizer, error) {
	switch v := p.(type) {
	case store.All:
		return sq.Expr("TRUE"), nil
	case store.None:
		return sq.Expr("FALSE"), nil
	case store.Eq:
		col, err := c.column(v.Col)
		if err != nil {
			return nil, err
		}
		// A nil value compiles to IS NULL, which is how absent links and
		// broken join paths are expressed.
		return sq.Eq{col: v.Value}, nil
	case store.In:
		if len(v.IDs) == 0 {
			return sq.Expr("FALSE"), nil
		}
		col, err := c.column(v.Col)
		if err != nil {
			return nil, err
		}
		return sq.Eq{col: v.IDs}, nil
	case store.And:
		if len(v) == 0 {
			return sq.Expr("TRUE"), nil
		}
		parts := make(sq.And, 0, len(v))
		for _, sub := range v {
			s, err := c.sqlizer(sub)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		return parts, nil
	case store.Or:
		if len(v) == 0 {
			return sq.Expr("FALSE"), nil
		}
		parts := make(sq.Or, 0, len(v))
		for _, sub := range v {
			s, err := c.sqlizer(sub)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		return parts, nil
	case store.Not:
		inner, err := c.sqlizer(v.P)
		if err != nil {
			return nil, err
		}
		sqlStr, args, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ("+sqlStr+")", args...), nil
	default:
		return nil, fmt.Errorf("unknown predicate %T", p)
	}
}

// selectQuery compiles one authorized collection read. The joins introduced by
// dotted predicate columns can fan out rows, hence SELECT DISTINCT.
func selectQuery(class budget.Class, pred store.Predicate, order []store.Order, offset, limit int) (string, []any, error) {
	c, err := newCompiler(class)
	if err != nil {
		return "", nil, err
	}
	where, err := c.sqlizer(pred)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, len(columnsFor(class)))
	for i, col := range columnsFor(class) {
		cols[i] = c.man.Table + "." + col
	}
	b := psql.Select(cols...).Distinct().From(c.man.Table)
	for _, j := range c.joins {
		b = b.LeftJoin(fmt.Sprintf("%s AS %s ON %s", j.table, j.alias, j.on))
	}
	b = b.Where(where)
	for _, o := range order {
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		b = b.OrderBy(c.man.Table + "." + o.Col + dir)
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return b.ToSql()
}
