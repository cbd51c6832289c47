package taskworker

import (
	"errors"
	"slices"
	"strings"

	"github.com/sky93/taskworker/dialect"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Selection is an immutable description of a set of task rows: the table,
// the columns a row scanner reads, the WHERE conditions and the ordering.
// Filter, Exclude and OrderBy return a new Selection and never modify the
// receiver, so a Queue can hand out derived selections freely.
type Selection[T Task] struct {
	table   string
	columns []string
	where   []Cond
	orderBy []string
	scan    func(Scanner) (T, error)
}

// From starts a Selection over table. scan must read exactly the listed
// columns and must return sql.ErrNoRows (wrapped or not) unchanged.
func From[T Task](table string, columns []string, scan func(Scanner) (T, error)) Selection[T] {
	return Selection[T]{
		table:   table,
		columns: slices.Clone(columns),
		scan:    scan,
	}
}

// Table returns the table the selection reads from.
func (s Selection[T]) Table() string { return s.table }

// Filter keeps rows matching all conds.
func (s Selection[T]) Filter(conds ...Cond) Selection[T] {
	s.where = append(slices.Clip(s.where), And(conds...))
	return s
}

// Exclude drops rows matching all conds.
func (s Selection[T]) Exclude(conds ...Cond) Selection[T] {
	s.where = append(slices.Clip(s.where), Not(And(conds...)))
	return s
}

// OrderBy appends sort columns. A leading '-' sorts descending.
func (s Selection[T]) OrderBy(cols ...string) Selection[T] {
	s.orderBy = append(slices.Clip(s.orderBy), cols...)
	return s
}

// SQL renders the selection as a plain SELECT for d.
func (s Selection[T]) SQL(d dialect.Dialect) (string, []any) {
	var b strings.Builder
	args := s.render(&b, d)
	return b.String(), args
}

// claimSQL renders the single-row, lock-and-skip query the worker claims with.
func (s Selection[T]) claimSQL(d dialect.Dialect) (string, []any) {
	var b strings.Builder
	args := s.render(&b, d)
	b.WriteString(" LIMIT 1")
	if lock := d.LockClause(); lock != "" {
		b.WriteString(" ")
		b.WriteString(lock)
	}
	return b.String(), args
}

func (s Selection[T]) render(b *strings.Builder, d dialect.Dialect) []any {
	b.WriteString("SELECT ")
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteIdent(s.table))

	var args []any
	if len(s.where) > 0 {
		b.WriteString(" WHERE ")
		args = And(s.where...).appendTo(b, d, args)
	}

	for i, col := range s.orderBy {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		if name, desc := strings.CutPrefix(col, "-"); desc {
			b.WriteString(d.QuoteIdent(name))
			b.WriteString(" DESC")
		} else {
			b.WriteString(d.QuoteIdent(col))
		}
	}
	return args
}

func (s Selection[T]) validate() error {
	switch {
	case s.table == "":
		return errors.New("selection has no table")
	case len(s.columns) == 0:
		return errors.New("selection has no columns")
	case s.scan == nil:
		return errors.New("selection has no row scanner")
	}
	return nil
}

// Cond is one predicate of a Selection. The set of conditions is closed:
// use the constructors in this package.
type Cond interface {
	appendTo(b *strings.Builder, d dialect.Dialect, args []any) []any
}

type compare struct {
	col string
	op  string
	val any
}

func (c compare) appendTo(b *strings.Builder, d dialect.Dialect, args []any) []any {
	args = append(args, c.val)
	b.WriteString(d.QuoteIdent(c.col))
	b.WriteString(" ")
	b.WriteString(c.op)
	b.WriteString(" ")
	b.WriteString(d.Placeholder(len(args)))
	return args
}

// Eq matches col = v.
func Eq(col string, v any) Cond { return compare{col, "=", v} }

// Ne matches col <> v.
func Ne(col string, v any) Cond { return compare{col, "<>", v} }

// Gt matches col > v.
func Gt(col string, v any) Cond { return compare{col, ">", v} }

// Gte matches col >= v.
func Gte(col string, v any) Cond { return compare{col, ">=", v} }

// Lt matches col < v.
func Lt(col string, v any) Cond { return compare{col, "<", v} }

// Lte matches col <= v.
func Lte(col string, v any) Cond { return compare{col, "<=", v} }

type nullCheck struct {
	col string
	not bool
}

func (n nullCheck) appendTo(b *strings.Builder, d dialect.Dialect, args []any) []any {
	b.WriteString(d.QuoteIdent(n.col))
	if n.not {
		b.WriteString(" IS NOT NULL")
	} else {
		b.WriteString(" IS NULL")
	}
	return args
}

// IsNull matches col IS NULL.
func IsNull(col string) Cond { return nullCheck{col: col} }

// NotNull matches col IS NOT NULL.
func NotNull(col string) Cond { return nullCheck{col: col, not: true} }

type group struct {
	op    string
	conds []Cond
}

func (g group) appendTo(b *strings.Builder, d dialect.Dialect, args []any) []any {
	switch len(g.conds) {
	case 0:
		if g.op == "AND" {
			b.WriteString("1 = 1")
		} else {
			b.WriteString("1 = 0")
		}
		return args
	case 1:
		return g.conds[0].appendTo(b, d, args)
	}
	for i, c := range g.conds {
		if i > 0 {
			b.WriteString(" ")
			b.WriteString(g.op)
			b.WriteString(" ")
		}
		b.WriteString("(")
		args = c.appendTo(b, d, args)
		b.WriteString(")")
	}
	return args
}

// And matches rows satisfying every cond. An empty And matches everything.
func And(conds ...Cond) Cond { return group{"AND", slices.Clone(conds)} }

// Or matches rows satisfying any cond. An empty Or matches nothing.
func Or(conds ...Cond) Cond { return group{"OR", slices.Clone(conds)} }

type negate struct{ c Cond }

func (n negate) appendTo(b *strings.Builder, d dialect.Dialect, args []any) []any {
	b.WriteString("NOT (")
	args = n.c.appendTo(b, d, args)
	b.WriteString(")")
	return args
}

// Not inverts c. Rows where c evaluates to NULL are not matched either, so
// counters used with Exclude should be NOT NULL columns.
func Not(c Cond) Cond { return negate{c} }
