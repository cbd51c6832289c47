// Package dialect describes how each supported store spells the parts of a
// claim query that differ between engines: bind parameters, identifier
// quoting, the non-blocking row lock and the errors that signal contention.
package dialect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned by Lookup for an unsupported driver name.
var ErrUnknown = errors.New("unknown sql dialect")

// Dialect is implemented once per database engine.
type Dialect interface {
	// Name is the canonical driver name ("mysql", "postgres", "sqlite").
	Name() string

	// Placeholder returns the bind parameter for the n-th argument, 1-based.
	Placeholder(n int) string

	// QuoteIdent quotes a possibly schema-qualified identifier.
	QuoteIdent(name string) string

	// LockClause is appended to a claim query so that rows held by other
	// transactions are skipped instead of waited on. Engines that lock the
	// whole database at BEGIN return an empty string.
	LockClause() string

	// IsLockContention reports whether err means another transaction owns
	// the lock the caller asked for and the caller should move on.
	IsLockContention(err error) bool
}

// Lookup returns the dialect registered for a driver name or alias.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Rebind rewrites a query written with '?' bind parameters into d's
// placeholder style. Question marks inside quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteParts(name string, q string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}
