package dialect

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite has no row locks. Connections must be opened with
// _txlock=immediate and a zero busy timeout so that BEGIN takes the write
// lock up front and fails fast with SQLITE_BUSY when another worker holds
// it; that failure is the "row already claimed" signal.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) QuoteIdent(name string) string { return quoteParts(name, `"`) }

func (SQLite) LockClause() string { return "" }

func (SQLite) IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}
