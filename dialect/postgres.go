package dialect

import (
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// lock_not_available
const pgLockNotAvailable = "55P03"

// Postgres targets PostgreSQL 9.5+ through the pgx stdlib driver.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) QuoteIdent(name string) string { return quoteParts(name, `"`) }

func (Postgres) LockClause() string { return "FOR UPDATE SKIP LOCKED" }

func (Postgres) IsLockContention(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == pgLockNotAvailable
}
