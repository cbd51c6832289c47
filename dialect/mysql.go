package dialect

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockNoWait      = 3572
)

// MySQL targets MySQL 8.0+ and MariaDB 10.6+, both of which understand
// SKIP LOCKED.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) QuoteIdent(name string) string { return quoteParts(name, "`") }

func (MySQL) LockClause() string { return "FOR UPDATE SKIP LOCKED" }

func (MySQL) IsLockContention(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlErrLockWaitTimeout || me.Number == mysqlErrLockNoWait
}
