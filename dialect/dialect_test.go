package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mysql", "mysql"},
		{"MariaDB", "mysql"},
		{"postgres", "postgres"},
		{"pgx", "postgres"},
		{" sqlite3 ", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := Lookup(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}

	_, err := Lookup("oracle")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, note = 'why?' WHERE id = ?"

	assert.Equal(t, q, Rebind(MySQL{}, q))
	assert.Equal(t, q, Rebind(SQLite{}, q))
	assert.Equal(t, "UPDATE t SET a = $1, note = 'why?' WHERE id = $2", Rebind(Postgres{}, q))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`card`.`jobs`", MySQL{}.QuoteIdent("card.jobs"))
	assert.Equal(t, "`we``ird`", MySQL{}.QuoteIdent("we`ird"))
	assert.Equal(t, `"public"."jobs"`, Postgres{}.QuoteIdent("public.jobs"))
	assert.Equal(t, `"jobs"`, SQLite{}.QuoteIdent("jobs"))
}

func TestIsLockContention(t *testing.T) {
	assert.True(t, MySQL{}.IsLockContention(fmt.Errorf("claim: %w", &mysql.MySQLError{Number: 3572})))
	assert.True(t, MySQL{}.IsLockContention(&mysql.MySQLError{Number: 1205}))
	assert.False(t, MySQL{}.IsLockContention(&mysql.MySQLError{Number: 1062}))
	assert.False(t, MySQL{}.IsLockContention(errors.New("boom")))

	assert.True(t, Postgres{}.IsLockContention(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, Postgres{}.IsLockContention(&pgconn.PgError{Code: "23505"}))

	assert.True(t, SQLite{}.IsLockContention(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, SQLite{}.IsLockContention(nil))
	assert.False(t, SQLite{}.IsLockContention(errors.New("no such table: jobs")))
}
