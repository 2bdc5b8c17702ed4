// Package repository defines the MySQL-backed stores for user accounts
// and the refresh token ledger, and the sentinel errors they share.
// Callers distinguish absence and conflicts with errors.Is; every other
// error is an infrastructure failure.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a user with the same email is already
// registered. Handlers should translate this into an HTTP 409 response.
var ErrEmailExists = errors.New("email already exists")

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
