// Package repository stores reservations and billing records in MySQL.
// Repositories share the sentinel errors below so the service layer can
// tell a missing row from a constraint violation without knowing SQL.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
// Handlers end up translating it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique key, e.g. a
// reservation code collision.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate reports MySQL error 1062 (ER_DUP_ENTRY).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
