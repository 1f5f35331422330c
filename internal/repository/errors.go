// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// the auth service to distinguish between different failure scenarios
// without inspecting driver errors. ErrNotFound replaces sql.ErrNoRows
// at the package boundary, and the duplicate errors are derived from
// unique-key violations reported by either supported driver.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when an insert collides with an
// existing username.
var ErrDuplicateUsername = errors.New("username already exists")

// ErrDuplicateEmail is returned when an insert collides with an
// existing email.
var ErrDuplicateEmail = errors.New("email already exists")

// ErrDuplicateToken is returned when a refresh token string is already
// present in the ledger.
var ErrDuplicateToken = errors.New("refresh token already exists")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// uniqueViolation reports whether err is a unique-key violation and, if so,
// the driver's message, which names the offending key or column.
func uniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return myErr.Message, true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return liteErr.Error(), true
	}
	return "", false
}

// mapUserConflict converts a unique violation on the users table into the
// matching duplicate error.
func mapUserConflict(err error) error {
	msg, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	// MySQL names the key ("... for key 'users.uq_users_email'"), SQLite the
	// column ("UNIQUE constraint failed: users.email").  MySQL messages also
	// echo the duplicate value, so only the quoted key suffix is matched.
	switch {
	case strings.HasSuffix(msg, "uq_users_username'"), strings.HasSuffix(msg, "users.username"):
		return ErrDuplicateUsername
	case strings.HasSuffix(msg, "uq_users_email'"), strings.HasSuffix(msg, "users.email"):
		return ErrDuplicateEmail
	}
	return err
}
