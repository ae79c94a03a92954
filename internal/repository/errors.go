package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the one the caller read.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateCaseID is returned when a case id is already taken.
	ErrDuplicateCaseID = errors.New("case id already exists")
	// ErrDuplicateUsername is returned when a staff username is already taken.
	ErrDuplicateUsername = errors.New("username already exists")
)

// isUniqueViolation recognises unique-constraint failures from each driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	// go-sqlite3 only exposes its error type under cgo.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
