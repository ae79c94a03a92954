package database

import (
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders rewrites ? placeholders into the bind style of the
// driver db was opened with. Queries must be written with ? only; a $N
// placeholder panics so driver-specific SQL never slips into a repository.
//
// Example:
//
//	query := database.ConvertPlaceholders(db, "SELECT * FROM sessions WHERE id = ?")
//	err := db.GetContext(ctx, &s, query, id)
func ConvertPlaceholders(db *sqlx.DB, query string) string {
	if dollarPlaceholder.MatchString(query) {
		panic(fmt.Sprintf("ConvertPlaceholders: $N placeholders are not allowed. Use ? placeholders instead.\nQuery: %s", query))
	}
	return db.Rebind(query)
}

// IsMySQL reports whether db talks to MySQL/MariaDB.
func IsMySQL(db *sqlx.DB) bool {
	return db.DriverName() == DriverMySQL
}

// IsPostgreSQL reports whether db talks to PostgreSQL.
func IsPostgreSQL(db *sqlx.DB) bool {
	return db.DriverName() == DriverPostgres
}
