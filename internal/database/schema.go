package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type columnTypes struct {
	autoID    string
	timestamp string
	boolean   string
	text      string
}

var driverTypes = map[string]columnTypes{
	DriverPostgres: {autoID: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN", text: "TEXT"},
	DriverMySQL:    {autoID: "BIGINT AUTO_INCREMENT PRIMARY KEY", timestamp: "DATETIME(6)", boolean: "TINYINT(1)", text: "LONGTEXT"},
	DriverSQLite:   {autoID: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "DATETIME", boolean: "BOOLEAN", text: "TEXT"},
}

// SchemaStatements returns the CREATE statements for driver.
func SchemaStatements(driver string) ([]string, error) {
	t, ok := driverTypes[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS staff_users (
	id VARCHAR(36) PRIMARY KEY,
	username VARCHAR(150) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	role VARCHAR(20) NOT NULL,
	active %[1]s NOT NULL,
	created_at %[2]s NOT NULL
)`, t.boolean, t.timestamp),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
	id VARCHAR(36) PRIMARY KEY,
	case_id VARCHAR(32) NOT NULL UNIQUE,
	agent_id VARCHAR(36) NOT NULL,
	stage VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	user_online %[1]s NOT NULL,
	user_name VARCHAR(255) NOT NULL,
	user_email VARCHAR(255) NOT NULL,
	notes %[3]s NOT NULL,
	user_data %[3]s NOT NULL,
	version BIGINT NOT NULL,
	last_activity_at %[2]s NULL,
	created_at %[2]s NOT NULL,
	updated_at %[2]s NOT NULL
)`, t.boolean, t.timestamp, t.text),

		`CREATE INDEX idx_sessions_status ON sessions (status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_logs (
	id %[1]s,
	session_id VARCHAR(36) NOT NULL,
	log_type VARCHAR(32) NOT NULL,
	actor VARCHAR(150) NOT NULL,
	message %[3]s NOT NULL,
	extra_data %[3]s NOT NULL,
	created_at %[2]s NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions (id) ON DELETE CASCADE
)`, t.autoID, t.timestamp, t.text),

		`CREATE INDEX idx_session_logs_session ON session_logs (session_id, created_at)`,
	}, nil
}

// Migrate creates the schema if it does not exist. Index creation errors
// caused by an existing index are ignored.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := SchemaStatements(db.DriverName())
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isIndexStatement(stmt) {
				continue
			}
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func isIndexStatement(stmt string) bool {
	return strings.HasPrefix(stmt, "CREATE INDEX")
}
