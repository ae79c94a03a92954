package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/controlroom/internal/database"
	"github.com/goatkit/controlroom/internal/models"
)

// SessionLogRepository stores and lists audit entries.
type SessionLogRepository interface {
	Append(ctx context.Context, entry *models.SessionLog) error
	ListBySession(ctx context.Context, sessionID string, types []models.LogType, limit int) ([]*models.SessionLog, error)
}

// SessionLogSQLRepository implements SessionLogRepository on top of sqlx.
type SessionLogSQLRepository struct {
	db *sqlx.DB
}

// NewSessionLogRepository creates a new session log repository.
func NewSessionLogRepository(db *sqlx.DB) *SessionLogSQLRepository {
	return &SessionLogSQLRepository{db: db}
}

// Append inserts a single entry outside any session update.
func (r *SessionLogSQLRepository) Append(ctx context.Context, entry *models.SessionLog) error {
	return insertLogs(ctx, r.db, r.db, []*models.SessionLog{entry})
}

// ListBySession returns the newest entries for a session first. A limit of
// zero or less returns every entry.
func (r *SessionLogSQLRepository) ListBySession(ctx context.Context, sessionID string, types []models.LogType, limit int) ([]*models.SessionLog, error) {
	query := `SELECT id, session_id, log_type, actor, message, extra_data, created_at
		FROM session_logs WHERE session_id = ?`
	args := []any{sessionID}

	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, t)
		}
		query += " AND log_type IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	logs := []*models.SessionLog{}
	if err := r.db.SelectContext(ctx, &logs, database.ConvertPlaceholders(r.db, query), args...); err != nil {
		return nil, fmt.Errorf("failed to list session logs: %w", err)
	}
	return logs, nil
}

func insertLogs(ctx context.Context, db *sqlx.DB, exec sqlx.ExecerContext, entries []*models.SessionLog) error {
	if len(entries) == 0 {
		return nil
	}
	query := database.ConvertPlaceholders(db, `
		INSERT INTO session_logs (session_id, log_type, actor, message, extra_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for _, e := range entries {
		if _, err := exec.ExecContext(ctx, query, e.SessionID, e.LogType, e.Actor, e.Message, e.ExtraData, e.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert session log: %w", err)
		}
	}
	return nil
}
