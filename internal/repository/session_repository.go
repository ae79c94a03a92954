package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/controlroom/internal/database"
	"github.com/goatkit/controlroom/internal/models"
)

// SessionRepository persists verification sessions. Writes that change a
// session carry the audit entries describing the change so both commit in
// one transaction.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session, entries ...*models.SessionLog) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByCaseID(ctx context.Context, caseID string) (*models.Session, error)
	CaseIDExists(ctx context.Context, caseID string) (bool, error)
	List(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error)
	ListIdle(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
	// Update stores s if the row still has version expected, then sets
	// s.Version to the new value.
	Update(ctx context.Context, s *models.Session, expected int64, entries ...*models.SessionLog) error
	Delete(ctx context.Context, id string) error
}

const sessionColumns = `id, case_id, agent_id, stage, status, user_online, user_name, user_email,
	notes, user_data, version, last_activity_at, created_at, updated_at`

// SessionSQLRepository implements SessionRepository on top of sqlx.
type SessionSQLRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) *SessionSQLRepository {
	return &SessionSQLRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionSQLRepository) Create(ctx context.Context, s *models.Session, entries ...*models.SessionLog) (err error) {
	if s.ID == "" || s.CaseID == "" {
		return errors.New("session id and case id are required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := database.ConvertPlaceholders(r.db, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	if _, err = tx.ExecContext(ctx, query,
		s.ID, s.CaseID, s.AgentID, s.Stage, s.Status, s.UserOnline, s.UserName, s.UserEmail,
		s.Notes, s.UserData, s.Version, s.LastActivityAt, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCaseID
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err = insertLogs(ctx, r.db, tx, entries); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its id.
func (r *SessionSQLRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return r.getOne(ctx, "id", id)
}

// GetByCaseID retrieves a session by its case id.
func (r *SessionSQLRepository) GetByCaseID(ctx context.Context, caseID string) (*models.Session, error) {
	return r.getOne(ctx, "case_id", caseID)
}

func (r *SessionSQLRepository) getOne(ctx context.Context, column, value string) (*models.Session, error) {
	query := database.ConvertPlaceholders(r.db,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = ?`)

	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

// CaseIDExists reports whether a session already uses caseID.
func (r *SessionSQLRepository) CaseIDExists(ctx context.Context, caseID string) (bool, error) {
	query := database.ConvertPlaceholders(r.db, `SELECT COUNT(*) FROM sessions WHERE case_id = ?`)
	var n int
	if err := r.db.GetContext(ctx, &n, query, caseID); err != nil {
		return false, fmt.Errorf("failed to check case id: %w", err)
	}
	return n > 0, nil
}

// List returns sessions matching filter, newest first.
func (r *SessionSQLRepository) List(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	sessions := []*models.Session{}
	if err := r.db.SelectContext(ctx, &sessions, database.ConvertPlaceholders(r.db, query), args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ListIdle returns active sessions with no activity since cutoff. Sessions
// the user never touched are judged by updated_at.
func (r *SessionSQLRepository) ListIdle(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	query := database.ConvertPlaceholders(r.db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND COALESCE(last_activity_at, updated_at) < ?
		ORDER BY updated_at`)

	sessions := []*models.Session{}
	if err := r.db.SelectContext(ctx, &sessions, query, models.StatusActive, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return sessions, nil
}

// Update writes s guarded by its version.
func (r *SessionSQLRepository) Update(ctx context.Context, s *models.Session, expected int64, entries ...*models.SessionLog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := database.ConvertPlaceholders(r.db, `
		UPDATE sessions
		SET stage = ?, status = ?, user_online = ?, user_name = ?, user_email = ?,
			notes = ?, user_data = ?, version = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`)

	res, err := tx.ExecContext(ctx, query,
		s.Stage, s.Status, s.UserOnline, s.UserName, s.UserEmail,
		s.Notes, s.UserData, expected+1, s.LastActivityAt, s.UpdatedAt,
		s.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = ErrVersionConflict
		return err
	}

	if err = insertLogs(ctx, r.db, tx, entries); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.Version = expected + 1
	return nil
}

// Delete removes a session and, through the foreign key, its logs.
func (r *SessionSQLRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// sqlite only honours ON DELETE CASCADE with foreign_keys enabled.
	if _, err = tx.ExecContext(ctx, database.ConvertPlaceholders(r.db,
		`DELETE FROM session_logs WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete session logs: %w", err)
	}

	res, err := tx.ExecContext(ctx, database.ConvertPlaceholders(r.db,
		`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = ErrNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
