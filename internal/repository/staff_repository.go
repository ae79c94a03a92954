package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/controlroom/internal/database"
	"github.com/goatkit/controlroom/internal/models"
)

// StaffRepository stores control room operators.
type StaffRepository interface {
	Create(ctx context.Context, u *models.StaffUser) error
	GetByID(ctx context.Context, id string) (*models.StaffUser, error)
	GetByUsername(ctx context.Context, username string) (*models.StaffUser, error)
}

// StaffSQLRepository implements StaffRepository on top of sqlx.
type StaffSQLRepository struct {
	db *sqlx.DB
}

// NewStaffRepository creates a new staff repository.
func NewStaffRepository(db *sqlx.DB) *StaffSQLRepository {
	return &StaffSQLRepository{db: db}
}

func (r *StaffSQLRepository) Create(ctx context.Context, u *models.StaffUser) error {
	query := database.ConvertPlaceholders(r.db, `
		INSERT INTO staff_users (id, username, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash, u.Role, u.Active, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to insert staff user: %w", err)
	}
	return nil
}

func (r *StaffSQLRepository) GetByID(ctx context.Context, id string) (*models.StaffUser, error) {
	return r.getOne(ctx, "id", id)
}

func (r *StaffSQLRepository) GetByUsername(ctx context.Context, username string) (*models.StaffUser, error) {
	return r.getOne(ctx, "username", username)
}

func (r *StaffSQLRepository) getOne(ctx context.Context, column, value string) (*models.StaffUser, error) {
	query := database.ConvertPlaceholders(r.db, `
		SELECT id, username, password_hash, role, active, created_at
		FROM staff_users WHERE `+column+` = ?`)

	var u models.StaffUser
	if err := r.db.GetContext(ctx, &u, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query staff user: %w", err)
	}
	return &u, nil
}
