package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
)

// ErrWeakPassword is returned by CreateUser for passwords that are too short.
var ErrWeakPassword = errors.New("password must be at least 8 characters")

const minPasswordLength = 8

// AuthService handles staff login and account creation.
type AuthService struct {
	users     repository.StaffRepository
	provider  *auth.DatabaseAuthProvider
	authority *auth.Authority
}

// NewAuthService creates a new authentication service.
func NewAuthService(users repository.StaffRepository, authority *auth.Authority) *AuthService {
	return &AuthService{
		users:     users,
		provider:  auth.NewDatabaseAuthProvider(users),
		authority: authority,
	}
}

// Login authenticates a staff user and returns a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.StaffUser, *auth.TokenPair, error) {
	user, err := s.provider.Authenticate(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.authority.IssueStaffPair(user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate tokens: %w", err)
	}
	return user, pair, nil
}

// Me loads the active account behind validated claims.
func (s *AuthService) Me(ctx context.Context, claims *auth.Claims) (*models.StaffUser, error) {
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, auth.ErrUserDisabled
	}
	return user, nil
}

// CreateUser stores a new staff account with a bcrypt password hash.
func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (*models.StaffUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	if role == "" {
		role = models.RoleStaff
	}
	if role != models.RoleStaff && role != models.RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.StaffUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
