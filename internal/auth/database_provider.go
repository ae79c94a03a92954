package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user account is disabled")
)

// DatabaseAuthProvider checks staff credentials against the staff table.
type DatabaseAuthProvider struct {
	users repository.StaffRepository
}

// NewDatabaseAuthProvider creates a new database authentication provider.
func NewDatabaseAuthProvider(users repository.StaffRepository) *DatabaseAuthProvider {
	return &DatabaseAuthProvider{users: users}
}

// Authenticate returns the user when username and password match an active
// account. Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (p *DatabaseAuthProvider) Authenticate(ctx context.Context, username, password string) (*models.StaffUser, error) {
	user, err := p.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn comparable time so unknown usernames are not distinguishable.
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		return nil, ErrUserDisabled
	}
	return user, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("controlroom-dummy"), bcrypt.DefaultCost)
	})
	return dummy
}
