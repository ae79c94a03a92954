// Package auth issues and validates staff and guest tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/goatkit/controlroom/internal/constants"
	"github.com/goatkit/controlroom/internal/models"
)

// ErrUnauthorized is the only error Validate reports. Callers cannot tell a
// bad signature from an expired or mismatched token.
var ErrUnauthorized = errors.New("unauthorized")

// Kind selects a token family.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindGuest   Kind = "guest"
)

// guestKeyLabel derives the guest signing key from the root secret so a
// guest token never verifies under the staff key.
const guestKeyLabel = "controlroom/guest-token/v1"

// Claims is the union of staff and guest claims.
type Claims struct {
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	Type      Kind   `json:"typ,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Elevated reports whether the claims carry the admin role.
func (c *Claims) Elevated() bool {
	return c.Role == models.RoleAdmin
}

// TokenPair is what a successful staff login returns.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Options configures an Authority. Zero TTLs fall back to the defaults.
type Options struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	GuestTTL   time.Duration
	Now        func() time.Time
}

// Authority signs and verifies tokens. It is safe for concurrent use.
type Authority struct {
	staffKey   []byte
	guestKey   []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	guestTTL   time.Duration
	now        func() time.Time
}

// NewAuthority builds an Authority from opts.
func NewAuthority(opts Options) (*Authority, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth secret is required")
	}
	a := &Authority{
		staffKey:   opts.Secret,
		guestKey:   deriveKey(opts.Secret, guestKeyLabel),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		guestTTL:   opts.GuestTTL,
		now:        opts.Now,
	}
	if a.accessTTL <= 0 {
		a.accessTTL = constants.DefaultAccessTokenTTL
	}
	if a.refreshTTL <= 0 {
		a.refreshTTL = constants.DefaultRefreshTokenTTL
	}
	if a.guestTTL <= 0 {
		a.guestTTL = constants.DefaultGuestTokenTTL
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

func deriveKey(secret []byte, label string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

// AccessTTL returns the configured access token lifetime.
func (a *Authority) AccessTTL() time.Duration { return a.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (a *Authority) RefreshTTL() time.Duration { return a.refreshTTL }

// GuestTTL returns the configured guest token lifetime.
func (a *Authority) GuestTTL() time.Duration { return a.guestTTL }

// IssueStaffPair mints an access and a refresh token for u.
func (a *Authority) IssueStaffPair(u *models.StaffUser) (*TokenPair, error) {
	access, accessExp, err := a.issueStaff(u, KindAccess, a.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, refreshExp, err := a.issueStaff(u, KindRefresh, a.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (a *Authority) issueStaff(u *models.StaffUser, kind Kind, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(ttl)
	claims := Claims{
		Username: u.Username,
		Role:     u.Role,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.staffKey)
	return signed, exp, err
}

// Refresh redeems a refresh token for a new access token. Claims are carried
// over from the refresh token.
func (a *Authority) Refresh(refreshToken string) (string, time.Time, error) {
	claims, err := a.Validate(refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, err
	}
	u := &models.StaffUser{ID: claims.Subject, Username: claims.Username, Role: claims.Role}
	token, exp, err := a.issueStaff(u, KindAccess, a.accessTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, exp, nil
}

// IssueGuest mints a guest token bound to sessionID.
func (a *Authority) IssueGuest(sessionID string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.guestTTL)
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.guestKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate guest token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies token as kind and returns its claims.
func (a *Authority) Validate(token string, kind Kind) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	key := a.staffKey
	if kind == KindGuest {
		key = a.guestKey
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	switch kind {
	case KindGuest:
		if claims.SessionID == "" || claims.Type != "" {
			return nil, ErrUnauthorized
		}
	case KindAccess, KindRefresh:
		if claims.Type != kind || claims.Subject == "" {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// ValidateGuestFor verifies a guest token and requires it to be bound to
// sessionID.
func (a *Authority) ValidateGuestFor(token, sessionID string) (*Claims, error) {
	claims, err := a.Validate(token, KindGuest)
	if err != nil {
		return nil, err
	}
	if sessionID == "" || !hmac.Equal([]byte(claims.SessionID), []byte(sessionID)) {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
