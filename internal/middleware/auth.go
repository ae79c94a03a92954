// Package middleware provides HTTP middleware for controlroom.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/constants"
	"github.com/goatkit/controlroom/internal/models"
)

// Context keys set by StaffAuth.
const (
	ClaimsKey   = "claims"
	UserIDKey   = "user_id"
	UsernameKey = "username"
	UserRoleKey = "user_role"
)

// GuestTokenHeader carries a guest token on REST calls.
const GuestTokenHeader = "X-Guest-Token"

// TokenValidator verifies staff tokens.
type TokenValidator interface {
	Validate(token string, kind auth.Kind) (*auth.Claims, error)
}

// StaffAuth requires a valid staff access token.
func StaffAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractStaffToken(c)
		if token == "" {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return
		}

		claims, err := v.Validate(token, auth.KindAccess)
		if err != nil {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.Subject)
		c.Set(UsernameKey, claims.Username)
		c.Set(UserRoleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin lets only elevated staff through. It must run after StaffAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return
		}
		if claims.Role != models.RoleAdmin {
			apierrors.Error(c, apierrors.CodeElevatedRoleRequired)
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by StaffAuth.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// ExtractStaffToken looks for a staff token in the Authorization header, the
// access token cookie and the token query parameter, in that order.
func ExtractStaffToken(c *gin.Context) string {
	if token := bearerToken(c); token != "" {
		return token
	}
	if cookie, err := c.Cookie(constants.AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// ExtractGuestToken looks for a guest token in the Authorization header and
// the X-Guest-Token header.
func ExtractGuestToken(c *gin.Context) string {
	if token := bearerToken(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.GetHeader(GuestTokenHeader))
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
