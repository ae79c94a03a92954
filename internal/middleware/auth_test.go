package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/constants"
	"github.com/goatkit/controlroom/internal/models"
)

func newTestAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	a, err := auth.NewAuthority(auth.Options{Secret: []byte("middleware-test-secret-0123456789abcdef")})
	require.NoError(t, err)
	return a
}

func staffToken(t *testing.T, a *auth.Authority, role string) *auth.TokenPair {
	t.Helper()
	pair, err := a.IssueStaffPair(&models.StaffUser{ID: "u-1", Username: "alice", Role: role})
	require.NoError(t, err)
	return pair
}

func authRouter(a *auth.Authority) *gin.Engine {
	r := gin.New()
	protected := r.Group("/", StaffAuth(a))
	protected.GET("/me", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(UserIDKey), "username": claims.Username, "role": c.GetString(UserRoleKey)})
	})
	protected.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestStaffAuth(t *testing.T) {
	a := newTestAuthority(t)
	router := authRouter(a)
	pair := staffToken(t, a, models.RoleStaff)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":"u-1","username":"alice","role":"staff"}`, w.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: constants.AccessTokenCookie, Value: pair.AccessToken})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me?token="+pair.AccessToken, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "core:unauthorized")
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("guest token is rejected", func(t *testing.T) {
		guest, _, err := a.IssueGuest("session-1")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+guest)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	a := newTestAuthority(t)
	router := authRouter(a)

	tests := []struct {
		name   string
		role   string
		status int
	}{
		{"admin", models.RoleAdmin, http.StatusNoContent},
		{"staff", models.RoleStaff, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+staffToken(t, a, tt.role).AccessToken)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("without staff auth", func(t *testing.T) {
		r := gin.New()
		r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestExtractGuestToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"lowercase scheme", map[string]string{"Authorization": "bearer abc"}, "abc"},
		{"guest header", map[string]string{GuestTokenHeader: " xyz "}, "xyz"},
		{"bearer wins", map[string]string{"Authorization": "Bearer abc", GuestTokenHeader: "xyz"}, "abc"},
		{"basic auth ignored", map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractGuestToken(c))
		})
	}
}
