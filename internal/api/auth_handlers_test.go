package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/controlroom/internal/constants"
)

func cookieByName(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("success sets http-only cookies", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "agent", "password": "password-agent"}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeBody(t, w)
		user := body["user"].(map[string]any)
		assert.Equal(t, "agent", user["username"])
		assert.Equal(t, "staff", user["role"])
		assert.NotContains(t, w.Body.String(), "password_hash")

		access := cookieByName(w, constants.AccessTokenCookie)
		require.NotNil(t, access)
		assert.True(t, access.HttpOnly)
		assert.Equal(t, body["access_token"], access.Value)
		require.NotNil(t, cookieByName(w, constants.RefreshTokenCookie))
	})

	t.Run("wrong password", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "agent", "password": "nope"}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "auth:invalid_credentials", errorCode(t, w))
		assert.Nil(t, cookieByName(w, constants.AccessTokenCookie))
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "agent"}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRefreshAndMe(t *testing.T) {
	env := newTestEnv(t)
	login := env.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "admin", "password": "password-admin"}, "")
	require.Equal(t, http.StatusOK, login.Code)
	refresh := cookieByName(login, constants.RefreshTokenCookie)
	require.NotNil(t, refresh)

	t.Run("refresh from cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(refresh)
		w := httptest.NewRecorder()
		env.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		access := decodeBody(t, w)["access_token"].(string)
		require.NotNil(t, cookieByName(w, constants.AccessTokenCookie))

		me := env.do(t, http.MethodGet, "/api/auth/me", nil, access)
		require.Equal(t, http.StatusOK, me.Code)
		assert.Equal(t, "admin", decodeBody(t, me)["user"].(map[string]any)["username"])
	})

	t.Run("refresh from body", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": refresh.Value}, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("access token cannot refresh", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": env.adminToken}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", nil, refresh.Value)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("no token", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/refresh", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestLogoutClearsCookies(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	header := strings.Join(w.Header().Values("Set-Cookie"), "\n")
	assert.Contains(t, header, constants.AccessTokenCookie+"=;")
	assert.Contains(t, header, constants.RefreshTokenCookie+"=;")
	assert.Contains(t, header, "Max-Age=0")
}
