package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/constants"
	"github.com/goatkit/controlroom/internal/middleware"
	"github.com/goatkit/controlroom/internal/repository"
)

// handleLogin authenticates staff and sets the token cookies.
func (router *APIRouter) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	user, pair, err := router.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		router.logger.Info("login failed", zap.String("username", req.Username), zap.Error(err))
		apierrors.FromError(c, err)
		return
	}

	router.setTokenCookie(c, constants.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt)
	router.setTokenCookie(c, constants.RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt)
	router.logger.Info("staff logged in", zap.String("user_id", user.ID), zap.String("username", user.Username))

	sendSuccess(c, gin.H{
		"user":               user,
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_expires_at": pair.RefreshExpiresAt,
	})
}

// handleRefresh trades a refresh token from the cookie or body for a new
// access token.
func (router *APIRouter) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token, _ = c.Cookie(constants.RefreshTokenCookie)
	}
	if token == "" {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}

	access, exp, err := router.authority.Refresh(token)
	if err != nil {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	router.setTokenCookie(c, constants.AccessTokenCookie, access, exp)
	sendSuccess(c, gin.H{"access_token": access, "access_expires_at": exp})
}

// handleLogout clears the token cookies. Issued tokens stay valid until
// they expire.
func (router *APIRouter) handleLogout(c *gin.Context) {
	router.clearTokenCookie(c, constants.AccessTokenCookie)
	router.clearTokenCookie(c, constants.RefreshTokenCookie)
	sendSuccess(c, gin.H{"message": "Logged out"})
}

func (router *APIRouter) handleMe(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	user, err := router.auth.Me(c.Request.Context(), claims)
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"user": user})
}

func (router *APIRouter) setTokenCookie(c *gin.Context, name, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", router.cfg.Auth.CookieSecure, true)
}

func (router *APIRouter) clearTokenCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", router.cfg.Auth.CookieSecure, true)
}
