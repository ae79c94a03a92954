package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/middleware"
)

// sendSuccess writes a 200 {"success": true, ...} body.
func sendSuccess(c *gin.Context, body gin.H) {
	sendSuccessStatus(c, http.StatusOK, body)
}

func sendSuccessStatus(c *gin.Context, status int, body gin.H) {
	out := gin.H{"success": true}
	for k, v := range body {
		out[k] = v
	}
	c.JSON(status, out)
}

// staffActor returns the actor set up by StaffAuth.
func staffActor(c *gin.Context) (dispatcher.Actor, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return dispatcher.Actor{}, false
	}
	return dispatcher.StaffActor(claims), true
}

// bindJSON decodes the request body into v and writes a 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be omitted.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
