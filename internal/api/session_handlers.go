package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/models"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// handleListSessions returns sessions filtered by status, stage and agent.
func (router *APIRouter) handleListSessions(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	filter := models.SessionFilter{
		Status:  models.Status(c.Query("status")),
		Stage:   models.Stage(c.Query("stage")),
		AgentID: c.Query("agent"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "Unknown status filter")
		return
	}
	if filter.Stage != "" && !filter.Stage.Valid() {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "Unknown stage filter")
		return
	}

	sessions, err := router.dispatcher.List(c.Request.Context(), actor, filter)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	sendSuccess(c, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (router *APIRouter) handleCreateSession(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		CaseID string `json:"case_id"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}

	s, err := router.dispatcher.Create(c.Request.Context(), actor, req.CaseID)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccessStatus(c, http.StatusCreated, gin.H{"session": s})
}

func (router *APIRouter) handleGetSession(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	s, err := router.dispatcher.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"session": s})
}

// handleUpdateSession patches user details and notes. Omitted fields are kept.
func (router *APIRouter) handleUpdateSession(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		UserName  *string `json:"user_name"`
		UserEmail *string `json:"user_email"`
		Notes     *string `json:"notes"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.UserName == nil && req.UserEmail == nil && req.Notes == nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "Nothing to update")
		return
	}

	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"), dispatcher.UpdateDetails{
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		Notes:     req.Notes,
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"session": res.Session})
}

func (router *APIRouter) handleDeleteSession(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	if err := router.dispatcher.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"message": "Session deleted"})
}

// handleBulkDelete deletes each listed session and reports per-id outcomes.
func (router *APIRouter) handleBulkDelete(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		UUIDs []string `json:"uuids"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if len(req.UUIDs) == 0 {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "uuids must not be empty")
		return
	}

	results := router.dispatcher.BulkDelete(c.Request.Context(), actor, req.UUIDs)
	deleted := 0
	for _, r := range results {
		if r.Status == dispatcher.DeleteOK {
			deleted++
		}
	}
	sendSuccess(c, gin.H{"results": results, "deleted": deleted})
}

func (router *APIRouter) handleSessionLogs(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	category := c.DefaultQuery("category", models.LogCategoryAll)

	logs, err := router.dispatcher.Logs(c.Request.Context(), actor, c.Param("id"), category, limit)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	if logs == nil {
		logs = []*models.SessionLog{}
	}
	sendSuccess(c, gin.H{"logs": logs, "count": len(logs)})
}
