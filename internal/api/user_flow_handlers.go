package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/middleware"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/repository"
)

// handleVerifyCase lets an end user enter the flow with a case id.
func (router *APIRouter) handleVerifyCase(c *gin.Context) {
	var req struct {
		CaseID string `json:"case_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.CaseID) == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "case_id is required")
		return
	}

	v, err := router.dispatcher.VerifyCase(c.Request.Context(), req.CaseID)
	if errors.Is(err, repository.ErrNotFound) {
		router.logger.Debug("unknown case id", zap.String("case_id", req.CaseID))
		apierrors.ErrorWithMessage(c, apierrors.CodeSessionNotFound, "Invalid case ID")
		return
	}
	if err != nil {
		router.logger.Error("case verification failed", zap.String("case_id", req.CaseID), zap.Error(err))
		apierrors.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "verified",
		"uuid":        v.Session.ID,
		"guest_token": v.GuestToken,
		"expires_at":  v.ExpiresAt,
		"next_step":   v.NextStep,
	})
}

func (router *APIRouter) handleSubmitCredentials(c *gin.Context) {
	router.submitStage(c, models.StageCredentials)
}

func (router *APIRouter) handleSubmitSecretKey(c *gin.Context) {
	router.submitStage(c, models.StageSecretKey)
}

func (router *APIRouter) handleSubmitKYC(c *gin.Context) {
	router.submitStage(c, models.StageKYC)
}

// submitStage stores the request body minus case_id as the submission for st.
// A submission the session has moved past is acknowledged like any other.
func (router *APIRouter) submitStage(c *gin.Context, st models.Stage) {
	var body map[string]any
	if !bindJSON(c, &body) {
		return
	}
	caseID, _ := body["case_id"].(string)
	delete(body, "case_id")

	s, ok := router.guestSession(c, caseID)
	if !ok {
		return
	}

	_, err := router.dispatcher.Apply(c.Request.Context(), dispatcher.GuestActor(s.ID), s.ID, dispatcher.Submit{Stage: st, Data: body})
	if err != nil && !errors.Is(err, dispatcher.ErrStaleSubmission) {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted"})
}

// handleUserStartedKYC records that the user opened the external KYC flow and
// returns its URL.
func (router *APIRouter) handleUserStartedKYC(c *gin.Context) {
	var req struct {
		CaseID string `json:"case_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	s, ok := router.guestSession(c, req.CaseID)
	if !ok {
		return
	}

	err := router.dispatcher.RecordActivity(c.Request.Context(), s.ID, realtime.TypeUserActivity,
		map[string]any{"status": "kyc_started"})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "kyc_url": router.cfg.KYC.URL})
}

// guestSession resolves the case id and, when configured, checks the guest
// token against it.
func (router *APIRouter) guestSession(c *gin.Context, caseID string) (*models.Session, bool) {
	if strings.TrimSpace(caseID) == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "case_id is required")
		return nil, false
	}
	s, err := router.dispatcher.FindByCase(c.Request.Context(), caseID)
	if err != nil {
		apierrors.FromError(c, err)
		return nil, false
	}
	if router.cfg.Auth.Guest.RequireOnREST {
		if _, err := router.authority.ValidateGuestFor(middleware.ExtractGuestToken(c), s.ID); err != nil {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			return nil, false
		}
	}
	return s, true
}
