package api

import (
	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/stage"
)

// reviewAction names a reviewable stage the way the agent endpoints do.
type reviewAction struct {
	stage    models.Stage
	accepted string
	rejected string
	message  string
}

var (
	actionLogin = reviewAction{models.StageCredentials, "login_accepted", "login_rejected", "Login"}
	actionOTP   = reviewAction{models.StageSecretKey, "otp_accepted", "otp_rejected", "Secret key"}
	actionKYC   = reviewAction{models.StageKYC, "kyc_accepted", "kyc_rejected", "KYC"}
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (router *APIRouter) handleAccept(a reviewAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := staffActor(c)
		if !ok {
			return
		}
		res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"), dispatcher.Accept{Stage: a.stage})
		if err != nil {
			apierrors.FromError(c, err)
			return
		}
		sendSuccess(c, gin.H{
			"status":     a.accepted,
			"next_stage": res.ToStage,
			"message":    a.message + " accepted",
			"session":    res.Session,
		})
	}
}

func (router *APIRouter) handleReject(a reviewAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := staffActor(c)
		if !ok {
			return
		}
		var req reasonRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = dispatcher.DefaultRejectReason(a.stage)
		}
		res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"),
			dispatcher.Reject{Stage: a.stage, Reason: reason})
		if err != nil {
			apierrors.FromError(c, err)
			return
		}
		sendSuccess(c, gin.H{
			"status":     a.rejected,
			"next_stage": res.ToStage,
			"message":    a.message + " rejected: " + reason,
			"session":    res.Session,
		})
	}
}

func (router *APIRouter) handleNavigate(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		TargetStage string `json:"target_stage"`
		ClearData   string `json:"clear_data"`
		Reason      string `json:"reason"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.TargetStage == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "target_stage is required")
		return
	}
	target := models.Stage(req.TargetStage)
	mode, err := stage.ParseClearMode(req.ClearData)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInvalidClearMode)
		return
	}

	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"),
		dispatcher.Navigate{Target: target, Clear: mode, Reason: req.Reason})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{
		"status":          "session_navigated",
		"from_stage":      res.FromStage,
		"to_stage":        res.ToStage,
		"session_status":  res.Session.Status,
		"clear_data_mode": mode,
		"session":         res.Session,
	})
}

func (router *APIRouter) handleForceComplete(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		Reason       string `json:"reason"`
		CloseSession bool   `json:"close_session"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"),
		dispatcher.ForceComplete{Reason: req.Reason, CloseSession: req.CloseSession})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{
		"status":         "force_completed",
		"from_stage":     res.FromStage,
		"session_status": res.Session.Status,
		"session":        res.Session,
	})
}

func (router *APIRouter) handleMarkUnsuccessful(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		Reason  string `json:"reason"`
		Comment string `json:"comment"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"),
		dispatcher.MarkUnsuccessful{Reason: req.Reason, Comment: req.Comment})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{
		"status":         "marked_unsuccessful",
		"session_status": res.Session.Status,
		"session":        res.Session,
	})
}

func (router *APIRouter) handleEndSession(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"), dispatcher.End{Reason: req.Reason})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{
		"status":         "session_ended",
		"session_status": res.Session.Status,
		"session":        res.Session,
	})
}

func (router *APIRouter) handleSaveNotes(c *gin.Context) {
	actor, ok := staffActor(c)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := router.dispatcher.Apply(c.Request.Context(), actor, c.Param("id"), dispatcher.SaveNotes{Notes: req.Notes})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"notes": res.Session.Notes})
}
