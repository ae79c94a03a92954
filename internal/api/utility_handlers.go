package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
)

// handleHealth returns API health status.
func (router *APIRouter) handleHealth(c *gin.Context) {
	sendSuccess(c, gin.H{
		"status":    "healthy",
		"service":   "controlroom",
		"timestamp": time.Now().UTC(),
	})
}

// handleGenerateCaseID returns a fresh, unused case id.
func (router *APIRouter) handleGenerateCaseID(c *gin.Context) {
	if router.caseIDs == nil {
		apierrors.Error(c, apierrors.CodeServiceUnavailable)
		return
	}
	caseID, err := router.caseIDs.Generate(c.Request.Context())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	sendSuccess(c, gin.H{"case_id": caseID})
}
