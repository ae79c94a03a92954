package apierrors

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/stage"
)

// FromError writes the response for an error returned by the dispatcher,
// the repositories or the auth layer. Unknown errors become 500s.
func FromError(c *gin.Context, err error) {
	var te *stage.TransitionError
	if errors.As(err, &te) {
		code := CodeInvalidTransition
		if te.Status != "" && te.Status != models.StatusActive {
			code = CodeSessionInactive
		}
		targets := te.ValidTargets
		if targets == nil {
			targets = []models.Stage{}
		}
		ErrorWithDetails(c, code, te.Error(), gin.H{
			"current_stage": te.Current,
			"valid_targets": targets,
		})
		return
	}

	var pe *dispatcher.PermissionError
	if errors.As(err, &pe) {
		if pe.Elevated {
			Error(c, CodeElevatedRoleRequired)
			return
		}
		Error(c, CodeForbidden)
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		Error(c, CodeSessionNotFound)
	case errors.Is(err, stage.ErrNoSubmission):
		Error(c, CodeNoSubmission)
	case errors.Is(err, dispatcher.ErrInvalidPayload):
		ErrorWithMessage(c, CodeInvalidSubmission, err.Error())
	case errors.Is(err, dispatcher.ErrBusy), errors.Is(err, repository.ErrVersionConflict):
		Error(c, CodeSessionBusy)
	case errors.Is(err, repository.ErrDuplicateCaseID):
		Error(c, CodeDuplicateCaseID)
	case errors.Is(err, repository.ErrDuplicateUsername):
		ErrorWithMessage(c, CodeConflict, "Username already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		Error(c, CodeInvalidCredentials)
	case errors.Is(err, auth.ErrUserDisabled):
		Error(c, CodeAccountDisabled)
	case errors.Is(err, auth.ErrUnauthorized):
		Error(c, CodeUnauthorized)
	default:
		Error(c, CodeInternalError)
	}
}
