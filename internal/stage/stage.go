// Package stage decides which stage transitions a verification session may
// take and applies the matching user data changes. It holds no state and
// performs no I/O.
package stage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goatkit/controlroom/internal/models"
)

// transitions is the directed adjacency table. The first entry of each list
// is the forward edge used by Approve.
var transitions = map[models.Stage][]models.Stage{
	models.StageCaseID:      {models.StageCredentials},
	models.StageCredentials: {models.StageSecretKey, models.StageCaseID},
	models.StageSecretKey:   {models.StageKYC, models.StageCredentials, models.StageCaseID},
	models.StageKYC:         {models.StageCompleted, models.StageSecretKey, models.StageCaseID},
	models.StageCompleted:   nil,
}

// ErrNoSubmission is returned by Approve when nothing is waiting for review
// in the requested stage.
var ErrNoSubmission = errors.New("no submission pending for this stage")

// TransitionError is returned for any illegal stage change. It carries enough
// context for a caller to offer the valid alternatives.
type TransitionError struct {
	Current      models.Stage
	Target       models.Stage
	Status       models.Status
	ValidTargets []models.Stage
}

func (e *TransitionError) Error() string {
	if e.Status != "" && e.Status != models.StatusActive {
		return fmt.Sprintf("session is %s; no transitions allowed", e.Status)
	}
	return fmt.Sprintf("Cannot navigate from '%s' to '%s'", e.Current, e.Target)
}

// ValidTargets returns the stages reachable from s. The slice is a copy.
func ValidTargets(s models.Stage) []models.Stage {
	targets := transitions[s]
	out := make([]models.Stage, len(targets))
	copy(out, targets)
	return out
}

// Allowed reports whether the edge from -> to exists in the table.
func Allowed(from, to models.Stage) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Forward returns the canonical next stage of s.
func Forward(s models.Stage) (models.Stage, bool) {
	targets := transitions[s]
	if len(targets) == 0 {
		return "", false
	}
	return targets[0], true
}

// Decide checks whether a session in (current, status) may move to target.
func Decide(current models.Stage, status models.Status, target models.Stage) error {
	if status != models.StatusActive {
		return &TransitionError{Current: current, Target: target, Status: status, ValidTargets: []models.Stage{}}
	}
	if !Allowed(current, target) {
		return &TransitionError{Current: current, Target: target, Status: status, ValidTargets: ValidTargets(current)}
	}
	return nil
}

// RequireActive fails for any session that is no longer active. It guards
// operations that leave the stage alone.
func RequireActive(current models.Stage, status models.Status) error {
	if status != models.StatusActive {
		return &TransitionError{Current: current, Target: current, Status: status, ValidTargets: []models.Stage{}}
	}
	return nil
}

// DecideForce applies the rules for an administrative jump to completed:
// adjacency is ignored but the session must still be active.
func DecideForce(current models.Stage, status models.Status) error {
	if status != models.StatusActive {
		return &TransitionError{Current: current, Target: models.StageCompleted, Status: status, ValidTargets: []models.Stage{}}
	}
	return nil
}

// ClearMode selects which user data is discarded alongside a stage change.
type ClearMode string

const (
	ClearSubmission ClearMode = "submission"
	ClearAll        ClearMode = "all"
	ClearNone       ClearMode = "none"
)

// ParseClearMode maps a request value onto a ClearMode. The empty string
// selects ClearSubmission.
func ParseClearMode(s string) (ClearMode, error) {
	switch ClearMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClearSubmission:
		return ClearSubmission, nil
	case ClearAll:
		return ClearAll, nil
	case ClearNone:
		return ClearNone, nil
	}
	return "", fmt.Errorf("invalid clear_data mode %q", s)
}

// ApplyClear discards data according to mode.
func ApplyClear(data *models.UserData, mode ClearMode) {
	switch mode {
	case ClearAll:
		data.CurrentSubmission = nil
		data.VerifiedData = nil
	case ClearNone:
	default:
		data.CurrentSubmission = nil
	}
}

// Approve moves the pending submission for st into the verified map and
// stamps it. The caller is responsible for the forward transition.
func Approve(data *models.UserData, st models.Stage, by string, at time.Time) error {
	sub := data.CurrentSubmission
	if sub == nil || sub.Stage != st {
		return ErrNoSubmission
	}
	if data.VerifiedData == nil {
		data.VerifiedData = make(map[models.Stage]*models.VerifiedEntry)
	}
	data.VerifiedData[st] = &models.VerifiedEntry{
		Data:       sub.Data,
		VerifiedAt: at,
		VerifiedBy: by,
	}
	data.CurrentSubmission = nil
	return nil
}

// Reject drops the pending submission so the user can retry the same stage.
func Reject(data *models.UserData) {
	data.CurrentSubmission = nil
}
