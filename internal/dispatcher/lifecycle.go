package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/stage"
)

// Bulk delete outcomes per id.
const (
	DeleteOK               = "deleted"
	DeletePermissionDenied = "permission_denied"
	DeleteNotFound         = "not_found"
	DeleteFailed           = "error"
)

// DeleteResult is the outcome of deleting one session in a bulk request.
type DeleteResult struct {
	ID     string `json:"uuid"`
	Status string `json:"status"`
}

// Verification is returned to an end user who entered a valid case id.
type Verification struct {
	Session    *models.Session
	GuestToken string
	ExpiresAt  time.Time
	NextStep   models.Stage
}

// NormalizeCaseID trims and upper-cases a case id as typed by a user.
func NormalizeCaseID(caseID string) string {
	return strings.ToUpper(strings.TrimSpace(caseID))
}

// Create opens a new session owned by actor. An empty caseID is generated.
func (d *Dispatcher) Create(ctx context.Context, actor Actor, caseID string) (s *models.Session, err error) {
	start := time.Now()
	defer func() { d.metrics.observe("create", start, err) }()

	if !actor.isStaff() {
		return nil, &PermissionError{Actor: actor.Username, Op: "create"}
	}

	caseID = NormalizeCaseID(caseID)
	if caseID == "" {
		if d.caseIDs == nil {
			return nil, errors.New("case id generator is not configured")
		}
		if caseID, err = d.caseIDs.Generate(ctx); err != nil {
			return nil, err
		}
	} else {
		exists, err := d.sessions.CaseIDExists(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, repository.ErrDuplicateCaseID
		}
	}

	now := d.now()
	s = &models.Session{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		AgentID:   actor.ID,
		Stage:     models.StageCaseID,
		Status:    models.StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry := &models.SessionLog{
		SessionID: s.ID,
		LogType:   models.LogSystem,
		Actor:     actor.Username,
		Message:   fmt.Sprintf("Session %s created", caseID),
		ExtraData: models.ExtraData{"created_by": actor.Username},
		CreatedAt: now,
	}
	if err := d.sessions.Create(ctx, s, entry); err != nil {
		return nil, err
	}

	d.events.ToStaff(sessionEvent(realtime.EventSessionCreated, s))
	return s.Clone(), nil
}

// Get returns a session actor may see.
func (d *Dispatcher) Get(ctx context.Context, actor Actor, id string) (*models.Session, error) {
	s, err := d.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(actor, s, "view", false); err != nil {
		return nil, err
	}
	return s, nil
}

// FindByCase resolves the active session behind a case id typed by an end
// user. Inactive sessions are reported as not found.
func (d *Dispatcher) FindByCase(ctx context.Context, caseID string) (*models.Session, error) {
	s, err := d.sessions.GetByCaseID(ctx, NormalizeCaseID(caseID))
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

// List returns the sessions actor may see. Only elevated staff can filter by
// another agent; everyone else is pinned to their own sessions.
func (d *Dispatcher) List(ctx context.Context, actor Actor, filter models.SessionFilter) ([]*models.Session, error) {
	if !actor.isStaff() {
		return nil, &PermissionError{Actor: actor.Username, Op: "list"}
	}
	if !actor.isElevated() {
		filter.AgentID = actor.ID
	}
	return d.sessions.List(ctx, filter)
}

// Logs returns audit entries of a session actor may see, newest first.
func (d *Dispatcher) Logs(ctx context.Context, actor Actor, id, category string, limit int) ([]*models.SessionLog, error) {
	if _, err := d.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return d.logs.ListBySession(ctx, id, models.LogTypesForCategory(category), limit)
}

// Delete removes a session and its audit trail.
func (d *Dispatcher) Delete(ctx context.Context, actor Actor, id string) (err error) {
	start := time.Now()
	defer func() { d.metrics.observe("delete", start, err) }()

	unlock := d.locks.Lock(id)
	defer unlock()

	s, err := d.sessions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorizeStaff(actor, s, "delete", false); err != nil {
		return err
	}
	if err := d.sessions.Delete(ctx, id); err != nil {
		return err
	}

	d.logger.Info("session deleted",
		zap.String("session_id", id), zap.String("case_id", s.CaseID), zap.String("actor", actor.Username))
	d.events.ToStaff(realtime.NewMessage(realtime.TypeSessionUpdate, id, map[string]any{
		"event":   realtime.EventSessionDeleted,
		"case_id": s.CaseID,
	}))
	d.events.ToStaff(realtime.NewMessage(realtime.TypeControlMessage, id, map[string]any{
		"message": fmt.Sprintf("Session %s deleted", s.CaseID),
	}))
	return nil
}

// BulkDelete deletes each id independently and reports per-id outcomes.
func (d *Dispatcher) BulkDelete(ctx context.Context, actor Actor, ids []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(ids))
	for _, id := range ids {
		err := d.Delete(ctx, actor, id)
		var pe *PermissionError
		status := DeleteOK
		switch {
		case err == nil:
		case errors.As(err, &pe):
			status = DeletePermissionDenied
		case errors.Is(err, repository.ErrNotFound):
			status = DeleteNotFound
		default:
			status = DeleteFailed
			d.logger.Error("bulk delete failed", zap.String("session_id", id), zap.Error(err))
		}
		results = append(results, DeleteResult{ID: id, Status: status})
	}
	return results
}

// VerifyCase is the end user's entry point. A session still waiting at the
// case id stage moves on to credentials; either way the user is marked online
// and receives a guest token for the session.
func (d *Dispatcher) VerifyCase(ctx context.Context, caseID string) (v *Verification, err error) {
	start := time.Now()
	defer func() { d.metrics.observe("verify_case", start, err) }()

	if d.tokens == nil {
		return nil, errors.New("guest token issuer is not configured")
	}
	found, err := d.sessions.GetByCaseID(ctx, NormalizeCaseID(caseID))
	if err != nil {
		return nil, err
	}
	if !found.IsActive() {
		return nil, repository.ErrNotFound
	}

	res, err := d.mutate(ctx, found.ID, func(s *models.Session, now time.Time) (*change, error) {
		if !s.IsActive() {
			return nil, repository.ErrNotFound
		}
		if s.Stage == models.StageCaseID {
			if err := stage.Decide(s.Stage, s.Status, models.StageCredentials); err != nil {
				return nil, err
			}
			s.Stage = models.StageCredentials
		}
		s.UserOnline = true
		s.LastActivityAt = &now

		ch := &change{}
		ch.log(s, models.LogUserConnection, GuestActor(s.ID).Username, "User verified case ID and connected", nil)
		ch.toStaff(s, realtime.TypeUserStatus, map[string]any{"online": true, "status": "case_id_verified"})
		return ch, nil
	})
	if err != nil {
		return nil, err
	}

	token, exp, err := d.tokens.IssueGuest(res.Session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue guest token: %w", err)
	}
	return &Verification{Session: res.Session, GuestToken: token, ExpiresAt: exp, NextStep: res.Session.Stage}, nil
}

// SetUserOnline records end-user liveness from the realtime hub.
func (d *Dispatcher) SetUserOnline(ctx context.Context, id string, online bool) (err error) {
	start := time.Now()
	defer func() { d.metrics.observe("set_user_online", start, err) }()

	_, err = d.mutate(ctx, id, func(s *models.Session, now time.Time) (*change, error) {
		s.UserOnline = online
		s.LastActivityAt = &now

		msg := "User disconnected"
		if online {
			msg = "User connected"
		}
		ch := &change{quiet: true}
		ch.log(s, models.LogUserConnection, GuestActor(s.ID).Username, msg, nil)
		ch.toStaff(s, realtime.TypeUserStatus, map[string]any{"online": online})
		return ch, nil
	})
	return err
}

var activityLogTypes = map[string]models.LogType{
	realtime.TypeDeviceMetadata: models.LogDeviceMetadata,
	realtime.TypeUserActivity:   models.LogUserActivity,
	realtime.TypeSessionStarted: models.LogSessionStart,
	realtime.TypePageView:       models.LogPageView,
	"status_update":             models.LogUserActivity,
}

// IsActivityKind reports whether kind is accepted by RecordActivity.
func IsActivityKind(kind string) bool {
	_, ok := activityLogTypes[kind]
	return ok
}

// RecordActivity logs telemetry sent by the end user and relays it to staff.
func (d *Dispatcher) RecordActivity(ctx context.Context, id, kind string, payload map[string]any) (err error) {
	start := time.Now()
	defer func() { d.metrics.observe("record_activity", start, err) }()

	logType, ok := activityLogTypes[kind]
	if !ok {
		return invalidPayload(fmt.Errorf("unknown activity type %q", kind))
	}
	relayed := kind
	if kind == "status_update" {
		relayed = realtime.TypeUserActivity
	}

	_, err = d.mutate(ctx, id, func(s *models.Session, now time.Time) (*change, error) {
		s.LastActivityAt = &now

		ch := &change{quiet: true}
		ch.log(s, logType, GuestActor(s.ID).Username, activityMessage(kind, payload), models.ExtraData(payload))
		ch.toStaff(s, relayed, payload)
		return ch, nil
	})
	return err
}

func activityMessage(kind string, payload map[string]any) string {
	switch kind {
	case realtime.TypeDeviceMetadata:
		return "Device metadata received"
	case realtime.TypeSessionStarted:
		return "User started session"
	case realtime.TypePageView:
		if page, ok := payload["page"].(string); ok && page != "" {
			return "User viewed " + page
		}
		return "User viewed a page"
	}
	if status, ok := payload["status"].(string); ok && status != "" {
		return "User activity: " + status
	}
	return "User activity"
}

var errNotIdle = errors.New("session is not idle")

// Expire terminates s if it is still active and has been idle since before
// cutoff. It reports whether the session was expired.
func (d *Dispatcher) Expire(ctx context.Context, id string, cutoff time.Time) (expired bool, err error) {
	start := time.Now()
	defer func() { d.metrics.observe("expire", start, err) }()

	system := SystemActor()
	_, err = d.mutate(ctx, id, func(s *models.Session, now time.Time) (*change, error) {
		last := s.UpdatedAt
		if s.LastActivityAt != nil {
			last = *s.LastActivityAt
		}
		if !s.IsActive() || !last.Before(cutoff) {
			return nil, errNotIdle
		}
		s.Status = models.StatusTerminated
		s.UserOnline = false
		s.UserData.Resolution = &models.Resolution{
			Kind:   models.ResolutionExpired,
			Reason: "idle timeout",
			By:     system.Username,
			At:     now,
		}

		ch := &change{}
		ch.log(s, models.LogSystem, system.Username, "Session expired after inactivity",
			models.ExtraData{"last_activity_at": last.Format(time.RFC3339)})
		ch.toUser(s, realtime.CommandSessionEnded, map[string]any{"message": "Your session has expired"})
		ch.toStaff(s, realtime.TypeControlMessage, map[string]any{
			"message": fmt.Sprintf("Session %s expired", s.CaseID),
		})
		return ch, nil
	})
	if errors.Is(err, errNotIdle) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
