// Package dispatcher is the single writer of verification sessions. Every
// mutation runs under a per-session lock: authorize, decide through the
// stage engine, commit with the audit entries, then emit events while the
// lock is still held so subscribers see events in commit order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/stage"
)

// maxAttempts bounds reload-and-retry on a version conflict.
const maxAttempts = 3

// CaseIDSource generates fresh case ids.
type CaseIDSource interface {
	Generate(ctx context.Context) (string, error)
}

// GuestIssuer mints guest tokens for a session.
type GuestIssuer interface {
	IssueGuest(sessionID string) (string, time.Time, error)
}

// PayloadValidator checks submitted stage data before it is stored.
type PayloadValidator interface {
	Validate(st models.Stage, data map[string]any) error
}

// Options configures a Dispatcher. Sessions and Logs are required.
type Options struct {
	Sessions  repository.SessionRepository
	Logs      repository.SessionLogRepository
	Publisher realtime.Publisher
	CaseIDs   CaseIDSource
	Tokens    GuestIssuer
	Validator PayloadValidator
	Logger    *zap.Logger
	Now       func() time.Time
}

// Dispatcher applies operations to sessions.
type Dispatcher struct {
	sessions  repository.SessionRepository
	logs      repository.SessionLogRepository
	events    *realtime.Broadcaster
	caseIDs   CaseIDSource
	tokens    GuestIssuer
	validator PayloadValidator
	logger    *zap.Logger
	now       func() time.Time
	locks     *keyedMutex
	metrics   *dispatcherMetrics
	sanitizer *bluemonday.Policy
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Sessions == nil || opts.Logs == nil {
		return nil, errors.New("dispatcher: session and log repositories are required")
	}
	if opts.Publisher == nil {
		opts.Publisher = realtime.NewHub(realtime.DefaultBufferSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		sessions:  opts.Sessions,
		logs:      opts.Logs,
		events:    realtime.NewBroadcaster(opts.Publisher),
		caseIDs:   opts.CaseIDs,
		tokens:    opts.Tokens,
		validator: opts.Validator,
		logger:    opts.Logger.Named("dispatcher"),
		now:       func() time.Time { return opts.Now().UTC() },
		locks:     newKeyedMutex(),
		metrics:   globalDispatcherMetrics(),
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// Result describes a committed operation.
type Result struct {
	Session   *models.Session
	FromStage models.Stage
	ToStage   models.Stage
}

// change is what a mutation produced: audit entries committed with the
// session and events emitted after the commit.
type change struct {
	logs  []*models.SessionLog
	staff []realtime.Message
	user  []realtime.Message
	// quiet suppresses the generic session_updated event.
	quiet bool
}

func (c *change) log(s *models.Session, typ models.LogType, actor, message string, extra models.ExtraData) {
	c.logs = append(c.logs, &models.SessionLog{
		SessionID: s.ID,
		LogType:   typ,
		Actor:     actor,
		Message:   message,
		ExtraData: extra,
	})
}

func (c *change) toStaff(s *models.Session, typ string, payload map[string]any) {
	c.staff = append(c.staff, realtime.NewMessage(typ, s.ID, payload))
}

func (c *change) toUser(s *models.Session, command string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["command"] = command
	c.user = append(c.user, realtime.NewMessage(realtime.TypeCommand, s.ID, payload))
}

// mutateFunc edits s in place. An error aborts without committing.
type mutateFunc func(s *models.Session, now time.Time) (*change, error)

// mutate runs fn under the session lock and commits its result. It reloads
// and re-runs fn when another writer bumped the version in between.
func (d *Dispatcher) mutate(ctx context.Context, id string, fn mutateFunc) (*Result, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s, err := d.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		from := s.Stage
		expected := s.Version
		now := d.now()

		ch, err := fn(s, now)
		if err != nil {
			return nil, err
		}

		s.UpdatedAt = now
		for _, l := range ch.logs {
			l.CreatedAt = now
		}
		err = d.sessions.Update(ctx, s, expected, ch.logs...)
		if errors.Is(err, repository.ErrVersionConflict) {
			d.logger.Debug("version conflict, retrying",
				zap.String("session_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		d.emit(s, ch)
		return &Result{Session: s.Clone(), FromStage: from, ToStage: s.Stage}, nil
	}
	return nil, ErrBusy
}

func (d *Dispatcher) emit(s *models.Session, ch *change) {
	if !ch.quiet {
		d.events.ToStaff(sessionEvent(realtime.EventSessionUpdated, s))
	}
	for _, m := range ch.staff {
		d.events.ToStaff(m)
	}
	for _, m := range ch.user {
		d.events.ToUser(m)
	}
}

func sessionEvent(event string, s *models.Session) realtime.Message {
	return realtime.NewMessage(realtime.TypeSessionUpdate, s.ID, map[string]any{
		"event":   event,
		"session": s.Clone(),
	})
}

// Apply runs op on session id on behalf of actor.
func (d *Dispatcher) Apply(ctx context.Context, actor Actor, id string, op Operation) (res *Result, err error) {
	start := time.Now()
	defer func() { d.metrics.observe(op.Name(), start, err) }()

	if sub, ok := op.(Submit); ok && d.validator != nil {
		if err := d.validator.Validate(sub.Stage, sub.Data); err != nil {
			return nil, invalidPayload(err)
		}
	}

	res, err = d.mutate(ctx, id, func(s *models.Session, now time.Time) (*change, error) {
		if err := authorize(actor, s, op); err != nil {
			return nil, err
		}
		return d.apply(ctx, actor, s, op, now)
	})

	if errors.Is(err, ErrStaleSubmission) {
		d.logger.Info("discarded stale submission",
			zap.String("session_id", id), zap.String("op", op.Name()))
	}
	return res, err
}

func (d *Dispatcher) apply(ctx context.Context, actor Actor, s *models.Session, op Operation, now time.Time) (*change, error) {
	switch o := op.(type) {
	case Submit:
		return d.submit(ctx, actor, s, o, now)
	case Accept:
		return d.accept(actor, s, o, now)
	case Reject:
		return d.reject(actor, s, o)
	case Navigate:
		return d.navigate(actor, s, o)
	case ForceComplete:
		return d.forceComplete(actor, s, o, now)
	case MarkUnsuccessful:
		return d.markUnsuccessful(actor, s, o, now)
	case End:
		return d.end(actor, s, o, now)
	case SaveNotes:
		return d.saveNotes(actor, s, o)
	case UpdateDetails:
		return d.updateDetails(actor, s, o)
	}
	return nil, fmt.Errorf("unsupported operation %T", op)
}

func (d *Dispatcher) submit(ctx context.Context, actor Actor, s *models.Session, o Submit, now time.Time) (*change, error) {
	if !s.IsActive() || s.Stage != o.Stage {
		entry := &models.SessionLog{
			SessionID: s.ID,
			LogType:   models.LogInfo,
			Actor:     actor.Username,
			Message:   fmt.Sprintf("Discarded %s submission; session is at %s", o.Stage, s.Stage),
			ExtraData: models.ExtraData{"submitted_stage": string(o.Stage), "current_stage": string(s.Stage), "status": string(s.Status)},
			CreatedAt: now,
		}
		if err := d.logs.Append(ctx, entry); err != nil {
			d.logger.Warn("failed to record stale submission", zap.String("session_id", s.ID), zap.Error(err))
		}
		d.events.ToStaff(realtime.NewMessage(realtime.TypeSessionUpdate, s.ID, map[string]any{
			"event":         realtime.EventStaleSubmission,
			"stage":         o.Stage,
			"current_stage": s.Stage,
		}))
		return nil, ErrStaleSubmission
	}

	s.UserData.CurrentSubmission = &models.Submission{Stage: o.Stage, Data: o.Data, SubmittedAt: now}
	s.LastActivityAt = &now

	ch := &change{}
	ch.log(s, models.LogUserInput, actor.Username, "User submitted "+stageLabel(o.Stage), nil)
	ch.toStaff(s, realtime.TypeSessionUpdate, map[string]any{
		"event": realtime.EventUserSubmitted,
		"stage": o.Stage,
		"data":  o.Data,
	})
	ch.toStaff(s, realtime.TypeUserStatus, map[string]any{
		"online": s.UserOnline,
		"status": string(o.Stage) + "_submitted",
	})
	return ch, nil
}

// reviewTarget checks that the session is active and still sitting on st,
// which makes a repeated accept fail as a transition error.
func reviewTarget(s *models.Session, st models.Stage) (models.Stage, error) {
	target, ok := stage.Forward(st)
	if _, reviewed := acceptTexts[st]; !ok || !reviewed {
		return "", invalidPayload(fmt.Errorf("stage %q has no review step", st))
	}
	if err := stage.RequireActive(s.Stage, s.Status); err != nil {
		return "", err
	}
	if s.Stage != st {
		return "", &stage.TransitionError{
			Current:      s.Stage,
			Target:       target,
			Status:       s.Status,
			ValidTargets: stage.ValidTargets(s.Stage),
		}
	}
	return target, nil
}

func (d *Dispatcher) accept(actor Actor, s *models.Session, o Accept, now time.Time) (*change, error) {
	target, err := reviewTarget(s, o.Stage)
	if err != nil {
		return nil, err
	}
	if err := stage.Decide(s.Stage, s.Status, target); err != nil {
		return nil, err
	}
	if err := stage.Approve(&s.UserData, o.Stage, actor.Username, now); err != nil {
		return nil, err
	}
	s.Stage = target
	if target == models.StageCompleted {
		s.Status = models.StatusCompleted
	}

	text := acceptTexts[o.Stage]
	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, text.log, models.ExtraData{"accepted_by": actor.Username})
	ch.toStaff(s, realtime.TypeVerifiedData, map[string]any{"data": s.UserData.VerifiedData})
	ch.toUser(s, realtime.CommandAccept, map[string]any{
		"stage":      o.Stage,
		"next_stage": target,
		"message":    text.user,
	})
	return ch, nil
}

func (d *Dispatcher) reject(actor Actor, s *models.Session, o Reject) (*change, error) {
	text, ok := rejectTexts[o.Stage]
	if !ok {
		return nil, invalidPayload(fmt.Errorf("stage %q has no review step", o.Stage))
	}
	if err := stage.RequireActive(s.Stage, s.Status); err != nil {
		return nil, err
	}
	if s.Stage != o.Stage {
		return nil, &stage.TransitionError{
			Current:      s.Stage,
			Target:       o.Stage,
			Status:       s.Status,
			ValidTargets: stage.ValidTargets(s.Stage),
		}
	}
	reason := o.Reason
	if reason == "" {
		reason = DefaultRejectReason(o.Stage)
	}
	stage.Reject(&s.UserData)

	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, text.log+": "+reason,
		models.ExtraData{"rejected_by": actor.Username, "reason": reason})
	ch.toUser(s, realtime.CommandReject, map[string]any{
		"stage":   o.Stage,
		"reason":  reason,
		"message": fmt.Sprintf("%s rejected. %s Please try again.", text.user, reason),
	})
	return ch, nil
}

func (d *Dispatcher) navigate(actor Actor, s *models.Session, o Navigate) (*change, error) {
	if err := stage.Decide(s.Stage, s.Status, o.Target); err != nil {
		return nil, err
	}
	mode := o.Clear
	if mode == "" {
		mode = stage.ClearSubmission
	}
	from := s.Stage
	stage.ApplyClear(&s.UserData, mode)
	s.Stage = o.Target

	msg := fmt.Sprintf("Session navigated from '%s' to '%s'", from, o.Target)
	if o.Reason != "" {
		msg += ": " + o.Reason
	}
	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, msg, models.ExtraData{
		"navigated_by":    actor.Username,
		"from_stage":      string(from),
		"to_stage":        string(o.Target),
		"clear_data_mode": string(mode),
		"reason":          o.Reason,
	})
	ch.toUser(s, realtime.CommandNavigate, map[string]any{
		"from_stage": from,
		"stage":      o.Target,
		"reason":     o.Reason,
		"message":    fmt.Sprintf("You have been moved to %s stage.", o.Target),
	})
	ch.toStaff(s, realtime.TypeControlMessage, map[string]any{
		"message": fmt.Sprintf("Session %s navigated to %s", s.CaseID, o.Target),
	})
	return ch, nil
}

func (d *Dispatcher) forceComplete(actor Actor, s *models.Session, o ForceComplete, now time.Time) (*change, error) {
	if err := stage.DecideForce(s.Stage, s.Status); err != nil {
		return nil, err
	}
	from := s.Stage
	s.Stage = models.StageCompleted
	if o.CloseSession {
		s.Status = models.StatusCompleted
	}
	s.UserData.Resolution = &models.Resolution{
		Kind:   models.ResolutionForceComplete,
		Reason: o.Reason,
		By:     actor.Username,
		At:     now,
	}

	msg := fmt.Sprintf("Session force-completed from '%s'", from)
	if o.Reason != "" {
		msg += ": " + o.Reason
	}
	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, msg, models.ExtraData{
		"completed_by":  actor.Username,
		"from_stage":    string(from),
		"reason":        o.Reason,
		"close_session": o.CloseSession,
	})
	ch.toUser(s, realtime.CommandVerificationCompleted, map[string]any{
		"message": "Your verification has been completed.",
	})
	ch.toStaff(s, realtime.TypeControlMessage, map[string]any{
		"message": fmt.Sprintf("Session %s force-completed", s.CaseID),
	})
	return ch, nil
}

func (d *Dispatcher) markUnsuccessful(actor Actor, s *models.Session, o MarkUnsuccessful, now time.Time) (*change, error) {
	if err := stage.DecideForce(s.Stage, s.Status); err != nil {
		return nil, err
	}
	from := s.Stage
	s.Stage = models.StageCompleted
	s.Status = models.StatusTerminated
	s.UserData.Resolution = &models.Resolution{
		Kind:    models.ResolutionUnsuccessful,
		Reason:  o.Reason,
		Comment: o.Comment,
		By:      actor.Username,
		At:      now,
	}

	msg := "Session marked as unsuccessful"
	if o.Reason != "" {
		msg += ": " + o.Reason
	}
	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, msg, models.ExtraData{
		"marked_by":  actor.Username,
		"from_stage": string(from),
		"reason":     o.Reason,
		"comment":    o.Comment,
	})
	ch.toUser(s, realtime.CommandVerificationFailed, map[string]any{
		"message": "Your verification was unsuccessful. Please contact support.",
	})
	ch.toStaff(s, realtime.TypeControlMessage, map[string]any{
		"message": fmt.Sprintf("Session %s marked as unsuccessful", s.CaseID),
	})
	return ch, nil
}

func (d *Dispatcher) end(actor Actor, s *models.Session, o End, now time.Time) (*change, error) {
	if err := stage.RequireActive(s.Stage, s.Status); err != nil {
		return nil, err
	}
	s.Status = models.StatusTerminated
	s.UserData.Resolution = &models.Resolution{
		Kind:   models.ResolutionEnded,
		Reason: o.Reason,
		By:     actor.Username,
		At:     now,
	}

	msg := "Session ended by agent"
	if o.Reason != "" {
		msg += ": " + o.Reason
	}
	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, msg, models.ExtraData{"ended_by": actor.Username, "reason": o.Reason})
	ch.toUser(s, realtime.CommandSessionEnded, map[string]any{
		"message": "Your session has been terminated by the agent",
	})
	ch.toStaff(s, realtime.TypeControlMessage, map[string]any{
		"message": fmt.Sprintf("Session %s terminated", s.CaseID),
	})
	return ch, nil
}

func (d *Dispatcher) saveNotes(actor Actor, s *models.Session, o SaveNotes) (*change, error) {
	if err := stage.RequireActive(s.Stage, s.Status); err != nil {
		return nil, err
	}
	s.Notes = d.sanitizer.Sanitize(o.Notes)

	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, "Agent updated notes", nil)
	return ch, nil
}

func (d *Dispatcher) updateDetails(actor Actor, s *models.Session, o UpdateDetails) (*change, error) {
	if err := stage.RequireActive(s.Stage, s.Status); err != nil {
		return nil, err
	}
	fields := []string{}
	if o.UserName != nil {
		s.UserName = d.sanitizer.Sanitize(*o.UserName)
		fields = append(fields, "user_name")
	}
	if o.UserEmail != nil {
		s.UserEmail = d.sanitizer.Sanitize(*o.UserEmail)
		fields = append(fields, "user_email")
	}
	if o.Notes != nil {
		s.Notes = d.sanitizer.Sanitize(*o.Notes)
		fields = append(fields, "notes")
	}
	if len(fields) == 0 {
		return nil, invalidPayload(errors.New("no fields to update"))
	}

	ch := &change{}
	ch.log(s, models.LogAgentAction, actor.Username, "Agent updated session details", models.ExtraData{"fields": fields})
	return ch, nil
}
