// Package tasks provides background task implementations for the runner.
package tasks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/models"
)

const defaultExpirySchedule = "@every 1m"

// IdleLister finds active sessions idle since a cutoff.
type IdleLister interface {
	ListIdle(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
}

// SessionExpirer ends one idle session. It reports whether the session was
// still idle when it got there.
type SessionExpirer interface {
	Expire(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

// SessionExpiryTask terminates sessions nobody touched for the idle timeout.
type SessionExpiryTask struct {
	sessions    IdleLister
	expirer     SessionExpirer
	idleTimeout time.Duration
	schedule    string
	now         func() time.Time
	logger      *zap.Logger
}

// NewSessionExpiryTask creates the expiry task. A zero IdleTimeout disables it.
func NewSessionExpiryTask(sessions IdleLister, expirer SessionExpirer, cfg config.SessionConfig, logger *zap.Logger) *SessionExpiryTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule := cfg.ExpirySchedule
	if schedule == "" {
		schedule = defaultExpirySchedule
	}
	return &SessionExpiryTask{
		sessions:    sessions,
		expirer:     expirer,
		idleTimeout: cfg.IdleTimeout,
		schedule:    schedule,
		now:         time.Now,
		logger:      logger.Named("session-expiry"),
	}
}

// Name returns the task name.
func (t *SessionExpiryTask) Name() string {
	return "session-expiry"
}

// Schedule returns the configured cron schedule.
func (t *SessionExpiryTask) Schedule() string {
	return t.schedule
}

// Timeout returns the task timeout (2 minutes).
func (t *SessionExpiryTask) Timeout() time.Duration {
	return 2 * time.Minute
}

// Enabled reports whether an idle timeout is configured.
func (t *SessionExpiryTask) Enabled() bool {
	return t.idleTimeout > 0
}

// Run expires every session idle for longer than the timeout. Failures on
// single sessions are logged and the rest still run.
func (t *SessionExpiryTask) Run(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	cutoff := t.now().UTC().Add(-t.idleTimeout)

	idle, err := t.sessions.ListIdle(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs []error
	expired := 0
	for _, s := range idle {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := t.expirer.Expire(ctx, s.ID, cutoff)
		if err != nil {
			t.logger.Warn("failed to expire session", zap.String("session_id", s.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		t.logger.Info("expired idle sessions", zap.Int("count", expired), zap.Duration("idle_timeout", t.idleTimeout))
	}
	return errors.Join(errs...)
}
