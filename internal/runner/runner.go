// Package runner schedules background tasks on a cron engine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a unit of scheduled background work.
type Task interface {
	Name() string
	// Schedule is a cron expression with optional seconds, or a descriptor
	// such as "@every 1m".
	Schedule() string
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// ErrUnknownTask is returned by RunNow for a task that was never registered.
var ErrUnknownTask = errors.New("unknown task")

type options struct {
	Logger   *zap.Logger
	Location *time.Location
	Parser   cron.Parser
}

// Option applies configuration to the runner.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   zap.NewNop(),
		Location: time.UTC,
		Parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithLogger injects the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}

// Runner runs registered tasks on their schedules. A task never overlaps
// with itself: a tick that fires while the previous run is still going is
// skipped.
type Runner struct {
	cron    *cron.Cron
	parser  cron.Parser
	logger  *zap.Logger
	metrics *runnerMetrics

	mu    sync.Mutex
	tasks map[string]Task
	ctx   context.Context
	stop  context.CancelFunc
}

// New creates a stopped runner.
func New(opts ...Option) *Runner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger.Named("runner")
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(o.Location),
			cron.WithParser(o.Parser),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		parser:  o.Parser,
		logger:  logger,
		metrics: globalRunnerMetrics(),
		tasks:   make(map[string]Task),
		ctx:     ctx,
		stop:    cancel,
	}
}

// Register schedules t. Names must be unique.
func (r *Runner) Register(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name()]; exists {
		return fmt.Errorf("task %q already registered", t.Name())
	}
	if _, err := r.parser.Parse(t.Schedule()); err != nil {
		return fmt.Errorf("invalid schedule %q for task %q: %w", t.Schedule(), t.Name(), err)
	}
	if _, err := r.cron.AddFunc(t.Schedule(), func() { r.execute(r.ctx, t) }); err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", t.Name(), err)
	}
	r.tasks[t.Name()] = t
	r.logger.Info("task registered", zap.String("task", t.Name()), zap.String("schedule", t.Schedule()))
	return nil
}

// Start begins scheduling in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling, cancels running tasks and waits for them to return
// or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	r.stop()
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the named task once, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return r.execute(ctx, t)
}

func (r *Runner) execute(parent context.Context, t Task) error {
	ctx := parent
	if timeout := t.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.Run(ctx)
	r.metrics.observe(t.Name(), start, err)
	if err != nil {
		r.logger.Error("task failed", zap.String("task", t.Name()), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	}
	r.logger.Debug("task finished", zap.String("task", t.Name()), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
