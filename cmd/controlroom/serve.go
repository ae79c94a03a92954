package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/api"
	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/database"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/logging"
	"github.com/goatkit/controlroom/internal/middleware"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/runner"
	"github.com/goatkit/controlroom/internal/runner/tasks"
	"github.com/goatkit/controlroom/internal/service"
	"github.com/goatkit/controlroom/internal/validation"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations on startup")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, atom, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	config.Watch(func(next *config.Config) {
		atom.SetLevel(logging.ParseLevel(next.Log.Level))
		logger.Info("config reloaded", zap.String("log_level", next.Log.Level))
	}, func(err error) {
		logger.Warn("ignoring invalid config change", zap.Error(err))
	})

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, db); err != nil {
		logger.Warn("pool metrics not registered", zap.Error(err))
	}

	secret, err := authSecret(cfg, logger)
	if err != nil {
		return err
	}
	authority, err := auth.NewAuthority(auth.Options{
		Secret:     secret,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		GuestTTL:   cfg.Auth.GuestTTL,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(cfg.Realtime.BufferSize)
	var publisher realtime.Publisher = hub
	var bridge *realtime.RedisBridge
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		bridge = realtime.NewRedisBridge(client, cfg.Redis.Channel, hub, logger)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		publisher = bridge
		logger.Info("realtime fan-out via redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	sessions := repository.NewSessionRepository(db)
	caseIDs := service.NewCaseIDGenerator(sessions)
	validator, err := validation.NewValidator()
	if err != nil {
		return err
	}
	d, err := dispatcher.New(dispatcher.Options{
		Sessions:  sessions,
		Logs:      repository.NewSessionLogRepository(db),
		Publisher: publisher,
		CaseIDs:   caseIDs,
		Tokens:    authority,
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter()
	defer limiter.Stop()

	engine, err := api.NewRouter(api.Deps{
		Dispatcher: d,
		Auth:       service.NewAuthService(repository.NewStaffRepository(db), authority),
		Authority:  authority,
		Hub:        hub,
		CaseIDs:    caseIDs,
		Limiter:    limiter,
		Config:     cfg,
		Logger:     logger,
		Context:    ctx,
	})
	if err != nil {
		return err
	}

	jobs := runner.New(runner.WithLogger(logger))
	expiry := tasks.NewSessionExpiryTask(sessions, d, cfg.Session, logger)
	if expiry.Enabled() {
		if err := jobs.Register(expiry); err != nil {
			return err
		}
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control room listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("runner stop: %w", err))
	}
	if bridge != nil {
		bridge.Wait()
	}
	return errors.Join(errs...)
}

// authSecret returns the configured signing secret. Development runs
// without one get a random per-process secret.
func authSecret(cfg *config.Config, logger *zap.Logger) ([]byte, error) {
	if cfg.Auth.Secret != "" {
		return []byte(cfg.Auth.Secret), nil
	}
	if !cfg.IsDev() {
		return nil, errors.New("auth.secret is required")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	logger.Warn("auth.secret not set; using an ephemeral secret, tokens will not survive a restart")
	return secret, nil
}
