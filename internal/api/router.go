// Package api exposes the control room over HTTP and websockets.
package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/logging"
	"github.com/goatkit/controlroom/internal/middleware"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/service"
)

// Deps are the collaborators the router needs. Dispatcher, Auth, Authority
// and Hub are required.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Auth       *service.AuthService
	Authority  *auth.Authority
	// Hub is the local hub websocket clients subscribe to. With a Redis
	// bridge it is the bridge's local side.
	Hub     *realtime.Hub
	CaseIDs dispatcher.CaseIDSource
	Limiter *middleware.RateLimiter
	Config  *config.Config
	Logger  *zap.Logger
	// Context bounds websocket connections; cancelling it closes them.
	Context context.Context
}

// APIRouter holds handler dependencies.
type APIRouter struct {
	dispatcher *dispatcher.Dispatcher
	auth       *service.AuthService
	authority  *auth.Authority
	hub        *realtime.Hub
	caseIDs    dispatcher.CaseIDSource
	limiter    *middleware.RateLimiter
	cfg        *config.Config
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	baseCtx    context.Context
}

// NewAPIRouter validates deps and fills in defaults.
func NewAPIRouter(deps Deps) (*APIRouter, error) {
	if deps.Dispatcher == nil || deps.Auth == nil || deps.Authority == nil || deps.Hub == nil {
		return nil, errors.New("api: dispatcher, auth service, authority and hub are required")
	}
	if deps.Config == nil {
		deps.Config = config.Get()
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter()
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	return &APIRouter{
		dispatcher: deps.Dispatcher,
		auth:       deps.Auth,
		authority:  deps.Authority,
		hub:        deps.Hub,
		caseIDs:    deps.CaseIDs,
		limiter:    deps.Limiter,
		cfg:        deps.Config,
		logger:     deps.Logger.Named("api"),
		upgrader:   realtime.NewUpgrader(deps.Config.Server.AllowedOrigins),
		baseCtx:    deps.Context,
	}, nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) (*gin.Engine, error) {
	router, err := NewAPIRouter(deps)
	if err != nil {
		return nil, err
	}
	engine := gin.New()
	engine.Use(logging.GinRecovery(router.logger), logging.GinLogger(router.logger))
	router.Register(engine)
	return engine, nil
}

// Register adds all routes to r.
func (router *APIRouter) Register(r gin.IRouter) {
	staff := middleware.StaffAuth(router.authority)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", router.handleHealth)

	// End-user flow. Guests are identified by case id and, optionally, a
	// guest token.
	api.POST("/verify-case", middleware.RateLimitByIP(router.limiter, router.cfg.RateLimit.VerifyCasePerHour), router.handleVerifyCase)
	api.POST("/submit-credentials", router.handleSubmitCredentials)
	api.POST("/submit-secret-key", router.handleSubmitSecretKey)
	api.POST("/user-started-kyc", router.handleUserStartedKYC)
	api.POST("/submit-kyc", router.handleSubmitKYC)

	authGroup := api.Group("/auth")
	authGroup.POST("/login", router.handleLogin)
	authGroup.POST("/refresh", router.handleRefresh)
	authGroup.POST("/logout", router.handleLogout)
	authGroup.GET("/me", staff, router.handleMe)

	api.GET("/generate-case-id", staff, router.handleGenerateCaseID)

	sessions := api.Group("/sessions", staff)
	sessions.GET("", router.handleListSessions)
	sessions.POST("", router.handleCreateSession)
	sessions.POST("/bulk-delete", router.handleBulkDelete)
	sessions.GET("/:id", router.handleGetSession)
	sessions.PATCH("/:id", router.handleUpdateSession)
	sessions.DELETE("/:id", router.handleDeleteSession)
	sessions.GET("/:id/logs", router.handleSessionLogs)

	sessions.POST("/:id/accept-login", router.handleAccept(actionLogin))
	sessions.POST("/:id/reject-login", router.handleReject(actionLogin))
	sessions.POST("/:id/accept-otp", router.handleAccept(actionOTP))
	sessions.POST("/:id/reject-otp", router.handleReject(actionOTP))
	sessions.POST("/:id/accept-kyc", router.handleAccept(actionKYC))
	sessions.POST("/:id/reject-kyc", router.handleReject(actionKYC))
	sessions.POST("/:id/navigate", router.handleNavigate)
	admin := middleware.RequireAdmin()
	sessions.POST("/:id/force-complete", admin, router.handleForceComplete)
	sessions.POST("/:id/mark-unsuccessful", admin, router.handleMarkUnsuccessful)
	sessions.POST("/:id/end", router.handleEndSession)
	sessions.POST("/:id/notes", router.handleSaveNotes)

	ws := r.Group("/ws")
	ws.GET("/control-room/", router.handleStaffSocket)
	ws.GET("/session/:id/", router.handleUserSocket)
}
