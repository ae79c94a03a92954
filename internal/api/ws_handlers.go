package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/middleware"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/stage"
)

// Inbound message types from the staff dashboard.
const (
	staffPing             = "ping"
	staffRedirectUser     = "redirect_user"
	staffTerminateSession = "terminate_session"
)

const terminateReason = "Terminated from control room"

// upgrade switches the request to a websocket. The upgrader has already
// written an HTTP error when it fails.
func (router *APIRouter) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	conn, err := router.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		router.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil, false
	}
	return conn, true
}

// handleStaffSocket streams staff events to an authenticated dashboard.
func (router *APIRouter) handleStaffSocket(c *gin.Context) {
	conn, ok := router.upgrade(c)
	if !ok {
		return
	}

	claims, err := router.authority.Validate(middleware.ExtractStaffToken(c), auth.KindAccess)
	if err != nil {
		realtime.CloseUnauthorized(conn, "unauthorized")
		return
	}
	actor := dispatcher.StaffActor(claims)
	logger := router.logger.With(zap.String("channel", realtime.TopicStaff), zap.String("user", claims.Username))

	client := realtime.NewClient(conn, router.hub.Subscribe(realtime.TopicStaff), claims.ExpiresAt.Time, logger)
	greeting := realtime.NewMessage(realtime.TypeConnectionEstablished, "", map[string]any{
		"message": "Connected to control room",
		"user":    claims.Username,
		"role":    claims.Role,
	})
	if err := client.Greet(greeting); err != nil {
		logger.Debug("failed to greet staff client", zap.Error(err))
	}

	logger.Info("staff websocket connected")
	client.Run(router.baseCtx, func(ctx context.Context, msg realtime.Message) *realtime.Message {
		return router.handleStaffMessage(ctx, actor, msg)
	})
	logger.Info("staff websocket disconnected")
}

func (router *APIRouter) handleStaffMessage(ctx context.Context, actor dispatcher.Actor, msg realtime.Message) *realtime.Message {
	switch msg.Type {
	case staffPing:
		return pong()
	case staffRedirectUser:
		id := msg.SessionID
		mode, err := stage.ParseClearMode(msg.StringField("clear_data"))
		if err != nil {
			return socketError(err.Error())
		}
		target := models.Stage(msg.StringField("target_stage"))
		res, err := router.dispatcher.Apply(ctx, actor, id, dispatcher.Navigate{
			Target: target,
			Clear:  mode,
			Reason: msg.StringField("reason"),
		})
		if err != nil {
			return socketError(err.Error())
		}
		reply := realtime.NewMessage(realtime.TypeControlMessage, id, map[string]any{
			"message":    "User redirected to " + string(res.ToStage),
			"from_stage": res.FromStage,
			"to_stage":   res.ToStage,
		})
		return &reply
	case staffTerminateSession:
		id := msg.SessionID
		if _, err := router.dispatcher.Apply(ctx, actor, id, dispatcher.End{Reason: terminateReason}); err != nil {
			return socketError(err.Error())
		}
		reply := realtime.NewMessage(realtime.TypeControlMessage, id, map[string]any{"message": "Session terminated"})
		return &reply
	}
	return socketError("Unknown message type: " + msg.Type)
}

// handleUserSocket connects an end user to their session channel. Anything
// other than a guest token for this exact session closes with 4003.
func (router *APIRouter) handleUserSocket(c *gin.Context) {
	id := c.Param("id")
	conn, ok := router.upgrade(c)
	if !ok {
		return
	}

	claims, err := router.authority.ValidateGuestFor(c.Query("token"), id)
	if err != nil {
		realtime.CloseUnauthorized(conn, "unauthorized")
		return
	}
	logger := router.logger.With(zap.String("channel", "session"), zap.String("session_id", id))

	// Subscribe before going online so no command emitted after the status
	// change is missed.
	sub := router.hub.Subscribe(realtime.SessionTopic(id))
	if err := router.dispatcher.SetUserOnline(router.baseCtx, id, true); err != nil {
		sub.Close()
		logger.Info("rejecting user websocket", zap.Error(err))
		realtime.CloseUnauthorized(conn, "unknown session")
		return
	}

	client := realtime.NewClient(conn, sub, claims.ExpiresAt.Time, logger)
	greeting := realtime.NewMessage(realtime.TypeConnectionEstablished, id, map[string]any{
		"message": "Connected to verification session",
	})
	if err := client.Greet(greeting); err != nil {
		logger.Debug("failed to greet user client", zap.Error(err))
	}

	client.Run(router.baseCtx, func(ctx context.Context, msg realtime.Message) *realtime.Message {
		return router.handleUserMessage(ctx, id, msg)
	})

	// Run has closed sub. Another tab may still hold the session open.
	if router.hub.Count(realtime.SessionTopic(id)) > 0 {
		return
	}
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.dispatcher.SetUserOnline(offCtx, id, false); err != nil {
		logger.Warn("failed to mark user offline", zap.Error(err))
	}
}

func (router *APIRouter) handleUserMessage(ctx context.Context, id string, msg realtime.Message) *realtime.Message {
	if msg.Type == staffPing {
		return pong()
	}
	if !dispatcher.IsActivityKind(msg.Type) {
		return socketError("Unknown message type: " + msg.Type)
	}
	payload := msg.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := router.dispatcher.RecordActivity(ctx, id, msg.Type, payload); err != nil {
		router.logger.Warn("failed to record user activity",
			zap.String("session_id", id), zap.String("type", msg.Type), zap.Error(err))
		return socketError("Failed to record activity")
	}
	return nil
}

func pong() *realtime.Message {
	m := realtime.NewMessage(realtime.TypePong, "", nil)
	return &m
}

func socketError(message string) *realtime.Message {
	m := realtime.NewMessage(realtime.TypeError, "", map[string]any{"message": message})
	return &m
}
