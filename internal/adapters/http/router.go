package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/VoiceAgent/internal/adapters/signal"
	"github.com/dkeye/VoiceAgent/internal/app/session"
	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionControl is the part of the session the local control surface drives.
type SessionControl interface {
	Start(ctx context.Context) error
	Stop()
	Mute(ctx context.Context) error
	Unmute(ctx context.Context) error
	State() domain.State
	Muted() bool
	Snapshot() session.Snapshot
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess SessionControl, tap *signal.EventTap) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	api.POST("/session/start", func(c *gin.Context) {
		start(c, sess)
	})

	api.POST("/session/stop", func(c *gin.Context) {
		sess.Stop()
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	// toggle mirrors a single connect/disconnect button
	api.POST("/session/toggle", func(c *gin.Context) {
		if sess.State() == domain.StateIdle {
			start(c, sess)
			return
		}
		sess.Stop()
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	api.POST("/mic/mute", func(c *gin.Context) {
		mic(c, sess, sess.Mute)
	})

	api.POST("/mic/unmute", func(c *gin.Context) {
		mic(c, sess, sess.Unmute)
	})

	api.POST("/mic/toggle", func(c *gin.Context) {
		if sess.Muted() {
			mic(c, sess, sess.Unmute)
			return
		}
		mic(c, sess, sess.Mute)
	})

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws events endpoint hit")
		tap.HandleEvents(ctx, c)
	})

	return r
}

func start(c *gin.Context, sess SessionControl) {
	if err := sess.Start(c.Request.Context()); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session start")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": sess.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func mic(c *gin.Context, sess SessionControl, op func(context.Context) error) {
	if err := op(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": sess.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionInactive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMediaUnavailable), errors.Is(err, domain.ErrNoTrackProduced):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCredentialUnavailable),
		errors.Is(err, domain.ErrRelayUnavailable),
		errors.Is(err, domain.ErrNegotiationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
