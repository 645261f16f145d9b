package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Provider is what the handlers need from the outside providers.
type Provider interface {
	MintSession(ctx context.Context) (json.RawMessage, error)
	TurnServers(ctx context.Context) (json.RawMessage, error)
	Position(ctx context.Context) (map[string]any, error)
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("client_token").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("client_token", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "broker").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, provider Provider) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceAgentSessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := NewTokenRateLimiter(cfg.SessionRateLimit, cfg.SessionRateInterval)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Realtime voice broker is running"})
	})

	r.GET("/session", func(c *gin.Context) {
		token := c.GetString("client_token")
		if !limiter.Allow(token) {
			log.Warn().Str("module", "broker").Str("sid", token).Msg("session rate limited")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many session requests"})
			return
		}
		body, err := provider.MintSession(c.Request.Context())
		if err != nil {
			fail(c, "session", err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	})

	r.GET("/turn", func(c *gin.Context) {
		body, err := provider.TurnServers(c.Request.Context())
		if err != nil {
			fail(c, "turn", err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
	})

	r.GET("/iss", func(c *gin.Context) {
		pos, err := provider.Position(c.Request.Context())
		if err != nil {
			fail(c, "iss", err)
			return
		}
		c.JSON(http.StatusOK, pos)
	})

	log.Info().Str("module", "broker").Msg("router setup")
	return r
}

// Handler wraps the engine with allow-all CORS so browser clients on any origin can call it.
func Handler(r *gin.Engine) http.Handler {
	return cors.AllowAll().Handler(r)
}

func fail(c *gin.Context, endpoint string, err error) {
	status := http.StatusInternalServerError
	var up *UpstreamError
	if errors.As(err, &up) {
		status = up.Status
	}
	log.Error().Err(err).Str("module", "broker").Str("endpoint", endpoint).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
