package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/adapters/signal"
	"github.com/dkeye/Voicecall/internal/app"
	"github.com/dkeye/Voicecall/internal/config"
	"github.com/dkeye/Voicecall/internal/core"
)

const sessionTokenField = "token"

// SessionTokenMiddleware exposes a token stored in the cookie session to
// the signal controller.
func SessionTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok, ok := sessions.Default(c).Get(sessionTokenField).(string); ok && tok != "" {
			c.Set(signal.SessionTokenKey, tok)
		}
		c.Next()
	}
}

type Deps struct {
	Registry *app.Registry
	Auth     core.Authenticator
	Signal   *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("VoicecallSessions", store))
	r.Use(SessionTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/status", statusHandler(deps.Registry))
	api.POST("/session", createSessionHandler(deps.Auth))
	api.DELETE("/session", deleteSessionHandler())
	api.GET("/ws/signal", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	return r
}

func statusHandler(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := reg.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"onlineUsers": len(stats),
			"users":       stats,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

func createSessionHandler(authn core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		user, err := authn.Authenticate(req.Token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("session rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		s := sessions.Default(c)
		s.Set(sessionTokenField, req.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("session created")
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

func deleteSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		s.Options(sessions.Options{Path: "/", MaxAge: -1})
		if err := s.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
