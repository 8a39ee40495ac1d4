package http

import (
	"context"

	"github.com/dkeye/Peerchat/internal/adapters/signal"
	"github.com/dkeye/Peerchat/internal/app/orch"
	"github.com/dkeye/Peerchat/internal/config"
	transport "github.com/dkeye/Peerchat/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware gives every client a stable token kept in the
// session cookie. The token owns the rendezvous ids the client claims.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("PeerchatSessions", store))
	r.Use(ClientTokenMiddleware())

	transport.RegisterHealth(r)

	ctrl := signal.NewSignalWSController(o, signal.NewOfferRateLimiter(cfg.OfferRateLimit, cfg.OfferRateInterval))
	if cfg.ReadLimit > 0 {
		ctrl.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		ctrl.PingPeriod = cfg.PingPeriod
	}
	if cfg.SendBuffer > 0 {
		ctrl.SendBuffer = cfg.SendBuffer
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	transport.RegisterPeers(api, o.Registry)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
