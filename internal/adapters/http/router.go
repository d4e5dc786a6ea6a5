// Package http exposes the thin outer surface: the WebSocket upgrade
// endpoint plus a few read-only API routes.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SabbirMurad/fanari-backend/internal/adapters/ws"
	"github.com/SabbirMurad/fanari-backend/internal/app/lobby"
	"github.com/SabbirMurad/fanari-backend/internal/auth"
	"github.com/SabbirMurad/fanari-backend/internal/config"
	"github.com/SabbirMurad/fanari-backend/internal/storage"
)

type Deps struct {
	Lobby    *lobby.Lobby
	Verifier auth.Verifier
	Store    storage.Store
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
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
	r.Use(sessions.Sessions("FanariSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/stats", func(c *gin.Context) {
		snap, err := deps.Lobby.Snapshot()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lobby unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions":     len(snap.Sessions),
			"rooms":        len(snap.Rooms),
			"active_calls": len(snap.ActiveCalls),
		})
	})

	api.GET("/presence/:user_id", func(c *gin.Context) {
		if _, err := deps.Verifier.Verify(c.Request, auth.AnyToken()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		presence, err := deps.Store.GetPresence(c.Request.Context(), c.Param("user_id"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("presence lookup")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
			return
		}
		c.JSON(http.StatusOK, presence)
	})

	r.GET("/ws/connect", func(c *gin.Context) {
		handleConnect(ctx, cfg, deps, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// handleConnect authenticates the caller, loads its room memberships, and
// hands the upgraded socket to a connection actor.
func handleConnect(ctx context.Context, cfg *config.Config, deps Deps, c *gin.Context) {
	identity, err := deps.Verifier.Verify(c.Request, auth.AnyToken())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	rooms, err := deps.Store.RoomsForUser(c.Request.Context(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("user_id", identity.UserID).Msg("room load failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}

	log.Info().Str("module", "adapters.http").Str("user_id", identity.UserID).Int("rooms", len(rooms)).Msg("new WS connection")

	conn := ws.NewConn(sock, identity.UserID, rooms, deps.Lobby, deps.Store, ws.Options{
		ReadLimit:     cfg.ReadLimit,
		SendQueue:     cfg.SendBuffer,
		RateLimit:     cfg.RateLimit,
		RateWin:       cfg.RateInterval,
		Heartbeat:     cfg.PingPeriod,
		ClientTimeout: cfg.ClientTimeout,
	})
	if err := conn.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("user_id", identity.UserID).Msg("lobby registration failed")
	}
}
