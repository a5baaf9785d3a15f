package handlers

import (
	"net/http"

	"github.com/enochaseks/sideeye/config"
	"github.com/enochaseks/sideeye/internal/middleware"
	"github.com/enochaseks/sideeye/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Handler serves the room API and the WebSocket signaling bridge.
type Handler struct {
	redis  *redis.Client
	store  realtime.Store
	cfg    *config.Config
	logger logrus.FieldLogger
}

// New creates a Handler. Room metadata lives in client; presence and
// signaling records live in store.
func New(client *redis.Client, store realtime.Store, cfg *config.Config, logger logrus.FieldLogger) *Handler {
	return &Handler{
		redis:  client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(h.logger))

	router.Use(OriginFilter(h.cfg.AllowedOrigins, h.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(h.cfg.JWTSecret)

	api := router.Group("/api")
	{
		api.POST("/auth/login", h.Login)
		api.POST("/rooms", auth, h.CreateRoom)
		api.GET("/rooms/:roomId", h.GetRoom)
		api.DELETE("/rooms/:roomId", auth, h.DeleteRoom)
	}

	ws := router.Group("/ws")
	{
		// Accepts a room code or ID
		ws.GET("/signal/:roomId", auth, h.HandleSignaling)
	}

	return router
}
