package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"callwatch/internal/config"
	"callwatch/internal/logging"
)

// NewRouter builds the management API. poller may be nil when no polling
// source is configured; hub may be nil to disable the websocket feed.
func NewRouter(store Store, poller CycleRunner, hub *Hub, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(store, poller, logger)
	api := r.Group(cfg.API.BasePath)
	{
		api.POST("/rules", h.CreateRule)
		api.GET("/rules", h.ListRules)
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.POST("/rules/:id/actions", h.CreateAction)
		api.GET("/rules/:id/actions", h.ListActions)
		api.DELETE("/actions/:id", h.DeleteAction)

		api.GET("/events", h.ListEvents)
		api.GET("/alerts", h.ListAlerts)
		api.POST("/poll", h.TriggerPoll)
	}

	if hub != nil {
		r.GET("/ws/alerts", hub.Serve)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
