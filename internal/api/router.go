package api

import (
	"net/http"

	"authguard/internal/api/handlers"

	"github.com/gin-gonic/gin"
)

// NewRouter wires every HTTP endpoint
func NewRouter(protectionHandler *handlers.ProtectionHandler, systemHandler *handlers.SystemHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/attempts", protectionHandler.RecordFailedAttempt)
		v1.GET("/gate/:address", protectionHandler.CheckGate)

		v1.GET("/addresses/:address", protectionHandler.GetAddress)
		v1.POST("/addresses/:address/unblock", protectionHandler.Unblock)
		v1.POST("/unblock-all", protectionHandler.UnblockAll)
		v1.DELETE("/addresses/:address", protectionHandler.DeleteAddress)
		v1.DELETE("/addresses", protectionHandler.DeleteAll)
		v1.DELETE("/blocked", protectionHandler.DeleteAllBlocked)

		v1.GET("/blocked", protectionHandler.ListBlocked)
		v1.GET("/stats", protectionHandler.GetStats)

		v1.GET("/system", systemHandler.GetSystemStats)
		v1.GET("/system/realtime", systemHandler.GetRealtimeMetrics)
		v1.POST("/system/cleanup", systemHandler.TriggerCleanup)
	}

	return router
}
