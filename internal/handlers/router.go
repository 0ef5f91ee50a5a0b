package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/middleware"
	"github.com/mossy-p/gradecall/internal/signaling"
)

// NewRouter builds the gateway's HTTP routes on top of bus. Redis must be
// connected before requests arrive.
func NewRouter(cfg *config.Config, bus signaling.Transport) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(cfg.JWTSecret)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		// ICE servers (public)
		apiGroup.GET("/ice", ICEServers(cfg.ICE))

		// Calls (requires JWT)
		apiGroup.POST("/calls", auth, CreateCall(bus))
		apiGroup.GET("/calls/:callId", auth, GetCall)
		apiGroup.DELETE("/calls/:callId", auth, EndCall(bus))
	}

	// WebSocket signaling endpoint, token passed as a query parameter
	router.GET("/ws/signal", auth, HandleSignaling(bus))

	return router
}
