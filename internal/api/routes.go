package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Entity catalogue and per-entity uploads
		v1.GET("/entities", handler.ListEntities)
		v1.GET("/entities/:entity/template", handler.DownloadTemplate)
		v1.POST("/entities/:entity/preview", handler.Preview)
		v1.POST("/entities/:entity/imports", handler.Upload)

		// Import lifecycle
		v1.GET("/imports/:id", handler.GetStatus)
		v1.GET("/imports/:id/rows", handler.ListRows)
		v1.POST("/imports/:id/commit", handler.Commit)
	}
}

// NewRouter builds the engine with the standard middleware chain.
func NewRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(CORSMiddleware(allowedOrigins))

	SetupRoutes(router, handler)
	return router
}
