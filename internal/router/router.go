package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/uxlensHQ/uxlens/internal/collector"
	"github.com/uxlensHQ/uxlens/internal/db"
	"github.com/uxlensHQ/uxlens/internal/middleware"
)

// New assembles the collector's HTTP surface. Ingestion must accept posts
// from any tracked page, so CORS stays wide open; per-project Origin
// enforcement happens inside the ingest handler.
func New(database *db.DB, notify collector.FeedbackNotifier) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	r.Use(middleware.Auth())

	r.GET("/health", func(c *gin.Context) {
		sqlDB, _ := database.DB.DB()
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "unhealthy", "database": "down", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "healthy", "database": "up"})
	})

	api := r.Group("/api")
	{
		collector.RegisterRoutes(api, database.DB, notify)
	}

	return r
}
