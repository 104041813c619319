package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postpilot/publish-scheduler/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scheduler-api-service",
		})
	})

	schedulerHandler := handler.NewSchedulerHandler(deps)

	scheduler := r.Group("/scheduler")
	scheduler.Use(IdentityMiddleware())
	{
		// POST /scheduler/schedule - schedule a future publication
		scheduler.POST("/schedule", schedulerHandler.Schedule)

		// GET /scheduler/jobs - list the caller's jobs
		scheduler.GET("/jobs", schedulerHandler.ListJobs)

		// GET /scheduler/jobs/:job_id - get one job
		scheduler.GET("/jobs/:job_id", schedulerHandler.GetJob)
	}

	return r
}
