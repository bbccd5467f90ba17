package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/academicchain/issuance-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, jwtSigningKey string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "issuance-api-service",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	issuanceHandler := handler.NewIssuanceHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// public verification
		v1.GET("/verify", issuanceHandler.Verify)

		authed := v1.Group("")
		authed.Use(AuthMiddleware(jwtSigningKey, deps.Logger))
		{
			credentials := authed.Group("/credentials")
			{
				// POST /api/v1/credentials/issue-bulk - enqueue a batch
				credentials.POST("/issue-bulk", issuanceHandler.IssueBulk)
			}

			jobs := authed.Group("/jobs")
			{
				// GET /api/v1/jobs - list jobs with filtering and pagination
				jobs.GET("", issuanceHandler.ListJobs)

				// GET /api/v1/jobs/:job_id/status - job progress snapshot
				jobs.GET("/:job_id/status", issuanceHandler.GetJobStatus)

				// POST /api/v1/jobs/:job_id/cancel - cancel a job
				jobs.POST("/:job_id/cancel", issuanceHandler.CancelJob)
			}

			// GET /api/v1/events - server-sent progress events
			authed.GET("/events", issuanceHandler.Events)
		}
	}

	return r
}
