package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"attestation-core/internal/handler"
	"attestation-core/internal/handler/response"
	"attestation-core/pkg/monitor"
)

// NewHTTPRouter wires the webhook and operator endpoints.
func NewHTTPRouter(webhook *handler.WebhookHandler, admin *handler.AdminHandler) *gin.Engine {
	r := gin.Default()

	r.Use(monitor.PrometheusMiddleware())

	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// the provider posts verification results here
	r.POST("/cb", webhook.Callback)

	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		adm := api.Group("/admin")
		{
			adm.GET("/transactions/:id", admin.GetTransaction)
			adm.POST("/transactions/:id/requeue", admin.RequeueTransaction)
			adm.GET("/balances", admin.GetBalances)
		}
	}

	return r
}
