// Package httpapi exposes the gateway over HTTP: the payment lifecycle
// endpoints, the per-provider webhook intake, and the operational
// endpoints (health, metrics).
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("payment-gateway"))

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/payments", h.CreatePayment)
	router.GET("/payments/:id", h.GetPayment)
	router.POST("/payments/:id/confirm", h.ConfirmPayment)
	router.POST("/payments/:id/refund", h.RefundPayment)

	router.POST("/webhooks/:provider", h.Webhook)

	return router
}
