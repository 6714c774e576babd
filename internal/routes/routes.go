package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devdeakin/internal/handlers"
	"devdeakin/internal/middleware"
	"devdeakin/internal/utils"
)

func SetupRoutes(
	r *gin.Engine,
	twoFactorHandler *handlers.TwoFactorHandler,
	receipts *utils.ReceiptIssuer, // may be nil
	gatherer prometheus.Gatherer, // may be nil
) *gin.Engine {

	// ---- public
	r.GET("/healthz", handlers.Health)
	r.POST("/send-2fa", twoFactorHandler.SendCode)
	r.POST("/verify-2fa", twoFactorHandler.VerifyCode)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// ---- receipt holders
	if receipts != nil {
		session := r.Group("/2fa", middleware.RequireReceipt(receipts))
		{
			session.GET("/session", twoFactorHandler.Session)
		}
	}

	return r
}
