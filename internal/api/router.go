package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"smartmess-backend/config"
	"smartmess-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, handler *Handler) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	if handler.cache == nil {
		handler.cache = mw.NewResponseCache(cfg.CacheTTL())
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := handler.cache.Middleware()

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	api.Use(rateLimiter)
	{
		api.POST("/predict", handler.Predict)
		api.POST("/train", handler.Train)

		api.GET("/manager-info", caching, handler.GetManagerInfo)
		api.GET("/analytics", caching, handler.GetAnalytics)

		api.GET("/reviews", handler.GetReviews)
		api.POST("/reviews", handler.SubmitReview)

		api.GET("/attendance", handler.GetAttendance)
		api.POST("/attendance", handler.MarkAttendance)
		api.POST("/qr-codes", handler.CreateQRCode)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
