package main

import (
	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/middleware"
)

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(api.logger))
	router.Use(middleware.SessionAuth(api.sessions, api.cookie.Name, api.logger))

	router.GET("/health", api.healthCheck)

	limited := middleware.RateLimit(api.rateLimiter)

	v1 := router.Group("/api/v1")
	{
		// Generations
		v1.POST("/generations", limited, middleware.QuotaLimit(api.entitlements), api.createGeneration)
		v1.GET("/generations/:id", api.getGeneration)

		// Checkout
		v1.POST("/checkout/sticker", limited, api.createStickerCheckout)
		v1.POST("/checkout/pro", middleware.RequireUser(), api.createProCheckout)

		// Payment processor callbacks
		v1.POST("/webhooks/stripe", api.handleStripeWebhook)

		// Auth
		auth := v1.Group("/auth")
		{
			auth.POST("/login", limited, api.requestLogin)
			auth.GET("/verify", api.verifyLogin)
			auth.GET("/session", api.getSession)
			auth.POST("/logout", api.logout)
		}

		// Operator endpoints
		admin := v1.Group("/admin", middleware.AdminKey(api.adminKey))
		{
			admin.POST("/catalog/:country/refresh", api.refreshCatalog)
			admin.GET("/fulfillment/failures", api.getFailureDepth)
			admin.POST("/fulfillment/replay", api.replayFailures)
		}
	}

	return router
}
