// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/omnilytics/omnilytics/services/analytics/handlers"
)

// SetupRoutes registers the analytics service endpoints. uploadLimiter
// throttles the upload endpoint; nil disables throttling.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, uploadLimiter *rate.Limiter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		upload := v1.Group("/sales")
		if uploadLimiter != nil {
			upload.Use(rateLimit(uploadLimiter))
		}
		upload.POST("/upload", h.UploadSales)

		bumpIndex := v1.Group("/sales/bump-index")
		{
			bumpIndex.GET("", h.ListBumpIndex)
			bumpIndex.POST("", h.ManageBumpIndex)
		}

		reports := v1.Group("/reports")
		{
			customers := reports.Group("/customers")
			{
				customers.POST("", h.CustomerReport)
				customers.POST("/details", h.CustomerDetails)
				customers.POST("/by-day", h.NewCustomersByDay)
			}
			products := reports.Group("/products")
			{
				products.POST("", h.ProductReports)
				products.POST("/ranking-ltv", h.RankingLtv)
				products.POST("/rebuy-summary", h.RebuySummary)
				products.POST("/first-buy", h.FirstBuyProducts)
			}
		}
	}
}

// rateLimit rejects requests exceeding the limiter with 429 instead
// of queueing them. Upload clients retry chunks on their own.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "upload rate limit exceeded"})
			return
		}
		c.Next()
	}
}
