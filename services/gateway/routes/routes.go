// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ta-da/search-gateway/services/gateway/handlers"
	"github.com/ta-da/search-gateway/services/gateway/middleware"
)

// SetupRoutes registers the gateway's HTTP surface on the router.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {
	origins, allowCredentials := deps.Settings.FrontendOrigins()
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(origins, allowCredentials))
	router.Use(otelgin.Middleware("search-gateway"))

	// Probes and operational endpoints
	router.GET("/health", handlers.HandleHealth(deps))
	router.GET("/live", handlers.HandleLive(deps))
	router.GET("/ready", handlers.HandleReady(deps))
	router.GET("/stats", handlers.HandleStats(deps))
	router.GET("/config", handlers.HandleFrontendConfig())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Search
	router.POST("/search", handlers.HandleSearch(deps))

	// Conversational search
	chat := router.Group("/chat/search")
	{
		chat.POST("", handlers.HandleChatSearch(deps))
		chat.GET("/sse", handlers.HandleChatSSE(deps))
		chat.POST("/load-more", handlers.HandleLoadMore(deps))
	}

	// Embedding cache administration
	router.POST("/cache/clear", handlers.HandleCacheClear(deps))
	router.GET("/cache/stats", handlers.HandleCacheStats(deps))

	// Outward proxies for the storefront
	api := router.Group("/api")
	{
		api.POST("/ta-da/find.gcode", handlers.HandleTadaFind(deps))
		api.GET("/image-proxy", handlers.HandleImageProxy(deps))
	}

	// Search quality logs
	if deps.SearchLogs != nil {
		logs := router.Group("/search-logs")
		{
			logs.GET("/sessions", handlers.HandleSearchLogSessions(deps))
			logs.GET("/session/:session_id", handlers.HandleSearchLogSession(deps))
			logs.GET("/report/:session_id", handlers.HandleSearchLogReport(deps))
			logs.GET("/stats", handlers.HandleSearchLogStats(deps))
		}
	}
}
