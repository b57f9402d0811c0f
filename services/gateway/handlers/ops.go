// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// =============================================================================
// Probes
// =============================================================================

// HandleHealth serves GET /health: overall status plus index and cache
// numbers. Degraded, never failing; monitoring reads the body.
func HandleHealth(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := deps.Search.Stats(c.Request.Context())

		esStatus := "connected"
		appStatus := "healthy"
		if stats.Health == "unknown" {
			esStatus = "disconnected"
			appStatus = "degraded"
		}

		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:         appStatus,
			Elasticsearch:  esStatus,
			Index:          deps.Search.IndexName(),
			DocumentsCount: stats.DocumentsCount,
			CacheSize:      deps.Cache.Len(),
			UptimeSeconds:  deps.uptimeSeconds(),
		})
	}
}

// HandleLive serves GET /live: always 200 while the process runs.
func HandleLive(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "alive",
			"uptime_seconds": deps.uptimeSeconds(),
		})
	}
}

// HandleReady serves GET /ready: 200 only when the dependencies can
// serve traffic.
//
// The index is ready unless its health is unknown or red; the LLM is
// ready when disabled or configured with a key.
func HandleReady(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := deps.Search.Stats(c.Request.Context())
		esReady := stats.Health != "unknown" && stats.Health != "red"

		gptReady := true
		if deps.Settings.EnableGPTChat {
			gptReady = deps.Settings.OpenAIAPIKey != ""
		}

		if esReady && gptReady {
			gpt := "ok"
			if !deps.Settings.EnableGPTChat {
				gpt = "disabled"
			}
			c.JSON(http.StatusOK, gin.H{
				"status":         "ready",
				"elasticsearch":  "ok",
				"gpt":            gpt,
				"uptime_seconds": deps.uptimeSeconds(),
			})
			return
		}

		es := "ok"
		if !esReady {
			es = "unavailable"
		}
		gpt := "ok"
		if !gptReady {
			gpt = "unavailable"
		} else if !deps.Settings.EnableGPTChat {
			gpt = "disabled"
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":         "not_ready",
			"elasticsearch":  es,
			"gpt":            gpt,
			"uptime_seconds": deps.uptimeSeconds(),
		})
	}
}

// =============================================================================
// Stats and Cache
// =============================================================================

// HandleStats serves GET /stats: index and embedding cache statistics.
func HandleStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := deps.Search.Stats(c.Request.Context())
		c.JSON(http.StatusOK, datatypes.StatsResponse{
			Index:              deps.Search.IndexName(),
			DocumentsCount:     stats.DocumentsCount,
			IndexSizeBytes:     stats.IndexSizeBytes,
			Health:             stats.Health,
			EmbeddingCacheSize: deps.Cache.Len(),
			EmbeddingModel:     deps.Settings.EmbeddingModel,
			UptimeSeconds:      deps.uptimeSeconds(),
		})
	}
}

// HandleCacheClear serves POST /cache/clear.
func HandleCacheClear(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Cache.Clear()
		c.JSON(http.StatusOK, gin.H{"message": "Cache cleared"})
	}
}

// HandleCacheStats serves GET /cache/stats. Runs an expiry sweep so the
// reported size reflects live entries only.
func HandleCacheStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		expired := deps.Cache.CleanupExpired()
		c.JSON(http.StatusOK, gin.H{
			"size":            deps.Cache.Len(),
			"capacity":        deps.Cache.Capacity(),
			"ttl_seconds":     deps.Cache.TTL().Seconds(),
			"expired_cleaned": expired,
		})
	}
}

// HandleFrontendConfig serves GET /config: feature flags for the
// storefront widget.
func HandleFrontendConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"feature_chat_sse": true})
	}
}
