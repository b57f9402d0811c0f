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
)

// =============================================================================
// Search Quality Log Endpoints
// =============================================================================

// HandleSearchLogSessions serves GET /search-logs/sessions.
func HandleSearchLogSessions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := deps.SearchLogs.Sessions()
		c.JSON(http.StatusOK, gin.H{"total": len(sessions), "sessions": sessions})
	}
}

// HandleSearchLogSession serves GET /search-logs/session/:session_id.
func HandleSearchLogSession(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		logs := deps.SearchLogs.SessionLogs(sessionID)
		if len(logs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":    sessionID,
			"total_queries": len(logs),
			"queries":       logs,
		})
	}
}

// HandleSearchLogReport serves GET /search-logs/report/:session_id.
func HandleSearchLogReport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		report, ok := deps.SearchLogs.SessionReport(sessionID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// HandleSearchLogStats serves GET /search-logs/stats.
func HandleSearchLogStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.SearchLogs.Stats())
	}
}
