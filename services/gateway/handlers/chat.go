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
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/pipeline"
)

// HandleChatSearch serves POST /chat/search: one conversational turn,
// synchronous delivery.
//
// # Description
//
// Runs the chat pipeline and returns the full response in one body.
// Panics and pipeline-internal failures degrade to a 200 error-state
// response so the chat widget can render the apology instead of
// breaking the conversation.
func HandleChatSearch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		query := strings.TrimSpace(req.Query)
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query empty"})
			return
		}

		slog.Info("chat search", "query", query, "session_id", req.SessionID)

		resp := runChatTurn(deps, c, pipeline.Request{
			Query:            query,
			SessionID:        req.SessionID,
			K:                req.K,
			SelectedCategory: req.SelectedCategory,
			DialogContext:    req.DialogContext,
			History:          req.SearchHistory,
		})
		c.JSON(http.StatusOK, resp)
	}
}

// runChatTurn executes the pipeline with panic containment and records
// the outcome metric.
func runChatTurn(deps *Deps, c *gin.Context, req pipeline.Request) datatypes.ChatSearchResponse {
	var resp datatypes.ChatSearchResponse
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("chat search panicked", "panic", r, "query", req.Query)
				resp = errorChatResponse(req.Query)
			}
		}()
		out := deps.Pipeline.Run(c.Request.Context(), req)
		resp = out.ChatResponse()
	}()

	if deps.Metrics != nil {
		outcome := resp.DialogState
		if outcome == "" {
			outcome = "error"
		}
		deps.Metrics.RequestsTotal.WithLabelValues("chat_search", outcome).Inc()
	}
	return resp
}

// errorChatResponse is the degraded response for unexpected failures.
func errorChatResponse(query string) datatypes.ChatSearchResponse {
	return datatypes.ChatSearchResponse{
		QueryAnalysis: datatypes.QueryAnalysis{
			OriginalQuery: query,
			ExpandedQuery: query,
			Keywords:      []string{},
			Intent:        "error",
		},
		Results:          []datatypes.SearchResult{},
		Recommendations:  []datatypes.ProductRecommendation{},
		AssistantMessage: "Вибачте, виникла помилка. Спробуйте ще раз.",
		DialogState:      "error",
	}
}

// HandleLoadMore serves POST /chat/search/load-more: the next page of a
// stored result set.
//
// A missing or expired session yields the empty batch, never an error.
func HandleLoadMore(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LoadMoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}

		result := deps.Sessions.FetchResults(req.SessionID, req.Offset, req.Limit)
		if result.TotalFound == 0 && len(result.Products) == 0 {
			// Missing or expired session; echo the requested offset.
			c.JSON(http.StatusOK, datatypes.LoadMoreResponse{
				Products: []datatypes.SearchResult{},
				Offset:   req.Offset,
			})
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.RequestsTotal.WithLabelValues("load_more", "ok").Inc()
		}
		c.JSON(http.StatusOK, result)
	}
}
