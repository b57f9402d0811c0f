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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// HandleSearch serves POST /search: one-shot product search in knn,
// bm25, or hybrid mode.
//
// # Description
//
// The engine is queried for max(2k, 100) candidates and the response is
// cut to k. "semantic" is accepted as an alias for "knn". Engine
// failures degrade to an empty 200 response so the storefront keeps
// rendering; only bad requests and a missing embedding backend surface
// as errors.
func HandleSearch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()

		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		if req.K <= 0 {
			req.K = 50
		}

		mode := strings.ReplaceAll(strings.ToLower(req.Mode), "semantic", "knn")
		if mode == "" {
			mode = "bm25"
		}
		query := strings.TrimSpace(req.Query)
		candidates := req.K * 2
		if candidates < 100 {
			candidates = 100
		}

		var hits []datatypes.Hit
		var err error
		switch mode {
		case "knn":
			vector, embErr := deps.Embedder.Embed(c.Request.Context(), query)
			if embErr != nil || vector == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Embedding unavailable"})
				return
			}
			hits, err = deps.Search.Semantic(c.Request.Context(), vector, candidates)

		case "bm25":
			hits, err = deps.Search.BM25(c.Request.Context(), query, candidates)

		case "hybrid":
			vector, embErr := deps.Embedder.Embed(c.Request.Context(), query)
			if embErr != nil || vector == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Embedding unavailable"})
				return
			}
			hits, err = deps.Search.Hybrid(c.Request.Context(), vector, query, candidates)

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown mode: %s", req.Mode)})
			return
		}

		ms := float64(time.Since(t0).Microseconds()) / 1000.0
		if err != nil {
			slog.Error("search failed", "query", query, "mode", mode, "error", err)
			c.JSON(http.StatusOK, datatypes.SearchResponse{
				Results: []datatypes.SearchResult{}, SearchTimeMs: ms, Mode: req.Mode,
			})
			return
		}

		if len(hits) > req.K {
			hits = hits[:req.K]
		}
		results := make([]datatypes.SearchResult, 0, len(hits))
		for _, h := range hits {
			results = append(results, datatypes.ResultFromHit(h))
		}

		slog.Info("search completed", "query", query, "mode", mode, "results", len(results), "ms", ms)
		if deps.Metrics != nil {
			deps.Metrics.RequestsTotal.WithLabelValues("search", "ok").Inc()
		}
		c.JSON(http.StatusOK, datatypes.SearchResponse{
			Results:      results,
			TotalFound:   len(results),
			SearchTimeMs: ms,
			Mode:         req.Mode,
		})
	}
}
