// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP surface: direct and
// conversational search, SSE streaming, pagination, operational probes,
// and the outward proxies.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ta-da/search-gateway/services/gateway/config"
	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/observability"
	"github.com/ta-da/search-gateway/services/gateway/pipeline"
	"github.com/ta-da/search-gateway/services/gateway/search"
	"github.com/ta-da/search-gateway/services/gateway/searchlog"
	"github.com/ta-da/search-gateway/services/gateway/session"
)

// =============================================================================
// Dependency Interfaces
// =============================================================================

// QueryEmbedder produces one embedding per query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchEngine is the slice of the search client the handlers use.
type SearchEngine interface {
	Semantic(ctx context.Context, vector []float32, k int) ([]datatypes.Hit, error)
	BM25(ctx context.Context, queryText string, k int) ([]datatypes.Hit, error)
	Hybrid(ctx context.Context, vector []float32, queryText string, k int) ([]datatypes.Hit, error)
	Stats(ctx context.Context) search.IndexStats
	IndexName() string
}

// ChatPipeline runs one conversational search turn.
type ChatPipeline interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// EmbeddingCache is the cache surface exposed by the ops endpoints.
type EmbeddingCache interface {
	Len() int
	Capacity() int
	TTL() time.Duration
	Clear()
	CleanupExpired() int
}

// SearchLogStore serves the search-quality log endpoints.
type SearchLogStore interface {
	Sessions() []string
	SessionLogs(sessionID string) []searchlog.Entry
	SessionReport(sessionID string) (map[string]any, bool)
	Stats() map[string]any
}

// Deps bundles everything the handlers need. A nil SearchLogs disables
// the search-logs endpoints.
type Deps struct {
	Settings   *config.Settings
	Pipeline   ChatPipeline
	Embedder   QueryEmbedder
	Search     SearchEngine
	Sessions   *session.Store
	Cache      EmbeddingCache
	SearchLogs SearchLogStore
	Metrics    *observability.SearchMetrics
	HTTPClient *http.Client
	StartedAt  time.Time
}

func (d *Deps) uptimeSeconds() float64 {
	return time.Since(d.StartedAt).Seconds()
}
