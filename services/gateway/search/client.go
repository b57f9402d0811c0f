// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search wraps the Elasticsearch index behind typed kNN, BM25,
// and hybrid query operations.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/observability"
)

// sourceFields is the product projection returned by every query; vector
// fields stay on the server.
var sourceFields = []string{
	"title_ua", "title_ru",
	"description_ua", "description_ru",
	"sku", "good_code", "uktzed",
	"measurement_unit_ua", "vat", "discounted",
	"height", "width", "length", "weight",
	"availability",
}

// fallbackVectorField is tried when the configured field yields nothing.
const fallbackVectorField = "description_vector"

// FusionWeighted and FusionRRF select the hybrid merge strategy.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Config holds the search client settings.
type Config struct {
	IndexName     string
	VectorField   string
	NumCandidates int
	BM25MinScore  float64
	HybridAlpha   float64
	Fusion        string
}

// Client executes queries against the product index.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying Elasticsearch client carries
// its own connection pool.
type Client struct {
	es      *elasticsearch.Client
	cfg     Config
	metrics *observability.SearchMetrics
}

// NewClient creates a search client for the given index.
func NewClient(es *elasticsearch.Client, cfg Config, metrics *observability.SearchMetrics) *Client {
	if cfg.VectorField == "" {
		cfg.VectorField = fallbackVectorField
	}
	if cfg.Fusion == "" {
		cfg.Fusion = FusionWeighted
	}
	return &Client{es: es, cfg: cfg, metrics: metrics}
}

// =============================================================================
// Query Operations
// =============================================================================

// Semantic runs a kNN query over the configured vector field.
//
// # Description
//
// num_candidates is min(configured ceiling, max(100, k*20)). When the
// configured field yields zero hits and is not the fallback field, the
// query is retried once against the fallback.
//
// # Inputs
//
//   - ctx: Bounds the engine round trips.
//   - vector: Query embedding; must match the index mapping's dimension.
//   - k: Number of neighbors requested.
//
// # Outputs
//
//   - []datatypes.Hit: Hits in engine score order; may be empty.
//   - error: Non-nil when the engine rejects the query or is unreachable.
func (c *Client) Semantic(ctx context.Context, vector []float32, k int) ([]datatypes.Hit, error) {
	numCandidates := max(100, k*20)
	if c.cfg.NumCandidates > 0 && c.cfg.NumCandidates < numCandidates {
		numCandidates = c.cfg.NumCandidates
	}

	hits, err := c.knnQuery(ctx, c.cfg.VectorField, vector, k, numCandidates)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && c.cfg.VectorField != fallbackVectorField {
		slog.Warn("semantic search empty, retrying with fallback vector field",
			"field", c.cfg.VectorField, "fallback", fallbackVectorField)
		return c.knnQuery(ctx, fallbackVectorField, vector, k, numCandidates)
	}
	return hits, nil
}

func (c *Client) knnQuery(ctx context.Context, field string, vector []float32, k, numCandidates int) ([]datatypes.Hit, error) {
	body := map[string]any{
		"knn": map[string]any{
			"field":          field,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": sourceFields,
	}
	return c.runSearch(ctx, body)
}

// MultiSemantic fans one kNN query out per labeled vector.
//
// # Description
//
// Queries run in parallel. Nil vectors are skipped; a failed subquery
// maps to an empty hit list so one bad leg never sinks the fan-out.
//
// # Outputs
//
//   - map[string][]datatypes.Hit: Hits keyed by subquery label.
func (c *Client) MultiSemantic(ctx context.Context, vectors []datatypes.LabeledVector, kPerQuery int) map[string][]datatypes.Hit {
	out := make(map[string][]datatypes.Hit, len(vectors))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lv := range vectors {
		if lv.Vector == nil {
			continue
		}
		wg.Add(1)
		go func(lv datatypes.LabeledVector) {
			defer wg.Done()
			hits, err := c.Semantic(ctx, lv.Vector, kPerQuery)
			if err != nil {
				slog.Warn("subquery search failed", "subquery", lv.Label, "error", err)
				hits = nil
			}
			mu.Lock()
			out[lv.Label] = hits
			mu.Unlock()
		}(lv)
	}
	wg.Wait()
	return out
}

// BM25 runs the lexical query with field-weighted boosting.
//
// # Description
//
// Four should-clauses compete: an exact title phrase (highest boost),
// fuzzy title terms, fuzzy description terms, and article-code fields.
// A minimum engine score gates out noise; title and description fields
// are highlighted.
func (c *Client) BM25(ctx context.Context, queryText string, k int) ([]datatypes.Hit, error) {
	body := map[string]any{
		"min_score": c.cfg.BM25MinScore,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{"multi_match": map[string]any{
						"query":  queryText,
						"fields": []string{"title_ua^6", "title_ru^6"},
						"type":   "phrase",
						"boost":  5.0,
					}},
					map[string]any{"multi_match": map[string]any{
						"query":     queryText,
						"fields":    []string{"title_ua^5", "title_ru^5"},
						"type":      "best_fields",
						"fuzziness": "AUTO",
						"boost":     4.0,
					}},
					map[string]any{"multi_match": map[string]any{
						"query":     queryText,
						"fields":    []string{"description_ua^2", "description_ru^2"},
						"type":      "best_fields",
						"fuzziness": "AUTO",
						"boost":     2.0,
					}},
					map[string]any{"multi_match": map[string]any{
						"query":  queryText,
						"fields": []string{"sku^3", "good_code^2", "uktzed^1"},
						"type":   "best_fields",
						"boost":  3.0,
					}},
				},
				"minimum_should_match": 1,
			},
		},
		"size":    k,
		"_source": sourceFields,
		"highlight": map[string]any{
			"fields": map[string]any{
				"title_ua":       map[string]any{},
				"title_ru":       map[string]any{},
				"description_ua": map[string]any{},
				"description_ru": map[string]any{},
			},
		},
	}
	return c.runSearch(ctx, body)
}

// Hybrid runs semantic and lexical legs in parallel and fuses them.
//
// # Description
//
// Each leg retrieves max(2k, 50) candidates so the merge has enough
// overlap to work with; the fused list is cut to k. The fusion strategy
// comes from Config.Fusion.
func (c *Client) Hybrid(ctx context.Context, vector []float32, queryText string, k int) ([]datatypes.Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("hybrid search requires a query vector")
	}
	candidates := max(k*2, 50)

	var (
		wg      sync.WaitGroup
		sem, bm []datatypes.Hit
		semErr  error
		bm25Err error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sem, semErr = c.Semantic(ctx, vector, candidates)
	}()
	go func() {
		defer wg.Done()
		bm, bm25Err = c.BM25(ctx, queryText, candidates)
	}()
	wg.Wait()

	if semErr != nil && bm25Err != nil {
		return nil, fmt.Errorf("hybrid search: both legs failed: %w", semErr)
	}

	if strings.EqualFold(c.cfg.Fusion, FusionRRF) {
		return RRFMerge(sem, bm, k), nil
	}
	return WeightedMerge(sem, bm, k, c.cfg.HybridAlpha), nil
}

// =============================================================================
// Index Introspection
// =============================================================================

// IndexStats summarizes the product index.
type IndexStats struct {
	DocumentsCount int
	IndexSizeBytes int64
	Health         string
}

// Stats fetches document count, on-disk size, and cluster health for the
// configured index. Failures degrade to zeros and "unknown".
func (c *Client) Stats(ctx context.Context) IndexStats {
	out := IndexStats{Health: "unknown"}

	statsRes, err := c.es.Indices.Stats(
		c.es.Indices.Stats.WithContext(ctx),
		c.es.Indices.Stats.WithIndex(c.cfg.IndexName),
	)
	if err == nil {
		defer statsRes.Body.Close()
		var parsed struct {
			Indices map[string]struct {
				Total struct {
					Docs struct {
						Count int `json:"count"`
					} `json:"docs"`
					Store struct {
						SizeInBytes int64 `json:"size_in_bytes"`
					} `json:"store"`
				} `json:"total"`
			} `json:"indices"`
		}
		if !statsRes.IsError() && json.NewDecoder(statsRes.Body).Decode(&parsed) == nil {
			if idx, ok := parsed.Indices[c.cfg.IndexName]; ok {
				out.DocumentsCount = idx.Total.Docs.Count
				out.IndexSizeBytes = idx.Total.Store.SizeInBytes
			}
		}
	} else {
		slog.Error("index stats request failed", "error", err)
	}

	healthRes, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
		c.es.Cluster.Health.WithIndex(c.cfg.IndexName),
	)
	if err == nil {
		defer healthRes.Body.Close()
		var parsed struct {
			Status string `json:"status"`
		}
		if !healthRes.IsError() && json.NewDecoder(healthRes.Body).Decode(&parsed) == nil && parsed.Status != "" {
			out.Health = parsed.Status
		}
	} else {
		slog.Error("cluster health request failed", "error", err)
	}

	return out
}

// Ping reports whether the engine answers at all.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// IndexName returns the configured index.
func (c *Client) IndexName() string { return c.cfg.IndexName }

// =============================================================================
// Transport
// =============================================================================

func (c *Client) runSearch(ctx context.Context, body map[string]any) ([]datatypes.Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.cfg.IndexName},
		Body:  strings.NewReader(string(payload)),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrorsTotal.WithLabelValues("elasticsearch").Inc()
		}
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if c.metrics != nil {
			c.metrics.UpstreamErrorsTotal.WithLabelValues("elasticsearch").Inc()
		}
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 300))
		return nil, fmt.Errorf("search failed (%s): %s", res.Status(), string(snippet))
	}

	var parsed struct {
		Hits struct {
			Hits []datatypes.Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Hits.Hits, nil
}
