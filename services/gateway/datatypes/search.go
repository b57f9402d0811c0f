// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire types shared by the search gateway's
// handlers, pipeline, and upstream clients.
package datatypes

import "strings"

// =============================================================================
// Search Engine Types
// =============================================================================

// ProductSource is the indexed product record as stored in the search engine.
type ProductSource struct {
	TitleUA           *string  `json:"title_ua,omitempty"`
	TitleRU           *string  `json:"title_ru,omitempty"`
	DescriptionUA     *string  `json:"description_ua,omitempty"`
	DescriptionRU     *string  `json:"description_ru,omitempty"`
	SKU               *string  `json:"sku,omitempty"`
	GoodCode          *string  `json:"good_code,omitempty"`
	UKTZED            *string  `json:"uktzed,omitempty"`
	MeasurementUnitUA *string  `json:"measurement_unit_ua,omitempty"`
	VAT               *string  `json:"vat,omitempty"`
	Discounted        *bool    `json:"discounted,omitempty"`
	Height            *float64 `json:"height,omitempty"`
	Width             *float64 `json:"width,omitempty"`
	Length            *float64 `json:"length,omitempty"`
	Weight            *float64 `json:"weight,omitempty"`
	Availability      *bool    `json:"availability,omitempty"`
}

// Hit is a single search engine hit: id, relevance score, source record,
// and optional per-field highlight snippets.
type Hit struct {
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    ProductSource       `json:"_source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// LabeledVector pairs a subquery label with its embedding for fan-out search.
type LabeledVector struct {
	Label  string
	Vector []float32
}

// =============================================================================
// Outbound Result Types
// =============================================================================

// SearchResult is the outbound product shape. Score carries the fused or
// weighted value, not the engine's native score.
type SearchResult struct {
	ID                string              `json:"id"`
	Score             float64             `json:"score"`
	TitleUA           *string             `json:"title_ua,omitempty"`
	TitleRU           *string             `json:"title_ru,omitempty"`
	DescriptionUA     *string             `json:"description_ua,omitempty"`
	DescriptionRU     *string             `json:"description_ru,omitempty"`
	SKU               *string             `json:"sku,omitempty"`
	GoodCode          *string             `json:"good_code,omitempty"`
	UKTZED            *string             `json:"uktzed,omitempty"`
	MeasurementUnitUA *string             `json:"measurement_unit_ua,omitempty"`
	VAT               *string             `json:"vat,omitempty"`
	Discounted        *bool               `json:"discounted,omitempty"`
	Height            *float64            `json:"height,omitempty"`
	Width             *float64            `json:"width,omitempty"`
	Length            *float64            `json:"length,omitempty"`
	Weight            *float64            `json:"weight,omitempty"`
	Availability      bool                `json:"availability"`
	Highlight         map[string][]string `json:"highlight,omitempty"`
}

// ResultFromHit converts an engine hit into the outbound result shape.
//
// Availability defaults to true when the source record omits it.
func ResultFromHit(h Hit) SearchResult {
	availability := true
	if h.Source.Availability != nil {
		availability = *h.Source.Availability
	}
	return SearchResult{
		ID:                h.ID,
		Score:             h.Score,
		TitleUA:           h.Source.TitleUA,
		TitleRU:           h.Source.TitleRU,
		DescriptionUA:     h.Source.DescriptionUA,
		DescriptionRU:     h.Source.DescriptionRU,
		SKU:               h.Source.SKU,
		GoodCode:          h.Source.GoodCode,
		UKTZED:            h.Source.UKTZED,
		MeasurementUnitUA: h.Source.MeasurementUnitUA,
		VAT:               h.Source.VAT,
		Discounted:        h.Source.Discounted,
		Height:            h.Source.Height,
		Width:             h.Source.Width,
		Length:            h.Source.Length,
		Weight:            h.Source.Weight,
		Availability:      availability,
		Highlight:         h.Highlight,
	}
}

// DisplayTitle returns the Ukrainian title, falling back to Russian.
func (r SearchResult) DisplayTitle() string {
	if r.TitleUA != nil && *r.TitleUA != "" {
		return *r.TitleUA
	}
	if r.TitleRU != nil {
		return *r.TitleRU
	}
	return ""
}

// CombinedText joins every available title and description, lowercased,
// for keyword matching.
func (r SearchResult) CombinedText() string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{r.TitleUA, r.TitleRU, r.DescriptionUA, r.DescriptionRU} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// =============================================================================
// Direct Search Endpoint Types
// =============================================================================

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query    string  `json:"query" binding:"required,min=2,max=500"`
	K        int     `json:"k"`
	MinScore float64 `json:"min_score"`
	Mode     string  `json:"mode"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalFound   int            `json:"total_found"`
	SearchTimeMs float64        `json:"search_time_ms"`
	Mode         string         `json:"mode"`
}

// =============================================================================
// Operational Endpoint Types
// =============================================================================

type HealthResponse struct {
	Status         string  `json:"status"`
	Elasticsearch  string  `json:"elasticsearch"`
	Index          string  `json:"index"`
	DocumentsCount int     `json:"documents_count"`
	CacheSize      int     `json:"cache_size"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

type StatsResponse struct {
	Index              string  `json:"index"`
	DocumentsCount     int     `json:"documents_count"`
	IndexSizeBytes     int64   `json:"index_size_bytes"`
	Health             string  `json:"health"`
	EmbeddingCacheSize int     `json:"embedding_cache_size"`
	EmbeddingModel     string  `json:"embedding_model"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// TadaFindRequest is the body of the outward product-detail proxy.
type TadaFindRequest struct {
	ShopID       string `json:"shop_id"`
	GoodCode     string `json:"good_code" binding:"required"`
	UserLanguage string `json:"user_language"`
}
