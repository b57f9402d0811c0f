// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// =============================================================================
// Chat Search Types
// =============================================================================

// SearchHistoryItem is one prior query in the client-carried history window.
type SearchHistoryItem struct {
	Query        string   `json:"query"`
	Keywords     []string `json:"keywords"`
	Timestamp    float64  `json:"timestamp"`
	ResultsCount int      `json:"results_count"`
}

// ChatSearchRequest is the body of POST /chat/search.
type ChatSearchRequest struct {
	Query            string              `json:"query" binding:"required,min=1,max=500"`
	SearchHistory    []SearchHistoryItem `json:"search_history"`
	SessionID        string              `json:"session_id" binding:"required"`
	K                int                 `json:"k"`
	DialogContext    map[string]any      `json:"dialog_context"`
	SelectedCategory string              `json:"selected_category"`
}

// LoadMoreRequest is the body of POST /chat/search/load-more.
type LoadMoreRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Offset    int    `json:"offset" binding:"gte=0"`
	Limit     int    `json:"limit"`
}

// LoadMoreResponse is one pagination batch from the session store.
//
// Offset is the index just past the returned slice, i.e. the next offset
// to request. A missing or expired session yields the empty batch.
type LoadMoreResponse struct {
	Products   []SearchResult `json:"products"`
	Offset     int            `json:"offset"`
	HasMore    bool           `json:"has_more"`
	TotalFound int            `json:"total_found"`
}

// QueryAnalysis echoes how the pipeline interpreted the query.
type QueryAnalysis struct {
	OriginalQuery      string   `json:"original_query"`
	ExpandedQuery      string   `json:"expanded_query"`
	Keywords           []string `json:"keywords"`
	ContextUsed        bool     `json:"context_used"`
	Intent             string   `json:"intent"`
	SemanticSubqueries []string `json:"semantic_subqueries,omitempty"`
}

// ProductRecommendation is a re-ranked candidate with an explanation.
type ProductRecommendation struct {
	ProductID      string  `json:"product_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Reason         string  `json:"reason"`
	Title          *string `json:"title,omitempty"`
	Bucket         string  `json:"bucket,omitempty"`
}

// CategoryOption is one entry of the faceted categories payload.
type CategoryOption struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Special bool   `json:"special,omitempty"`
}

// ActionButton is a tappable action offered to the chat client.
type ActionButton struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Value   string `json:"value"`
	Label   string `json:"label"`
	Emoji   string `json:"emoji,omitempty"`
	Count   int    `json:"count,omitempty"`
	Special string `json:"special,omitempty"`
}

// ChatSearchResponse is the full conversational search response, returned
// by POST /chat/search and as the final SSE payload.
type ChatSearchResponse struct {
	QueryAnalysis    QueryAnalysis           `json:"query_analysis"`
	Results          []SearchResult          `json:"results"`
	Recommendations  []ProductRecommendation `json:"recommendations"`
	SearchTimeMs     float64                 `json:"search_time_ms"`
	ContextUsed      bool                    `json:"context_used"`
	AssistantMessage string                  `json:"assistant_message,omitempty"`
	DialogState      string                  `json:"dialog_state,omitempty"`
	DialogContext    map[string]any          `json:"dialog_context,omitempty"`
	NeedsUserInput   bool                    `json:"needs_user_input"`
	Actions          []ActionButton          `json:"actions,omitempty"`
	Categories       []CategoryOption        `json:"categories,omitempty"`
}

// =============================================================================
// Base64 Query Parameter Decoding
// =============================================================================

// decodeURLSafeB64 decodes URL-safe base64 (padding optional) into raw JSON.
func decodeURLSafeB64(b64 string) ([]byte, bool) {
	if b64 == "" {
		return nil, false
	}
	padded := b64 + strings.Repeat("=", (4-len(b64)%4)%4)
	raw, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// DecodeDialogContext decodes the dialog_context_b64 SSE query parameter.
//
// Undecodable input is ignored and yields nil; the stream must open even
// when the client sends garbage.
func DecodeDialogContext(b64 string) map[string]any {
	raw, ok := decodeURLSafeB64(b64)
	if !ok {
		return nil
	}
	var ctx map[string]any
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil
	}
	return ctx
}

// DecodeSearchHistory decodes the search_history_b64 SSE query parameter.
//
// Items without a query are skipped; undecodable input yields nil.
func DecodeSearchHistory(b64 string) []SearchHistoryItem {
	raw, ok := decodeURLSafeB64(b64)
	if !ok {
		return nil
	}
	var items []SearchHistoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := items[:0]
	for _, it := range items {
		if it.Query != "" {
			out = append(out, it)
		}
	}
	return out
}

// ClarificationAsked reports whether the client-carried dialog context says
// the previous turn already asked for clarification.
func ClarificationAsked(dialogContext map[string]any) bool {
	if dialogContext == nil {
		return false
	}
	v, ok := dialogContext["clarification_asked"].(bool)
	return ok && v
}
