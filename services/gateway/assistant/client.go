// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant classifies conversational queries and re-ranks
// search candidates through an LLM, with a local keyword ranker as the
// re-ranking fallback.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/observability"
)

// Classifier actions.
const (
	ActionGreeting      = "greeting"
	ActionInvalid       = "invalid"
	ActionClarification = "clarification"
	ActionProductSearch = "product_search"
)

// ErrDisabled is returned by Classify when the LLM is turned off.
var ErrDisabled = errors.New("assistant: gpt chat disabled")

// Analysis is the classifier's verdict on one query.
type Analysis struct {
	Action             string
	Confidence         float64
	AssistantMessage   string
	SemanticSubqueries []string
	Categories         []string
	NeedsUserInput     bool
}

// Config holds the assistant settings.
type Config struct {
	// Enabled gates every LLM call; when false Classify fails with
	// ErrDisabled and Recommend goes straight to the local ranker.
	Enabled          bool
	Model            string
	Temperature      float64
	AnalyzeTimeout   time.Duration
	RecoTimeout      time.Duration
	MaxTokensAnalyze int
	MaxTokensReco    int
}

// chatCompleter is the slice of the OpenAI client the assistant needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ chatCompleter = (*openai.Client)(nil)

// Client talks to the LLM for classification and re-ranking.
//
// # Thread Safety
//
// Stateless apart from the underlying HTTP client; safe for concurrent use.
type Client struct {
	api     chatCompleter
	cfg     Config
	metrics *observability.SearchMetrics
}

// NewClient creates an assistant client. api may be nil when Enabled is
// false.
func NewClient(api chatCompleter, cfg Config, metrics *observability.SearchMetrics) *Client {
	return &Client{api: api, cfg: cfg, metrics: metrics}
}

// =============================================================================
// Query Classification
// =============================================================================

// Classify asks the LLM what the query wants.
//
// # Description
//
// The reply must carry an "action"; everything else is defaulted:
// confidence 0.8, a stock "searching" message, and needs_user_input
// true for the three conversational actions. A missing action is a hard
// error so the pipeline can degrade to its error state.
//
// # Outputs
//
//   - *Analysis: The verdict.
//   - error: ErrDisabled, a transport failure, or a malformed reply.
func (c *Client) Classify(ctx context.Context, query string, history []datatypes.SearchHistoryItem,
	dialogContext map[string]any) (*Analysis, error) {
	if !c.cfg.Enabled {
		return nil, ErrDisabled
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.AnalyzeTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildClassifierPrompt(query, history, dialogContext)},
		},
		Temperature:    float32(c.cfg.Temperature),
		MaxTokens:      c.cfg.MaxTokensAnalyze,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrorsTotal.WithLabelValues("llm").Inc()
		}
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classify: empty completion")
	}

	obj := ExtractJSON(resp.Choices[0].Message.Content)
	action, _ := obj["action"].(string)
	if action == "" {
		return nil, fmt.Errorf("classify: missing action in reply")
	}

	a := &Analysis{
		Action:             action,
		Confidence:         0.8,
		AssistantMessage:   "Шукаю для вас товари...",
		SemanticSubqueries: stringSlice(obj["semantic_subqueries"]),
		Categories:         stringSlice(obj["categories"]),
		NeedsUserInput:     action == ActionGreeting || action == ActionInvalid || action == ActionClarification,
	}
	if v, ok := obj["confidence"].(float64); ok {
		a.Confidence = v
	}
	if v, ok := obj["assistant_message"].(string); ok && v != "" {
		a.AssistantMessage = v
	}
	if v, ok := obj["needs_user_input"].(bool); ok {
		a.NeedsUserInput = v
	}

	slog.Info("query classified", "action", a.Action, "confidence", a.Confidence)
	return a, nil
}

// =============================================================================
// Product Re-Ranking
// =============================================================================

// rerankItem is one candidate as shown to the model.
type rerankItem struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Desc  string `json:"desc"`
}

// Recommend re-ranks candidates and produces an assistant message.
//
// # Description
//
// The top 25 candidates go to the LLM. Replies are filtered to valid
// indices with relevance >= 0.4 and sorted best-first. When fewer than
// 5 recommendations survive and at least 5 products exist, the list is
// backfilled to 7 from the remaining candidates with a normalized
// relevance floor of 0.35. Any failure, and an empty reply, fall back
// to the local ranker; Recommend never fails.
//
// # Outputs
//
//   - []datatypes.ProductRecommendation: Best-first recommendations.
//   - string: Assistant message for the chat client.
func (c *Client) Recommend(ctx context.Context, products []datatypes.SearchResult, query string) ([]datatypes.ProductRecommendation, string) {
	if len(products) == 0 {
		return nil, "На жаль, не знайдено відповідних товарів."
	}
	if !c.cfg.Enabled {
		return LocalRecommendations(products, query)
	}

	shown := products
	if len(shown) > 25 {
		shown = shown[:25]
	}
	items := make([]rerankItem, len(shown))
	for i, p := range shown {
		items[i] = rerankItem{
			Index: i + 1,
			ID:    p.ID,
			Title: p.DisplayTitle(),
			Desc:  truncateRunes(firstNonEmpty(p.DescriptionUA, p.DescriptionRU), 200),
		}
	}
	itemsJSON, err := json.MarshalIndent(items, "", " ")
	if err != nil {
		return LocalRecommendations(products, query)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RecoTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildRerankPrompt(query, string(itemsJSON), len(items))},
		},
		// Lower temperature than classification for steadier picks.
		Temperature:    0.2,
		MaxTokens:      c.cfg.MaxTokensReco,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil || len(resp.Choices) == 0 {
		if c.metrics != nil {
			c.metrics.UpstreamErrorsTotal.WithLabelValues("llm").Inc()
		}
		slog.Warn("llm re-ranking failed, using local ranker", "error", err)
		return LocalRecommendations(products, query)
	}

	obj := ExtractJSON(resp.Choices[0].Message.Content)
	recs := parseRecommendations(obj, products)

	if len(recs) < 5 && len(products) >= 5 {
		slog.Warn("too few recommendations, backfilling", "count", len(recs))
		recs = backfillRecommendations(recs, products)
	}

	msg, _ := obj["assistant_message"].(string)
	if msg == "" {
		msg = fmt.Sprintf("Я підібрав для вас %d варіантів.", len(recs))
	}

	if len(recs) == 0 {
		return LocalRecommendations(products, query)
	}
	slog.Info("llm re-ranking done", "recommended", len(recs), "candidates", len(products))
	return recs, msg
}

// parseRecommendations keeps replies with a valid index and relevance
// >= 0.4, best-first.
func parseRecommendations(obj map[string]any, products []datatypes.SearchResult) []datatypes.ProductRecommendation {
	raw, _ := obj["recommendations"].([]any)
	recs := make([]datatypes.ProductRecommendation, 0, len(raw))

	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		idxF, _ := m["product_index"].(float64)
		idx := int(idxF) - 1
		relevance, _ := m["relevance_score"].(float64)
		if relevance < 0.4 || idx < 0 || idx >= len(products) {
			continue
		}

		prod := products[idx]
		reason, _ := m["reason"].(string)
		if reason == "" {
			reason = "Рекомендовано"
		}
		bucket, _ := m["bucket"].(string)
		if bucket == "" {
			bucket = "good_to_have"
		}
		recs = append(recs, datatypes.ProductRecommendation{
			ProductID:      prod.ID,
			RelevanceScore: relevance,
			Reason:         reason,
			Title:          titleOf(prod),
			Bucket:         bucket,
		})
	}

	sortRecommendations(recs)
	return recs
}

// backfillRecommendations tops the list up to 7 entries from candidates
// the model skipped.
func backfillRecommendations(recs []datatypes.ProductRecommendation, products []datatypes.SearchResult) []datatypes.ProductRecommendation {
	maxScore := 0.0
	for _, p := range products {
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}
	if maxScore <= 0 {
		maxScore = 1.0
	}

	existing := make(map[string]bool, len(recs))
	for _, r := range recs {
		existing[r.ProductID] = true
	}
	for _, prod := range products {
		if len(recs) >= 7 {
			break
		}
		if existing[prod.ID] {
			continue
		}
		recs = append(recs, datatypes.ProductRecommendation{
			ProductID:      prod.ID,
			RelevanceScore: max(0.35, prod.Score/maxScore),
			Reason:         "Потенційно відповідає вашому запиту",
			Title:          titleOf(prod),
			Bucket:         "also_consider",
		})
		existing[prod.ID] = true
	}

	sortRecommendations(recs)
	return recs
}

func sortRecommendations(recs []datatypes.ProductRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RelevanceScore > recs[j].RelevanceScore
	})
}

// =============================================================================
// Helpers
// =============================================================================

func titleOf(p datatypes.SearchResult) *string {
	if p.TitleUA != nil && *p.TitleUA != "" {
		return p.TitleUA
	}
	return p.TitleRU
}

func firstNonEmpty(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
