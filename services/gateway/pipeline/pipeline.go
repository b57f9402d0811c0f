// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the conversational search flow: validate,
// classify, fan out semantic subqueries, merge, threshold, categorize,
// re-rank, and assemble the chat response.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ta-da/search-gateway/services/gateway/assistant"
	"github.com/ta-da/search-gateway/services/gateway/category"
	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/observability"
	"github.com/ta-da/search-gateway/services/gateway/searchlog"
)

var tracer trace.Tracer = otel.Tracer("tada.gateway.pipeline")

// =============================================================================
// Dialog States
// =============================================================================

const (
	StateValidationError  = "validation_error"
	StateError            = "error"
	StateGreeting         = "greeting"
	StateInvalidQuery     = "invalid_query"
	StateClarification    = "clarification"
	StateNoResults        = "no_results"
	StateFinalResults     = "final_results"
	StateCategoryNotFound = "category_not_found"
)

// User-facing fallback messages.
const (
	msgInternalError    = "Вибачте, виникла помилка. Спробуйте ще раз."
	msgEmbeddingFailed  = "Не вдалося обробити запит. Спробуйте інше формулювання."
	msgNoResults        = "На жаль, не знайдено товарів за вашим запитом. Спробуйте інше формулювання або оберіть категорію з меню."
	msgRelaxedPrefix    = "Не знайшлося точних збігів, але ось схожі товари: "
	msgDefaultReco      = "Ось підібрані товари за вашим запитом."
	msgCategoryNotFound = " Обрана категорія недоступна — показую всі результати."
	msgStatusSearching  = "Шукаю товари..."
	msgStatusRecommend  = "Даю рекомендації..."
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Embedder turns texts into vectors; failed slots come back nil.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Searcher fans labeled vectors out to the engine.
type Searcher interface {
	MultiSemantic(ctx context.Context, vectors []datatypes.LabeledVector, kPerQuery int) map[string][]datatypes.Hit
}

// Assistant classifies queries and re-ranks candidates.
type Assistant interface {
	Classify(ctx context.Context, query string, history []datatypes.SearchHistoryItem, dialogContext map[string]any) (*assistant.Analysis, error)
	Recommend(ctx context.Context, products []datatypes.SearchResult, query string) ([]datatypes.ProductRecommendation, string)
}

// SessionSink persists paginated results and the rolling search history.
type SessionSink interface {
	StoreResults(sessionID string, results []datatypes.SearchResult, totalFound int, dialogContext map[string]any)
	AddSearch(query string, keywords []string, resultsCount int)
}

// QueryLogger records one search-quality entry per executed query.
type QueryLogger interface {
	LogQuery(e searchlog.Entry) error
}

// CategorizeFunc buckets candidates into keyword categories.
type CategorizeFunc func(products []datatypes.SearchResult) ([]string, map[string][]string)

// StatusFunc receives coarse progress notifications for streaming
// delivery. May be nil.
type StatusFunc func(statusType, message string)

// =============================================================================
// Pipeline
// =============================================================================

// Config holds the ranking knobs.
type Config struct {
	// SubqueryWeightDecay multiplies each subquery after the first:
	// weight = decay^index.
	SubqueryWeightDecay float64
	// MaxKPerSubquery caps the per-subquery fetch size.
	MaxKPerSubquery int
	// MinScoreAbsolute anchors the adaptive threshold floor.
	MinScoreAbsolute float64
	// MaxDisplayItems caps how many products the chat response carries.
	MaxDisplayItems int
}

// Request is one conversational search turn.
type Request struct {
	Query            string
	SessionID        string
	K                int
	SelectedCategory string
	DialogContext    map[string]any
	History          []datatypes.SearchHistoryItem
	Status           StatusFunc
}

// Outcome is everything a delivery surface needs to answer the turn.
type Outcome struct {
	State            string
	Action           string
	AssistantMessage string
	Results          []datatypes.SearchResult
	Recommendations  []datatypes.ProductRecommendation
	Categories       []datatypes.CategoryOption
	Actions          []datatypes.ActionButton
	DialogContext    map[string]any
	QueryAnalysis    datatypes.QueryAnalysis
	SearchTimeMs     float64
}

// ChatResponse converts the outcome into the wire response shape.
func (o *Outcome) ChatResponse() datatypes.ChatSearchResponse {
	return datatypes.ChatSearchResponse{
		QueryAnalysis:    o.QueryAnalysis,
		Results:          o.Results,
		Recommendations:  o.Recommendations,
		SearchTimeMs:     o.SearchTimeMs,
		ContextUsed:      o.QueryAnalysis.ContextUsed,
		AssistantMessage: o.AssistantMessage,
		DialogState:      o.State,
		DialogContext:    o.DialogContext,
		NeedsUserInput:   o.NeedsUserInput(),
		Actions:          o.Actions,
		Categories:       o.Categories,
	}
}

// NeedsUserInput reports whether the turn ended on a conversational
// action that waits for the user.
func (o *Outcome) NeedsUserInput() bool {
	switch o.Action {
	case assistant.ActionGreeting, assistant.ActionInvalid, assistant.ActionClarification:
		return true
	}
	return false
}

// Pipeline orchestrates one conversational search turn end to end.
type Pipeline struct {
	cfg        Config
	assistant  Assistant
	embedder   Embedder
	searcher   Searcher
	sessions   SessionSink
	categorize CategorizeFunc
	queryLog   QueryLogger
	metrics    *observability.SearchMetrics
}

// New wires the pipeline. queryLog may be nil to disable quality logging.
func New(cfg Config, a Assistant, e Embedder, s Searcher, sess SessionSink,
	cat CategorizeFunc, ql QueryLogger, m *observability.SearchMetrics) *Pipeline {
	if cfg.SubqueryWeightDecay <= 0 {
		cfg.SubqueryWeightDecay = 0.9
	}
	if cfg.MaxKPerSubquery <= 0 {
		cfg.MaxKPerSubquery = 30
	}
	if cfg.MinScoreAbsolute <= 0 {
		cfg.MinScoreAbsolute = 0.35
	}
	if cfg.MaxDisplayItems <= 0 {
		cfg.MaxDisplayItems = 10
	}
	if cat == nil {
		cat = category.Categorize
	}
	return &Pipeline{
		cfg: cfg, assistant: a, embedder: e, searcher: s,
		sessions: sess, categorize: cat, queryLog: ql, metrics: m,
	}
}

// Run executes the full turn.
//
// # Description
//
// Always returns a usable outcome; upstream failures degrade to the
// error and no_results states instead of surfacing as errors.
func (p *Pipeline) Run(ctx context.Context, req Request) *Outcome {
	ctx, span := tracer.Start(ctx, "ChatSearch")
	defer span.End()

	started := time.Now()
	query := strings.TrimSpace(req.Query)
	if req.K <= 0 {
		req.K = 50
	}
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("k", req.K),
	)

	out := &Outcome{
		State:  StateFinalResults,
		Action: assistant.ActionProductSearch,
		QueryAnalysis: datatypes.QueryAnalysis{
			OriginalQuery: query,
			ExpandedQuery: query,
			ContextUsed:   len(req.History) > 0,
			Intent:        "product_search",
		},
	}

	if ok, msg := validateQuery(query); !ok {
		out.State = StateValidationError
		out.Action = assistant.ActionInvalid
		out.AssistantMessage = msg
		out.SearchTimeMs = msSince(started)
		return out
	}

	// ---- Classification --------------------------------------------------

	analysis, err := p.classify(ctx, query, req.History, req.DialogContext)
	if err != nil {
		slog.Error("query classification failed", "error", err)
		out.State = StateError
		out.Action = "error"
		out.AssistantMessage = msgInternalError
		out.SearchTimeMs = msSince(started)
		return out
	}

	out.Action = analysis.Action
	out.AssistantMessage = analysis.AssistantMessage

	switch analysis.Action {
	case assistant.ActionGreeting:
		out.State = StateGreeting
		out.SearchTimeMs = msSince(started)
		return out
	case assistant.ActionInvalid:
		out.State = StateInvalidQuery
		out.SearchTimeMs = msSince(started)
		return out
	case assistant.ActionClarification:
		out.State = StateClarification
		out.DialogContext = map[string]any{
			"clarification_asked":  true,
			"categories_suggested": analysis.Categories,
		}
		out.Actions = clarificationActions(analysis.Categories)
		out.SearchTimeMs = msSince(started)
		return out
	}

	// ---- Embedding fan-out -----------------------------------------------

	subqueries := analysis.SemanticSubqueries
	if len(subqueries) == 0 {
		subqueries = []string{query}
	}
	out.QueryAnalysis.SemanticSubqueries = subqueries

	notify(req.Status, "searching", msgStatusSearching)

	vectors := p.embedSubqueries(ctx, subqueries)
	if len(vectors) == 0 {
		slog.Error("no subquery produced an embedding", "query", query)
		out.State = StateError
		out.Action = "error"
		out.AssistantMessage = msgEmbeddingFailed
		out.SearchTimeMs = msSince(started)
		return out
	}

	kPerSubquery := p.kPerSubquery(len(vectors))

	searchStart := time.Now()
	hitsByLabel := p.searcher.MultiSemantic(ctx, vectors, kPerSubquery)
	p.observeStage("search", searchStart)

	// ---- Weighted merge + adaptive threshold -----------------------------

	merged := p.mergeSubqueryHits(vectors, hitsByLabel)
	maxScore := 0.0
	if len(merged) > 0 {
		maxScore = merged[0].Score
	}

	adaptiveMin, dynamic, threshold := p.thresholds(len(merged), maxScore)

	candidates := filterByScore(merged, threshold)
	relaxed := false
	if len(candidates) == 0 && len(merged) > 0 {
		relaxed = true
		candidates = filterByScore(merged, threshold*0.5)
		if len(candidates) > 30 {
			candidates = candidates[:30]
		}
		slog.Info("threshold relaxed", "query", query, "kept", len(candidates))
	}

	keywords := queryKeywords(query)
	out.QueryAnalysis.Keywords = keywords

	if len(candidates) == 0 {
		out.State = StateNoResults
		out.AssistantMessage = msgNoResults
		out.QueryAnalysis.Intent = "product_search_no_results"
		out.DialogContext = map[string]any{
			"no_results":     true,
			"original_query": query,
		}
		out.SearchTimeMs = msSince(started)
		p.logQuery(req, out, subqueries, len(merged), nil, maxScore, adaptiveMin, dynamic, threshold)
		return out
	}

	// ---- Categorize + re-rank --------------------------------------------

	catInput := candidates
	if len(catInput) > 30 {
		catInput = catInput[:30]
	}
	_, idBuckets := p.categorize(catInput)

	notify(req.Status, "recommending", msgStatusRecommend)

	recoInput := candidates
	if len(recoInput) > 25 {
		recoInput = recoInput[:25]
	}
	rerankStart := time.Now()
	recommendations, recoMessage := p.assistant.Recommend(ctx, recoInput, query)
	p.observeStage("rerank", rerankStart)
	if recoMessage == "" {
		recoMessage = msgDefaultReco
	}
	if relaxed {
		recoMessage = msgRelaxedPrefix + recoMessage
	}

	// ---- Final ordering ---------------------------------------------------

	byID := make(map[string]datatypes.SearchResult, len(candidates))
	for _, r := range candidates {
		byID[r.ID] = r
	}

	var recoIDs []string
	allOrdered := make([]datatypes.SearchResult, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, rec := range recommendations {
		r, ok := byID[rec.ProductID]
		if !ok || seen[rec.ProductID] {
			continue
		}
		recoIDs = append(recoIDs, rec.ProductID)
		allOrdered = append(allOrdered, r)
		seen[rec.ProductID] = true
	}
	for _, r := range candidates {
		if !seen[r.ID] {
			allOrdered = append(allOrdered, r)
		}
	}
	if len(recoIDs) > 0 {
		if idBuckets == nil {
			idBuckets = map[string][]string{}
		}
		idBuckets[category.RecommendedCode] = recoIDs
	}

	state := StateFinalResults
	var filteredCount any
	var currentFilter any
	if req.SelectedCategory != "" {
		if allowed, ok := idBuckets[req.SelectedCategory]; ok {
			allowedSet := make(map[string]bool, len(allowed))
			for _, id := range allowed {
				allowedSet[id] = true
			}
			filtered := allOrdered[:0:0]
			for _, r := range allOrdered {
				if allowedSet[r.ID] {
					filtered = append(filtered, r)
				}
			}
			allOrdered = filtered
			currentFilter = req.SelectedCategory
			filteredCount = len(filtered)
		} else {
			recoMessage += msgCategoryNotFound
			state = StateCategoryNotFound
		}
	}

	maxDisplay := req.K
	if maxDisplay > p.cfg.MaxDisplayItems {
		maxDisplay = p.cfg.MaxDisplayItems
	}
	final := allOrdered
	if len(final) > maxDisplay {
		final = final[:maxDisplay]
	}

	payload := category.Payload(idBuckets)

	out.State = state
	out.AssistantMessage = recoMessage
	out.Results = final
	out.Recommendations = recommendations
	out.Categories = payload
	out.Actions = categoryActions(payload)
	out.DialogContext = map[string]any{
		"original_query":       query,
		"available_categories": categoryCodes(payload),
		"category_buckets":     idBuckets,
		"current_filter":       currentFilter,
		"filtered_count":       filteredCount,
	}
	out.SearchTimeMs = msSince(started)

	if p.sessions != nil {
		p.sessions.StoreResults(req.SessionID, allOrdered, len(candidates), map[string]any{})
		p.sessions.AddSearch(query, keywords, len(final))
	}
	p.logQuery(req, out, subqueries, len(merged), candidates, maxScore, adaptiveMin, dynamic, threshold)

	return out
}

// =============================================================================
// Stages
// =============================================================================

func (p *Pipeline) classify(ctx context.Context, query string, history []datatypes.SearchHistoryItem,
	dialogContext map[string]any) (*assistant.Analysis, error) {
	start := time.Now()
	defer p.observeStage("classify", start)
	return p.assistant.Classify(ctx, query, history, dialogContext)
}

// embedSubqueries embeds the batch and keeps only subqueries whose
// embedding succeeded, preserving order.
func (p *Pipeline) embedSubqueries(ctx context.Context, subqueries []string) []datatypes.LabeledVector {
	start := time.Now()
	defer p.observeStage("embed", start)

	vecs := p.embedder.EmbedBatch(ctx, subqueries)
	out := make([]datatypes.LabeledVector, 0, len(subqueries))
	for i, v := range vecs {
		if v == nil {
			slog.Warn("subquery embedding failed, skipping", "subquery", subqueries[i])
			continue
		}
		out = append(out, datatypes.LabeledVector{Label: subqueries[i], Vector: v})
	}
	return out
}

// kPerSubquery splits the candidate budget across valid subqueries.
func (p *Pipeline) kPerSubquery(validCount int) int {
	k := 50 / validCount
	if k < 10 {
		k = 10
	}
	if k > p.cfg.MaxKPerSubquery {
		k = p.cfg.MaxKPerSubquery
	}
	return k
}

// mergeSubqueryHits fuses the per-subquery hit lists.
//
// The first subquery carries full weight; each later one decays by
// decay^index. A product hit by several subqueries keeps its best
// weighted score plus a 0.05 agreement bonus. The result is sorted by
// fused score, ties broken by id.
func (p *Pipeline) mergeSubqueryHits(vectors []datatypes.LabeledVector, hitsByLabel map[string][]datatypes.Hit) []datatypes.SearchResult {
	merged := make(map[string]datatypes.SearchResult)
	weight := 1.0
	for idx, v := range vectors {
		if idx > 0 {
			weight *= p.cfg.SubqueryWeightDecay
		}
		for _, h := range hitsByLabel[v.Label] {
			weighted := h.Score * weight
			cur, ok := merged[h.ID]
			if !ok {
				r := datatypes.ResultFromHit(h)
				r.Score = weighted
				merged[h.ID] = r
				continue
			}
			if weighted > cur.Score {
				cur.Score = weighted
			}
			cur.Score += 0.05
			merged[h.ID] = cur
		}
	}

	out := make([]datatypes.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// thresholds picks the adaptive cutoff from the result-set size.
//
// Sparse sets keep a permissive floor; dense sets demand both a higher
// floor and a larger share of the top score.
func (p *Pipeline) thresholds(total int, maxScore float64) (adaptiveMin, dynamic, final float64) {
	var ratio float64
	switch {
	case total < 5:
		ratio, adaptiveMin = 0.25, p.cfg.MinScoreAbsolute*0.5
	case total < 15:
		ratio, adaptiveMin = 0.30, p.cfg.MinScoreAbsolute*0.7
	case total < 50:
		ratio, adaptiveMin = 0.35, p.cfg.MinScoreAbsolute*0.85
	default:
		ratio, adaptiveMin = 0.40, p.cfg.MinScoreAbsolute
	}
	if maxScore <= 0 {
		return adaptiveMin, 0, 0
	}
	dynamic = ratio * maxScore
	final = adaptiveMin
	if dynamic > final {
		final = dynamic
	}
	return adaptiveMin, dynamic, final
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// logQuery writes the search-quality entry; failures only warn.
func (p *Pipeline) logQuery(req Request, out *Outcome, subqueries []string, totalFound int,
	candidates []datatypes.SearchResult, maxScore, adaptiveMin, dynamic, final float64) {
	if p.queryLog == nil {
		return
	}

	recommended := make(map[string]bool, len(out.Recommendations))
	for _, r := range out.Recommendations {
		recommended[r.ProductID] = true
	}

	top := candidates
	if len(top) > 20 {
		top = top[:20]
	}
	products := make([]searchlog.TopProduct, 0, len(top))
	for _, r := range top {
		products = append(products, searchlog.TopProduct{
			ID:          r.ID,
			Name:        r.DisplayTitle(),
			Score:       r.Score,
			Recommended: recommended[r.ID],
		})
	}

	entry := searchlog.Entry{
		SessionID:  req.SessionID,
		Query:      out.QueryAnalysis.OriginalQuery,
		Intent:     out.QueryAnalysis.Intent,
		Subqueries: subqueries,
		SearchStats: searchlog.QueryStats{
			TotalFound:           totalFound,
			AfterFiltering:       len(candidates),
			MaxScore:             maxScore,
			ThresholdFinal:       final,
			ThresholdAdaptiveMin: adaptiveMin,
			ThresholdDynamic:     dynamic,
			SearchTimeMs:         out.SearchTimeMs,
		},
		TopProducts: products,
		AdditionalInfo: map[string]any{
			"dialog_state":          out.State,
			"categories_shown":      len(out.Categories),
			"recommendations_count": len(out.Recommendations),
		},
	}
	if err := p.queryLog.LogQuery(entry); err != nil {
		slog.Warn("search quality log write failed", "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func notify(fn StatusFunc, statusType, message string) {
	if fn != nil {
		fn(statusType, message)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func filterByScore(results []datatypes.SearchResult, threshold float64) []datatypes.SearchResult {
	var out []datatypes.SearchResult
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// queryKeywords keeps the first 5 query words longer than 2 runes.
func queryKeywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		if utf8.RuneCountInString(w) > 2 {
			out = append(out, w)
			if len(out) == 5 {
				break
			}
		}
	}
	return out
}

// clarificationActions offers the suggested categories as quick replies.
func clarificationActions(categories []string) []datatypes.ActionButton {
	if len(categories) > 8 {
		categories = categories[:8]
	}
	out := make([]datatypes.ActionButton, 0, len(categories))
	for _, c := range categories {
		out = append(out, datatypes.ActionButton{
			Type:   "button",
			Action: "search_category",
			Value:  c,
			Label:  c,
		})
	}
	return out
}

// categoryActions turns the categories payload into tappable filters.
func categoryActions(payload []datatypes.CategoryOption) []datatypes.ActionButton {
	if len(payload) > 10 {
		payload = payload[:10]
	}
	out := make([]datatypes.ActionButton, 0, len(payload))
	for _, c := range payload {
		b := datatypes.ActionButton{
			Type:   "button",
			Action: "select_category",
			Value:  c.Code,
			Label:  c.Label,
			Emoji:  c.Emoji,
			Count:  c.Count,
		}
		if c.Special {
			b.Special = "recommended"
		}
		out = append(out, b)
	}
	return out
}

func categoryCodes(payload []datatypes.CategoryOption) []string {
	out := make([]string, 0, len(payload))
	for _, c := range payload {
		out = append(out, c.Code)
	}
	return out
}
