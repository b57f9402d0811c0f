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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ta-da/search-gateway/services/gateway/config"
	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/pipeline"
	"github.com/ta-da/search-gateway/services/gateway/search"
	"github.com/ta-da/search-gateway/services/gateway/searchlog"
	"github.com/ta-da/search-gateway/services/gateway/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type stubEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.texts = append(s.texts, text)
	return s.vector, s.err
}

type stubSearch struct {
	hits    []datatypes.Hit
	err     error
	stats   search.IndexStats
	index   string
	lastK   int
	lastFun string
}

func (s *stubSearch) Semantic(_ context.Context, _ []float32, k int) ([]datatypes.Hit, error) {
	s.lastFun, s.lastK = "semantic", k
	return s.hits, s.err
}

func (s *stubSearch) BM25(_ context.Context, _ string, k int) ([]datatypes.Hit, error) {
	s.lastFun, s.lastK = "bm25", k
	return s.hits, s.err
}

func (s *stubSearch) Hybrid(_ context.Context, _ []float32, _ string, k int) ([]datatypes.Hit, error) {
	s.lastFun, s.lastK = "hybrid", k
	return s.hits, s.err
}

func (s *stubSearch) Stats(_ context.Context) search.IndexStats { return s.stats }
func (s *stubSearch) IndexName() string                         { return s.index }

type stubPipeline struct {
	outcome *pipeline.Outcome
	panics  bool
	lastReq pipeline.Request
}

func (s *stubPipeline) Run(_ context.Context, req pipeline.Request) *pipeline.Outcome {
	s.lastReq = req
	if s.panics {
		panic("boom")
	}
	if req.Status != nil {
		req.Status("searching", "Шукаю товари...")
	}
	return s.outcome
}

type stubCache struct {
	size, capacity int
	ttl            time.Duration
	cleared        bool
	expired        int
}

func (s *stubCache) Len() int            { return s.size }
func (s *stubCache) Capacity() int       { return s.capacity }
func (s *stubCache) TTL() time.Duration  { return s.ttl }
func (s *stubCache) Clear()              { s.cleared = true; s.size = 0 }
func (s *stubCache) CleanupExpired() int { return s.expired }

type stubSearchLogs struct {
	sessions []string
	logs     map[string][]searchlog.Entry
	reports  map[string]map[string]any
}

func (s *stubSearchLogs) Sessions() []string { return s.sessions }
func (s *stubSearchLogs) SessionLogs(id string) []searchlog.Entry {
	return s.logs[id]
}
func (s *stubSearchLogs) SessionReport(id string) (map[string]any, bool) {
	r, ok := s.reports[id]
	return r, ok
}
func (s *stubSearchLogs) Stats() map[string]any {
	return map[string]any{"total_sessions": len(s.sessions)}
}

func testSettings() *config.Settings {
	return &config.Settings{
		IndexName:           "products",
		EmbeddingModel:      "test-model",
		EnableGPTChat:       true,
		OpenAIAPIKey:        "sk-test",
		TaDaAPIBaseURL:      "https://api.example/v1",
		TaDaDefaultShopID:   "8",
		TaDaDefaultLanguage: "ua",
	}
}

func testDeps() *Deps {
	return &Deps{
		Settings:   testSettings(),
		Sessions:   session.New(session.Config{MaxSessions: 10, SessionTTL: time.Hour, MaxHistory: 20, HistoryTTL: time.Hour, DefaultBatch: 20}),
		Cache:      &stubCache{size: 2, capacity: 100, ttl: time.Hour, expired: 1},
		HTTPClient: http.DefaultClient,
		StartedAt:  time.Now().Add(-time.Minute),
	}
}

func performJSON(t *testing.T, h gin.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Handle(method, "/x", h)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func hitWithTitle(id string, score float64, title string) datatypes.Hit {
	return datatypes.Hit{ID: id, Score: score, Source: datatypes.ProductSource{TitleUA: &title}}
}

// =============================================================================
// /search
// =============================================================================

func TestSearchBM25Default(t *testing.T) {
	deps := testDeps()
	es := &stubSearch{hits: []datatypes.Hit{hitWithTitle("p1", 3.1, "Каструля")}}
	deps.Search = es

	w := performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "каструля", K: 5})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.SearchResponse](t, w)
	assert.Equal(t, "bm25", es.lastFun)
	assert.Equal(t, 100, es.lastK, "candidate floor")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1", resp.Results[0].ID)
	assert.Equal(t, 1, resp.TotalFound)
}

func TestSearchSemanticAliasAndCut(t *testing.T) {
	deps := testDeps()
	hits := make([]datatypes.Hit, 0, 4)
	for _, id := range []string{"a", "b", "c", "d"} {
		hits = append(hits, hitWithTitle(id, 0.9, "Товар "+id))
	}
	es := &stubSearch{hits: hits}
	deps.Search = es
	deps.Embedder = &stubEmbedder{vector: []float32{0.1, 0.2}}

	w := performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "товар", K: 2, Mode: "semantic"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.SearchResponse](t, w)
	assert.Equal(t, "semantic", resp.Mode, "echoes the requested mode")
	assert.Equal(t, "semantic", es.lastFun)
	assert.Len(t, resp.Results, 2, "cut to k")
}

func TestSearchCandidateScaling(t *testing.T) {
	deps := testDeps()
	es := &stubSearch{}
	deps.Search = es

	performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "товар", K: 80, Mode: "bm25"})
	assert.Equal(t, 160, es.lastK, "2k above the floor")
}

func TestSearchEmbeddingUnavailable(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{}
	deps.Embedder = &stubEmbedder{err: errors.New("down")}

	w := performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "товар", Mode: "knn"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearchUnknownMode(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{}

	w := performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "товар", Mode: "fuzzy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEngineFailureDegradesToEmpty(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{err: errors.New("es down")}

	w := performJSON(t, HandleSearch(deps), http.MethodPost, "/x",
		datatypes.SearchRequest{Query: "товар", Mode: "bm25"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.SearchResponse](t, w)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "bm25", resp.Mode)
}

// =============================================================================
// /chat/search and load-more
// =============================================================================

func TestChatSearchReturnsPipelineOutcome(t *testing.T) {
	deps := testDeps()
	sp := &stubPipeline{outcome: &pipeline.Outcome{
		State:            pipeline.StateFinalResults,
		Action:           "product_search",
		AssistantMessage: "Ось варіанти.",
		Results:          []datatypes.SearchResult{{ID: "p1", Score: 0.9}},
	}}
	deps.Pipeline = sp

	w := performJSON(t, HandleChatSearch(deps), http.MethodPost, "/x", datatypes.ChatSearchRequest{
		Query: "  каструля  ", SessionID: "sess", K: 10, SelectedCategory: "kitchen",
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.ChatSearchResponse](t, w)
	assert.Equal(t, "final_results", resp.DialogState)
	assert.False(t, resp.NeedsUserInput)
	require.Len(t, resp.Results, 1)

	assert.Equal(t, "каструля", sp.lastReq.Query, "query trimmed")
	assert.Equal(t, "kitchen", sp.lastReq.SelectedCategory)
	assert.Equal(t, 10, sp.lastReq.K)
}

func TestChatSearchNeedsUserInputForClarification(t *testing.T) {
	deps := testDeps()
	deps.Pipeline = &stubPipeline{outcome: &pipeline.Outcome{
		State:  pipeline.StateClarification,
		Action: "clarification",
	}}

	w := performJSON(t, HandleChatSearch(deps), http.MethodPost, "/x",
		datatypes.ChatSearchRequest{Query: "щось", SessionID: "sess"})

	resp := decodeBody[datatypes.ChatSearchResponse](t, w)
	assert.True(t, resp.NeedsUserInput)
}

func TestChatSearchPanicDegradesToErrorState(t *testing.T) {
	deps := testDeps()
	deps.Pipeline = &stubPipeline{panics: true}

	w := performJSON(t, HandleChatSearch(deps), http.MethodPost, "/x",
		datatypes.ChatSearchRequest{Query: "каструля", SessionID: "sess"})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.ChatSearchResponse](t, w)
	assert.Equal(t, "error", resp.DialogState)
	assert.Equal(t, "Вибачте, виникла помилка. Спробуйте ще раз.", resp.AssistantMessage)
}

func TestChatSearchRejectsMissingSession(t *testing.T) {
	deps := testDeps()
	deps.Pipeline = &stubPipeline{outcome: &pipeline.Outcome{}}

	w := performJSON(t, HandleChatSearch(deps), http.MethodPost, "/x",
		map[string]any{"query": "каструля"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoadMorePaginates(t *testing.T) {
	deps := testDeps()
	results := make([]datatypes.SearchResult, 30)
	for i := range results {
		results[i] = datatypes.SearchResult{ID: string(rune('a' + i)), Score: 1}
	}
	deps.Sessions.StoreResults("sess", results, 30, nil)

	w := performJSON(t, HandleLoadMore(deps), http.MethodPost, "/x",
		datatypes.LoadMoreRequest{SessionID: "sess", Offset: 0, Limit: 20})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.LoadMoreResponse](t, w)
	assert.Len(t, resp.Products, 20)
	assert.Equal(t, 20, resp.Offset)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 30, resp.TotalFound)
}

func TestLoadMoreOffsetPastEndKeepsTotals(t *testing.T) {
	deps := testDeps()
	results := make([]datatypes.SearchResult, 5)
	for i := range results {
		results[i] = datatypes.SearchResult{ID: string(rune('a' + i)), Score: 1}
	}
	deps.Sessions.StoreResults("sess", results, 5, nil)

	w := performJSON(t, HandleLoadMore(deps), http.MethodPost, "/x",
		datatypes.LoadMoreRequest{SessionID: "sess", Offset: 40, Limit: 20})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.LoadMoreResponse](t, w)
	assert.Empty(t, resp.Products)
	assert.Equal(t, 5, resp.Offset, "clamped to the end of the set")
	assert.False(t, resp.HasMore)
	assert.Equal(t, 5, resp.TotalFound, "live session keeps its totals")
}

func TestLoadMoreMissingSessionEmptyBatch(t *testing.T) {
	deps := testDeps()

	w := performJSON(t, HandleLoadMore(deps), http.MethodPost, "/x",
		datatypes.LoadMoreRequest{SessionID: "ghost", Offset: 7})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.LoadMoreResponse](t, w)
	assert.Empty(t, resp.Products)
	assert.Equal(t, 7, resp.Offset)
	assert.False(t, resp.HasMore)
	assert.Zero(t, resp.TotalFound)
}

// =============================================================================
// Probes, Stats, Cache
// =============================================================================

func TestHealthConnected(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{index: "products", stats: search.IndexStats{DocumentsCount: 1200, Health: "green"}}

	w := performJSON(t, HandleHealth(deps), http.MethodGet, "/x", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[datatypes.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Elasticsearch)
	assert.Equal(t, 1200, resp.DocumentsCount)
	assert.Equal(t, 2, resp.CacheSize)
	assert.Greater(t, resp.UptimeSeconds, 0.0)
}

func TestHealthDegraded(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{index: "products", stats: search.IndexStats{Health: "unknown"}}

	w := performJSON(t, HandleHealth(deps), http.MethodGet, "/x", nil)
	resp := decodeBody[datatypes.HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "disconnected", resp.Elasticsearch)
}

func TestReadyOK(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{stats: search.IndexStats{Health: "yellow"}}

	w := performJSON(t, HandleReady(deps), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "ok", body["gpt"])
}

func TestReadyRedIndexIs503(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{stats: search.IndexStats{Health: "red"}}

	w := performJSON(t, HandleReady(deps), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "unavailable", body["elasticsearch"])
}

func TestReadyGPTDisabled(t *testing.T) {
	deps := testDeps()
	deps.Settings.EnableGPTChat = false
	deps.Settings.OpenAIAPIKey = ""
	deps.Search = &stubSearch{stats: search.IndexStats{Health: "green"}}

	w := performJSON(t, HandleReady(deps), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "disabled", body["gpt"])
}

func TestLiveAlwaysAlive(t *testing.T) {
	deps := testDeps()
	w := performJSON(t, HandleLive(deps), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "alive", body["status"])
}

func TestStatsResponse(t *testing.T) {
	deps := testDeps()
	deps.Search = &stubSearch{index: "products", stats: search.IndexStats{
		DocumentsCount: 5, IndexSizeBytes: 1024, Health: "green",
	}}

	w := performJSON(t, HandleStats(deps), http.MethodGet, "/x", nil)
	resp := decodeBody[datatypes.StatsResponse](t, w)
	assert.Equal(t, "products", resp.Index)
	assert.Equal(t, int64(1024), resp.IndexSizeBytes)
	assert.Equal(t, "test-model", resp.EmbeddingModel)
	assert.Equal(t, 2, resp.EmbeddingCacheSize)
}

func TestCacheClearAndStats(t *testing.T) {
	deps := testDeps()
	cache := deps.Cache.(*stubCache)

	w := performJSON(t, HandleCacheClear(deps), http.MethodPost, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, cache.cleared)
	assert.Equal(t, "Cache cleared", decodeBody[map[string]any](t, w)["message"])

	w = performJSON(t, HandleCacheStats(deps), http.MethodGet, "/x", nil)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, 100.0, body["capacity"])
	assert.Equal(t, 3600.0, body["ttl_seconds"])
	assert.Equal(t, 1.0, body["expired_cleaned"])
}

func TestFrontendConfig(t *testing.T) {
	w := performJSON(t, HandleFrontendConfig(), http.MethodGet, "/x", nil)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["feature_chat_sse"])
}

// =============================================================================
// Search Log Endpoints
// =============================================================================

func TestSearchLogEndpoints(t *testing.T) {
	deps := testDeps()
	deps.SearchLogs = &stubSearchLogs{
		sessions: []string{"a", "b"},
		logs:     map[string][]searchlog.Entry{"a": {{SessionID: "a", Query: "каструля"}}},
		reports:  map[string]map[string]any{"a": {"total_queries": 1}},
	}

	w := performJSON(t, HandleSearchLogSessions(deps), http.MethodGet, "/x", nil)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, 2.0, body["total"])

	router := gin.New()
	router.GET("/logs/:session_id", HandleSearchLogSession(deps))
	router.GET("/report/:session_id", HandleSearchLogReport(deps))

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/logs/a", nil))
	require.Equal(t, http.StatusOK, w2.Code)
	logsBody := decodeBody[map[string]any](t, w2)
	assert.Equal(t, 1.0, logsBody["total_queries"])

	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, httptest.NewRequest(http.MethodGet, "/logs/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w3.Code)

	w4 := httptest.NewRecorder()
	router.ServeHTTP(w4, httptest.NewRequest(http.MethodGet, "/report/a", nil))
	require.Equal(t, http.StatusOK, w4.Code)

	w5 := httptest.NewRecorder()
	router.ServeHTTP(w5, httptest.NewRequest(http.MethodGet, "/report/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w5.Code)

	w6 := performJSON(t, HandleSearchLogStats(deps), http.MethodGet, "/x", nil)
	assert.Equal(t, 2.0, decodeBody[map[string]any](t, w6)["total_sessions"])
}
