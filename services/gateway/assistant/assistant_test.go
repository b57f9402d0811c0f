// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// fakeCompleter replays canned completions and records requests.
type fakeCompleter struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Model:            "gpt-4o-mini",
		Temperature:      0.3,
		AnalyzeTimeout:   5 * time.Second,
		RecoTimeout:      5 * time.Second,
		MaxTokensAnalyze: 2000,
		MaxTokensReco:    2500,
	}
}

func titled(id, title string, score float64) datatypes.SearchResult {
	return datatypes.SearchResult{ID: id, TitleUA: &title, Score: score}
}

// =============================================================================
// ExtractJSON
// =============================================================================

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Ось відповідь:\n```json\n{\"action\": \"greeting\"}\n```\nКінець."
	obj := ExtractJSON(text)
	assert.Equal(t, "greeting", obj["action"])
}

func TestExtractJSONLongestBalancedObject(t *testing.T) {
	text := `noise {"a": 1} more {"action": "product_search", "semantic_subqueries": ["x"]} tail`
	obj := ExtractJSON(text)
	assert.Equal(t, "product_search", obj["action"])
}

func TestExtractJSONWholeText(t *testing.T) {
	obj := ExtractJSON(`{"action": "invalid"}`)
	assert.Equal(t, "invalid", obj["action"])
}

func TestExtractJSONGarbage(t *testing.T) {
	assert.Empty(t, ExtractJSON("нічого корисного тут немає"))
	assert.Empty(t, ExtractJSON(""))
	assert.Empty(t, ExtractJSON("{broken"))
}

// =============================================================================
// Classify
// =============================================================================

func TestClassifyAppliesDefaults(t *testing.T) {
	api := &fakeCompleter{content: `{"action": "product_search", "semantic_subqueries": ["футболка чорна"]}`}
	c := NewClient(api, testConfig(), nil)

	a, err := c.Classify(context.Background(), "футболка", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionProductSearch, a.Action)
	assert.Equal(t, 0.8, a.Confidence)
	assert.Equal(t, "Шукаю для вас товари...", a.AssistantMessage)
	assert.Equal(t, []string{"футболка чорна"}, a.SemanticSubqueries)
	assert.False(t, a.NeedsUserInput)
}

func TestClassifyConversationalActionsNeedInput(t *testing.T) {
	for _, action := range []string{ActionGreeting, ActionInvalid, ActionClarification} {
		api := &fakeCompleter{content: fmt.Sprintf(`{"action": %q, "assistant_message": "Вітаю!"}`, action)}
		c := NewClient(api, testConfig(), nil)

		a, err := c.Classify(context.Background(), "привіт", nil, nil)
		require.NoError(t, err)
		assert.True(t, a.NeedsUserInput, action)
		assert.Equal(t, "Вітаю!", a.AssistantMessage)
	}
}

func TestClassifyMissingActionFails(t *testing.T) {
	api := &fakeCompleter{content: `{"assistant_message": "щось"}`}
	c := NewClient(api, testConfig(), nil)

	_, err := c.Classify(context.Background(), "запит", nil, nil)
	require.Error(t, err)
}

func TestClassifyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewClient(nil, cfg, nil)

	_, err := c.Classify(context.Background(), "запит", nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestClassifyRequestShape(t *testing.T) {
	api := &fakeCompleter{content: `{"action": "greeting"}`}
	c := NewClient(api, testConfig(), nil)

	_, err := c.Classify(context.Background(), "привіт", nil, nil)
	require.NoError(t, err)

	req := api.lastReq
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 2000, req.MaxTokens)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, `"привіт"`)
}

func TestClassifierPromptCarriesHistoryAndOverride(t *testing.T) {
	history := []datatypes.SearchHistoryItem{
		{Query: "перша", ResultsCount: 1},
		{Query: "друга", ResultsCount: 2},
		{Query: "третя", ResultsCount: 3},
		{Query: "четверта", ResultsCount: 4},
	}
	prompt := buildClassifierPrompt("а синя?", history, map[string]any{"clarification_asked": true})

	assert.NotContains(t, prompt, "перша", "only the last 3 history entries are shown")
	assert.Contains(t, prompt, "друга")
	assert.Contains(t, prompt, "четверта")
	assert.Contains(t, prompt, "НЕ ПИТАЙ БІЛЬШЕ уточнень")
	assert.Contains(t, prompt, `"а синя?"`)
}

func TestClassifierPromptWithoutContext(t *testing.T) {
	prompt := buildClassifierPrompt("капці", nil, nil)
	assert.NotContains(t, prompt, "Історія діалогу")
	assert.NotContains(t, prompt, "НЕ ПИТАЙ БІЛЬШЕ")
}

// =============================================================================
// Recommend
// =============================================================================

func rerankReply(entries ...string) string {
	return fmt.Sprintf(`{"recommendations": [%s], "assistant_message": "Підібрав найкраще."}`,
		strings.Join(entries, ","))
}

func rerankEntry(index int, score float64, bucket string) string {
	return fmt.Sprintf(`{"product_index": %d, "relevance_score": %g, "reason": "Точна відповідність", "bucket": %q}`,
		index, score, bucket)
}

func TestRecommendFiltersAndSorts(t *testing.T) {
	products := []datatypes.SearchResult{
		titled("p1", "Футболка чорна", 1.0),
		titled("p2", "Футболка біла", 0.8),
		titled("p3", "Шкарпетки", 0.2),
	}
	api := &fakeCompleter{content: rerankReply(
		rerankEntry(2, 0.7, "good_to_have"),
		rerankEntry(1, 0.95, "must_have"),
		rerankEntry(3, 0.2, "good_to_have"), // below 0.4, dropped
		rerankEntry(99, 0.9, "must_have"),   // invalid index, dropped
	)}
	c := NewClient(api, testConfig(), nil)

	recs, msg := c.Recommend(context.Background(), products, "футболка")
	require.Len(t, recs, 2)
	assert.Equal(t, "p1", recs[0].ProductID)
	assert.Equal(t, 0.95, recs[0].RelevanceScore)
	assert.Equal(t, "p2", recs[1].ProductID)
	assert.Equal(t, "Підібрав найкраще.", msg)
}

func TestRecommendBackfillsToSeven(t *testing.T) {
	products := make([]datatypes.SearchResult, 10)
	for i := range products {
		products[i] = titled(fmt.Sprintf("p%d", i), "Товар", 1.0-float64(i)*0.1)
	}
	api := &fakeCompleter{content: rerankReply(
		rerankEntry(1, 0.9, "must_have"),
		rerankEntry(2, 0.8, "must_have"),
	)}
	c := NewClient(api, testConfig(), nil)

	recs, _ := c.Recommend(context.Background(), products, "товар")
	require.Len(t, recs, 7)

	buckets := map[string]int{}
	for _, r := range recs {
		buckets[r.Bucket]++
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.35)
	}
	assert.Equal(t, 5, buckets["also_consider"])
	for _, r := range recs {
		if r.Bucket == "also_consider" {
			assert.Equal(t, "Потенційно відповідає вашому запиту", r.Reason)
		}
	}
}

func TestRecommendFallsBackToLocalOnError(t *testing.T) {
	products := []datatypes.SearchResult{
		titled("p1", "Каструля емальована", 2.0),
		titled("p2", "Сковорода", 1.0),
	}
	api := &fakeCompleter{err: errors.New("rate limited")}
	c := NewClient(api, testConfig(), nil)

	recs, msg := c.Recommend(context.Background(), products, "каструля")
	require.NotEmpty(t, recs)
	assert.Equal(t, "p1", recs[0].ProductID)
	assert.Contains(t, msg, "на основі відповідності")
}

func TestRecommendEmptyProducts(t *testing.T) {
	c := NewClient(&fakeCompleter{}, testConfig(), nil)
	recs, msg := c.Recommend(context.Background(), nil, "запит")
	assert.Empty(t, recs)
	assert.Equal(t, "На жаль, не знайдено відповідних товарів.", msg)
}

func TestRecommendDisabledUsesLocal(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewClient(nil, cfg, nil)

	recs, _ := c.Recommend(context.Background(), []datatypes.SearchResult{
		titled("p1", "Зошит шкільний", 1.0),
	}, "зошит")
	require.NotEmpty(t, recs)
	assert.Equal(t, "p1", recs[0].ProductID)
}

// =============================================================================
// Local Ranker
// =============================================================================

func TestLocalRecommendationsTokenBonus(t *testing.T) {
	products := []datatypes.SearchResult{
		titled("top", "Інший товар", 1.0),
		titled("match", "Каструля емальована синя", 0.8),
		titled("plain", "Відро пластикове", 0.8),
	}
	recs, _ := LocalRecommendations(products, "каструля синя")
	require.Len(t, recs, 3)
	// Equal base scores; the title with both query tokens gets +0.1.
	assert.Equal(t, "match", recs[1].ProductID)
	assert.Equal(t, "plain", recs[2].ProductID)
	assert.InDelta(t, 0.9, recs[1].RelevanceScore, 1e-9)
	assert.InDelta(t, 0.8, recs[2].RelevanceScore, 1e-9)
}

func TestLocalRecommendationsBuckets(t *testing.T) {
	products := make([]datatypes.SearchResult, 6)
	for i := range products {
		products[i] = titled(fmt.Sprintf("p%d", i), "Рушник махровий", 1.0)
	}
	recs, msg := LocalRecommendations(products, "рушник")
	require.Len(t, recs, 6)
	assert.Equal(t, "must_have", recs[0].Bucket)
	assert.Equal(t, "must_have", recs[2].Bucket)
	assert.Equal(t, "good_to_have", recs[3].Bucket)
	assert.Equal(t, "Я підібрав 6 варіантів на основі відповідності вашому запиту.", msg)
}

func TestLocalRecommendationsDropsWeakTail(t *testing.T) {
	// Scores normalize against the maximum, so the tail falls under the
	// 0.5 bar and only the strong half survives.
	products := []datatypes.SearchResult{
		titled("a", "Щось одне", 0.4),
		titled("b", "Щось інше", 0.3),
		titled("c", "Третє щось", 0.2),
		titled("d", "Четверте", 0.1),
	}
	recs, _ := LocalRecommendations(products, "каструля")
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, "must_have", r.Bucket)
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.5)
	}
	assert.Equal(t, "a", recs[0].ProductID)
}

func TestQueryTokensSkipsShortOnes(t *testing.T) {
	tokens := queryTokens("на 42 розмір для дому")
	assert.Equal(t, []string{"розмір", "для", "дому"}, tokens)
}

func TestLocalRecommendationsScoreCap(t *testing.T) {
	products := []datatypes.SearchResult{
		titled("p1", "каструля каструля синя велика емальована праска чайник", 5.0),
	}
	recs, _ := LocalRecommendations(products, "каструля синя велика емальована праска чайник покришка")
	require.Len(t, recs, 1)
	assert.LessOrEqual(t, recs[0].RelevanceScore, 1.0)
}
