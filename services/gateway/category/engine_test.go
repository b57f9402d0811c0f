// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package category

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

func product(id, title string) datatypes.SearchResult {
	return datatypes.SearchResult{ID: id, TitleUA: &title}
}

func TestAssignMatchesKeywordStem(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Дитяча футболка з принтом", "clothing"},
		{"Кросівки бігові 42р", "footwear"},
		{"Сковорода чавунна 26см", "kitchen"},
		{"Шампунь для волосся 400мл", "cosmetics"},
		{"Зошит у клітинку 48 арк", "stationery"},
		{"Пральний порошок 3кг", "household"},
		{"Щось без категорії", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Assign(product("p", tt.title)))
		})
	}
}

func TestAssignEmptyTextReturnsNothing(t *testing.T) {
	assert.Equal(t, "", Assign(datatypes.SearchResult{ID: "p"}))
}

func TestMatchTextScoresByStemCount(t *testing.T) {
	// Two clothing stems vs one footwear stem: clothing must win.
	codes := MatchText("футболка та джинси, кросівки", 2)
	require.Len(t, codes, 2)
	assert.Equal(t, "clothing", codes[0])
	assert.Equal(t, "footwear", codes[1])
}

func TestAggregateRollsChildrenIntoParent(t *testing.T) {
	// Products land in child buckets via "чоловіч"/"жіноч" alongside a
	// clothing stem match... build titles that hit the children directly.
	products := []datatypes.SearchResult{
		product("m1", "Чоловічі труси бавовна"),
		product("m2", "Мужская майка"),
		product("w1", "Жіночі легінси"),
		product("w2", "Женская туника"),
	}
	buckets := Aggregate(products)

	// 4 products across children vs 0 in parent and >= 3 total: rollup.
	require.Contains(t, buckets, "clothing")
	assert.Len(t, buckets["clothing"], 4)
	assert.NotContains(t, buckets, "clothing_men")
	assert.NotContains(t, buckets, "clothing_women")
}

func TestAggregateKeepsSmallChildBuckets(t *testing.T) {
	products := []datatypes.SearchResult{
		product("m1", "Чоловічі труси"),
		product("m2", "Мужская майка"),
	}
	buckets := Aggregate(products)
	// Only 2 products in children: below the rollup floor of 3.
	assert.Contains(t, buckets, "clothing_men")
	assert.NotContains(t, buckets, "clothing")
}

func TestCategorizeDropsWeakBuckets(t *testing.T) {
	products := []datatypes.SearchResult{
		product("k1", "Каструля емальована"),
		product("k2", "Сковорода млинна"),
		product("k3", "Тарілка глибока"),
		product("f1", "Черевики зимові"),
	}
	labels, idBuckets := Categorize(products)

	require.Contains(t, idBuckets, "kitchen")
	assert.NotContains(t, idBuckets, "footwear", "single-product buckets are dropped")
	assert.Contains(t, labels, "Кухонні товари")
}

func TestCategorizeMiscFallback(t *testing.T) {
	products := []datatypes.SearchResult{
		product("x1", "Невідомий товар"),
		product("x2", "Ще один невідомий"),
	}
	labels, idBuckets := Categorize(products)

	assert.Equal(t, []string{AllProductsLabel}, labels)
	require.Contains(t, idBuckets, MiscCode)
	assert.Equal(t, []string{"x1", "x2"}, idBuckets[MiscCode])
}

func TestCategorizeMiscFallbackCapsAt50(t *testing.T) {
	products := make([]datatypes.SearchResult, 60)
	for i := range products {
		products[i] = product(fmt.Sprintf("x%d", i), "Невідомий товар без стемів")
	}
	// "товар" matches no stem; "для дому" etc. absent.
	_, idBuckets := Categorize(products)
	require.Contains(t, idBuckets, MiscCode)
	assert.Len(t, idBuckets[MiscCode], 50)
}

func TestCategorizeAdaptiveCap(t *testing.T) {
	// 8 categories x 3 products each = 24 products: cap is 6 (<50), and
	// the 70% coverage target (16.8) is crossed at the 6th category.
	titles := map[string]string{
		"clothing":    "Футболка базова",
		"footwear":    "Черевики шкіряні",
		"accessories": "Шапка в'язана",
		"toys":        "Лялька мотанка",
		"kitchen":     "Каструля сталева",
		"household":   "Порошок пральний",
		"cosmetics":   "Шампунь трав'яний",
		"stationery":  "Зошит шкільний",
	}
	var products []datatypes.SearchResult
	i := 0
	for _, title := range titles {
		for n := 0; n < 3; n++ {
			products = append(products, product(fmt.Sprintf("p%d", i), title))
			i++
		}
	}

	labels, idBuckets := Categorize(products)
	assert.LessOrEqual(t, len(labels), 6)
	assert.GreaterOrEqual(t, len(labels), 3)
	assert.Len(t, labels, len(idBuckets))
}

func TestPayloadRecommendedFirstThenByCount(t *testing.T) {
	idBuckets := map[string][]string{
		"kitchen":       {"a", "b"},
		"footwear":      {"c", "d", "e"},
		RecommendedCode: {"r1"},
	}
	payload := Payload(idBuckets)
	require.Len(t, payload, 3)

	assert.Equal(t, RecommendedCode, payload[0].Code)
	assert.True(t, payload[0].Special)
	assert.Equal(t, "⭐ Рекомендовано для вас", payload[0].Label)

	assert.Equal(t, "footwear", payload[1].Code)
	assert.Equal(t, 3, payload[1].Count)
	assert.Equal(t, "kitchen", payload[2].Code)
}

func TestPayloadMiscGetsDefaultEmoji(t *testing.T) {
	payload := Payload(map[string][]string{MiscCode: {"a"}})
	require.Len(t, payload, 1)
	assert.Equal(t, AllProductsLabel, payload[0].Label)
	assert.Equal(t, DefaultEmoji, payload[0].Emoji)
}
