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
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

var tokenSplitRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// localReason is the stock explanation the local ranker attaches.
const localReason = "Відповідає вашому запиту"

// LocalRecommendations ranks candidates without the LLM.
//
// # Description
//
// Each product's fused score is normalized by the set maximum, plus a
// 0.05 bonus per query token (longer than 2 runes) found in the titles,
// bonus capped at 0.3, total capped at 1.0. The top 25 with a blended
// score >= 0.5 become recommendations (first 3 must_have, rest
// good_to_have); when nothing clears the bar, the top 3 are returned as
// must_have so the chat never comes back empty-handed.
func LocalRecommendations(products []datatypes.SearchResult, query string) ([]datatypes.ProductRecommendation, string) {
	tokens := queryTokens(query)

	maxScore := 0.0
	for _, p := range products {
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}
	if maxScore <= 0 {
		maxScore = 1.0
	}

	scoreFor := func(p datatypes.SearchResult) float64 {
		base := p.Score / maxScore
		text := strings.ToLower(strings.Join(titleParts(p), " "))
		bonus := 0.0
		for _, t := range tokens {
			if strings.Contains(text, t) {
				bonus += 0.05
			}
		}
		if bonus > 0.3 {
			bonus = 0.3
		}
		if base+bonus > 1.0 {
			return 1.0
		}
		return base + bonus
	}

	ranked := make([]datatypes.SearchResult, len(products))
	copy(ranked, products)
	sort.SliceStable(ranked, func(i, j int) bool { return scoreFor(ranked[i]) > scoreFor(ranked[j]) })
	if len(ranked) > 25 {
		ranked = ranked[:25]
	}

	var recs []datatypes.ProductRecommendation
	for i, p := range ranked {
		s := scoreFor(p)
		if s < 0.5 {
			continue
		}
		bucket := "good_to_have"
		if i < 3 {
			bucket = "must_have"
		}
		recs = append(recs, datatypes.ProductRecommendation{
			ProductID:      p.ID,
			RelevanceScore: s,
			Reason:         localReason,
			Title:          titleOf(p),
			Bucket:         bucket,
		})
	}

	if len(recs) == 0 && len(ranked) > 0 {
		slog.Info("no products above local threshold, taking top 3")
		top := ranked
		if len(top) > 3 {
			top = top[:3]
		}
		for _, p := range top {
			recs = append(recs, datatypes.ProductRecommendation{
				ProductID:      p.ID,
				RelevanceScore: scoreFor(p),
				Reason:         localReason,
				Title:          titleOf(p),
				Bucket:         "must_have",
			})
		}
	}

	msg := fmt.Sprintf("Я підібрав %d варіантів на основі відповідності вашому запиту.", len(recs))
	return recs, msg
}

// queryTokens splits on non-word runes and keeps tokens longer than 2
// runes, lowercased.
func queryTokens(query string) []string {
	var out []string
	for _, t := range tokenSplitRe.Split(strings.ToLower(query), -1) {
		if t != "" && utf8.RuneCountInString(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

func titleParts(p datatypes.SearchResult) []string {
	var parts []string
	for _, v := range []*string{p.TitleUA, p.TitleRU} {
		if v != nil && *v != "" {
			parts = append(parts, *v)
		}
	}
	return parts
}
