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
	"log/slog"
	"sort"
	"strings"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// MatchText scores every non-special category by keyword-stem hits in
// text and returns up to topN codes, best first. Ties follow schema
// order so results are deterministic.
func MatchText(text string, topN int) []string {
	text = strings.ToLower(text)

	type scored struct {
		code  string
		score int
	}
	var matches []scored
	for _, c := range Schema {
		if c.Special {
			continue
		}
		score := 0
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{c.Code, score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if topN > len(matches) {
		topN = len(matches)
	}
	out := make([]string, 0, topN)
	for _, m := range matches[:topN] {
		out = append(out, m.code)
	}
	return out
}

// Assign picks the single best category for a product, or "" when no
// keyword matches.
func Assign(r datatypes.SearchResult) string {
	text := r.CombinedText()
	if text == "" {
		return ""
	}
	if matches := MatchText(text, 1); len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// Aggregate groups products into category buckets and rolls child
// buckets up into their parent.
//
// # Description
//
// Rollup fires when the children jointly hold more products than the
// parent and at least 3: the child buckets are drained into the parent
// so the UI shows one strong category instead of several slivers.
func Aggregate(products []datatypes.SearchResult) map[string][]datatypes.SearchResult {
	buckets := map[string][]datatypes.SearchResult{}
	for _, p := range products {
		if code := Assign(p); code != "" {
			buckets[code] = append(buckets[code], p)
		}
	}

	for parent, children := range Hierarchy() {
		childCount := 0
		for _, child := range children {
			childCount += len(buckets[child])
		}
		if childCount > len(buckets[parent]) && childCount >= 3 {
			for _, child := range children {
				buckets[parent] = append(buckets[parent], buckets[child]...)
				delete(buckets, child)
			}
		}
	}
	return buckets
}

// Categorize selects the categories shown for a result set.
//
// # Description
//
// Buckets with fewer than 2 products are dropped. The survivors are
// taken biggest-first until either the adaptive category cap (4/6/8/10
// at <20/<50/<100/more products) or 70% product coverage is reached,
// with a floor of 3 categories. When nothing survives, a single
// "Всі товари" bucket holds the top 50 product ids under MiscCode.
//
// # Outputs
//
//   - []string: Display labels in selection order.
//   - map[string][]string: Product ids keyed by category code.
func Categorize(products []datatypes.SearchResult) ([]string, map[string][]string) {
	slog.Info("local categorization", "products", len(products))

	buckets := Aggregate(products)

	valid := map[string][]datatypes.SearchResult{}
	for code, prods := range buckets {
		if len(prods) >= 2 {
			valid[code] = prods
		}
	}

	if len(valid) == 0 {
		n := min(len(products), 50)
		ids := make([]string, 0, n)
		for _, p := range products[:n] {
			ids = append(ids, p.ID)
		}
		return []string{AllProductsLabel}, map[string][]string{MiscCode: ids}
	}

	sortedCodes := sortByCount(valid)

	total := len(products)
	var maxCategories int
	switch {
	case total < 20:
		maxCategories = 4
	case total < 50:
		maxCategories = 6
	case total < 100:
		maxCategories = 8
	default:
		maxCategories = 10
	}

	targetCoverage := float64(total) * 0.7
	var topCodes []string
	covered := 0
	for _, code := range sortedCodes {
		if len(topCodes) >= maxCategories {
			break
		}
		topCodes = append(topCodes, code)
		covered += len(valid[code])
		if float64(covered) >= targetCoverage {
			break
		}
	}
	if len(topCodes) < 3 {
		topCodes = sortedCodes[:min(3, len(sortedCodes))]
	}

	labels := make([]string, 0, len(topCodes))
	idBuckets := make(map[string][]string, len(topCodes))
	for _, code := range topCodes {
		label := code
		if c, ok := ByCode(code); ok {
			label = c.Label
		}
		labels = append(labels, label)
		ids := make([]string, 0, len(valid[code]))
		for _, p := range valid[code] {
			ids = append(ids, p.ID)
		}
		idBuckets[code] = ids
	}

	slog.Info("categories selected",
		"count", len(labels), "covered", covered, "total", total)
	return labels, idBuckets
}

// Payload shapes id buckets into UI category options: the recommended
// bucket first (marked special), then the rest by count descending.
func Payload(idBuckets map[string][]string) []datatypes.CategoryOption {
	var out []datatypes.CategoryOption

	if ids, ok := idBuckets[RecommendedCode]; ok {
		rec := byCode[RecommendedCode]
		out = append(out, datatypes.CategoryOption{
			Code:    RecommendedCode,
			Label:   rec.Label,
			Emoji:   rec.Emoji,
			Count:   len(ids),
			Special: true,
		})
	}

	var rest []datatypes.CategoryOption
	for code, ids := range idBuckets {
		if code == RecommendedCode {
			continue
		}
		label, emoji := code, DefaultEmoji
		if code == MiscCode {
			label = AllProductsLabel
		}
		if c, ok := ByCode(code); ok {
			label, emoji = c.Label, c.Emoji
		}
		rest = append(rest, datatypes.CategoryOption{Code: code, Label: label, Emoji: emoji, Count: len(ids)})
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Count != rest[j].Count {
			return rest[i].Count > rest[j].Count
		}
		return rest[i].Code < rest[j].Code
	})

	return append(out, rest...)
}

// sortByCount orders bucket codes by size descending, ties broken by
// schema order then code.
func sortByCount(buckets map[string][]datatypes.SearchResult) []string {
	codes := make([]string, 0, len(buckets))
	for code := range buckets {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := len(buckets[codes[i]]), len(buckets[codes[j]])
		if ci != cj {
			return ci > cj
		}
		si, iok := schemaIndex[codes[i]]
		sj, jok := schemaIndex[codes[j]]
		if iok && jok && si != sj {
			return si < sj
		}
		return codes[i] < codes[j]
	})
	return codes
}
