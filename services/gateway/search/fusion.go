// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"sort"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// rrfConstant dampens rank differences in reciprocal rank fusion.
const rrfConstant = 30

// WeightedMerge fuses two hit lists by normalized-score blending.
//
// # Description
//
// Each list's scores are normalized by that list's own maximum, then
// blended as alpha*semantic + (1-alpha)*lexical. When one side is empty
// (or all-zero), its weight collapses onto the other so a single-leg
// result still spans [0, 1]. The semantic copy of a duplicate hit wins
// the pool, keeping its source record.
//
// # Inputs
//
//   - sem: Semantic leg hits, engine score order.
//   - bm: Lexical leg hits, engine score order.
//   - k: Maximum fused hits returned.
//   - alpha: Semantic weight in [0, 1].
//
// # Outputs
//
//   - []datatypes.Hit: Fused hits, score descending, at most k entries.
func WeightedMerge(sem, bm []datatypes.Hit, k int, alpha float64) []datatypes.Hit {
	beta := 1.0 - alpha

	var maxSem, maxBM float64
	for _, h := range sem {
		if h.Score > maxSem {
			maxSem = h.Score
		}
	}
	for _, h := range bm {
		if h.Score > maxBM {
			maxBM = h.Score
		}
	}

	if maxSem <= 0 {
		alpha, beta = 0.0, 1.0
	}
	if maxBM <= 0 {
		alpha, beta = 1.0, 0.0
	}

	combined := make(map[string]float64)
	pool := make(map[string]datatypes.Hit)

	for _, h := range sem {
		pool[h.ID] = h
		combined[h.ID] += alpha * (h.Score / maxOr1(maxSem))
	}
	for _, h := range bm {
		if _, seen := pool[h.ID]; !seen {
			pool[h.ID] = h
		}
		combined[h.ID] += beta * (h.Score / maxOr1(maxBM))
	}

	return rankPool(combined, pool, k)
}

// RRFMerge fuses two hit lists by reciprocal rank.
//
// Each appearance contributes 1/(c + rank + 1) with c = rrfConstant, so
// fused scores depend only on positions, never on raw score scales.
func RRFMerge(sem, bm []datatypes.Hit, k int) []datatypes.Hit {
	scores := make(map[string]float64)
	pool := make(map[string]datatypes.Hit)

	for r, h := range sem {
		pool[h.ID] = h
		scores[h.ID] += 1.0 / float64(rrfConstant+r+1)
	}
	for r, h := range bm {
		if _, seen := pool[h.ID]; !seen {
			pool[h.ID] = h
		}
		scores[h.ID] += 1.0 / float64(rrfConstant+r+1)
	}

	return rankPool(scores, pool, k)
}

// rankPool orders fused scores descending (ties broken by id for
// determinism), stamps them onto the pooled hits, and cuts to k.
func rankPool(scores map[string]float64, pool map[string]datatypes.Hit, k int) []datatypes.Hit {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if k > len(ids) {
		k = len(ids)
	}
	out := make([]datatypes.Hit, 0, k)
	for _, id := range ids[:k] {
		h := pool[id]
		h.Score = scores[id]
		out = append(out, h)
	}
	return out
}

func maxOr1(v float64) float64 {
	if v > 0 {
		return v
	}
	return 1
}
