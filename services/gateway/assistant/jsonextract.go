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
	"encoding/json"
	"log/slog"
	"regexp"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON digs a JSON object out of a model reply.
//
// # Description
//
// Three attempts, in order: a fenced code block, the longest balanced
// {...} substring that parses, and finally the whole text. A reply with
// no recoverable object yields an empty map, never an error; callers
// treat missing keys as the failure signal.
func ExtractJSON(text string) map[string]any {
	if text == "" {
		return map[string]any{}
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		var obj map[string]any
		if err := json.Unmarshal([]byte(m[1]), &obj); err == nil {
			return obj
		}
	}

	// Longest balanced object that parses wins.
	var best map[string]any
	maxLen := 0
	depth, start := 0, -1
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if len(candidate) > maxLen {
					var obj map[string]any
					if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
						best, maxLen = obj, len(candidate)
					}
				}
			}
		}
	}
	if best != nil {
		return best
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}

	snippet := text
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	slog.Warn("failed to extract JSON from model reply", "snippet", snippet)
	return map[string]any{}
}
