// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation messages shown to the user, in Ukrainian like the rest of
// the chat surface.
const (
	msgQueryEmpty    = "Запит не може бути порожнім"
	msgQueryShort    = "Запит занадто короткий. Напишіть хоча б 2 символи."
	msgQueryLong     = "Запит занадто довгий. Максимум 500 символів."
	msgQueryNonText  = "Будь ласка, напишіть текстовий запит."
	msgQueryRepeated = "Будь ласка, напишіть коректний запит."
)

// validateQuery applies the cheap syntactic checks before any upstream
// call. Returns ok and the user-facing message when not ok.
func validateQuery(query string) (bool, string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return false, msgQueryEmpty
	}

	n := utf8.RuneCountInString(query)
	if n < 2 {
		return false, msgQueryShort
	}
	if n > 500 {
		return false, msgQueryLong
	}

	if !containsLetter(query) && onlyNonText(query) {
		return false, msgQueryNonText
	}

	if hasLongRepeat(query, 8) {
		return false, msgQueryRepeated
	}

	return true, ""
}

// containsLetter reports whether the query has at least one Latin or
// Ukrainian/Cyrillic letter.
func containsLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= 'а' && r <= 'я') || (r >= 'А' && r <= 'Я') ||
			strings.ContainsRune("іїєґІЇЄҐ", r) {
			return true
		}
	}
	return false
}

// onlyNonText reports whether every rune is a digit, space, or symbol.
func onlyNonText(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if unicode.IsLetter(r) || r == '_' {
			return false
		}
	}
	return true
}

// hasLongRepeat reports whether any rune repeats runLen+ times in a row.
// Regexp backreferences are unavailable in RE2, so this is a plain scan.
func hasLongRepeat(s string, runLen int) bool {
	var prev rune
	count := 0
	for _, r := range s {
		if r == prev {
			count++
			if count >= runLen {
				return true
			}
		} else {
			prev = r
			count = 1
		}
	}
	return false
}
