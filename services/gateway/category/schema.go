// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package category groups search results into storefront categories by
// keyword matching, with a parent/child rollup and payload shaping for
// the chat UI.
package category

// Category describes one node of the storefront taxonomy.
//
// Keywords are lowercase stems matched as substrings against product
// text, which keeps Ukrainian and Russian inflections in reach without
// morphological analysis.
type Category struct {
	Code     string
	Label    string
	Emoji    string
	Keywords []string
	Parent   string
	Special  bool
}

// RecommendedCode is the special bucket fed by the re-ranker rather
// than keyword matching.
const RecommendedCode = "recommended"

// MiscCode and AllProductsLabel form the fallback bucket when no real
// category gathers enough products.
const (
	MiscCode         = "misc"
	AllProductsLabel = "Всі товари"
)

// DefaultEmoji is used for codes outside the schema (e.g. misc).
const DefaultEmoji = "📦"

// Schema is the taxonomy in display order, tuned to the TA-DA
// assortment.
var Schema = []Category{
	{
		Code:  "clothing",
		Label: "Одяг",
		Emoji: "👕",
		Keywords: []string{
			"одяг", "одежд", "футболк", "сороч", "штан", "брюк", "джинс",
			"куртк", "кофт", "светр", "худі", "платт", "сукн", "спідниц",
		},
	},
	{Code: "clothing_men", Label: "Чоловічий одяг", Emoji: "👔", Keywords: []string{"чоловіч", "мужск"}, Parent: "clothing"},
	{Code: "clothing_women", Label: "Жіночий одяг", Emoji: "👗", Keywords: []string{"жіноч", "женск"}, Parent: "clothing"},
	{
		Code:     "clothing_kids",
		Label:    "Дитячий одяг",
		Emoji:    "👶",
		Keywords: []string{"дитяч", "детск", "для хлопчик", "для дівчинк"},
		Parent:   "clothing",
	},
	{
		Code:  "footwear",
		Label: "Взуття",
		Emoji: "👟",
		Keywords: []string{
			"взутт", "обув", "капці", "тапочк", "шльопанц", "черевик",
			"чобіт", "кросівк", "туфл", "босоніжк",
		},
	},
	{
		Code:  "accessories",
		Label: "Аксесуари",
		Emoji: "🧦",
		Keywords: []string{
			"шкарп", "носк", "колгот", "панчох", "шапк", "шарф",
			"рукавиц", "перчатк", "ремін", "пояс", "сумк", "рюкзак",
		},
	},
	{
		Code:     "toys",
		Label:    "Іграшки",
		Emoji:    "🧸",
		Keywords: []string{"іграш", "игруш", "ляльк", "кукл", "машинк", "конструктор", "пазл", "м'яч", "плюш"},
	},
	{
		Code:     "toys_educational",
		Label:    "Розвиваючі іграшки",
		Emoji:    "🎓",
		Keywords: []string{"розвива", "навчал", "освітн"},
		Parent:   "toys",
	},
	{
		Code:     "kitchen",
		Label:    "Кухонні товари",
		Emoji:    "🍳",
		Keywords: []string{"посуд", "кухн", "кастр", "сковор", "таріл", "чашк", "келих", "ложк", "вилк", "ніж"},
	},
	{
		Code:     "household",
		Label:    "Побутова хімія",
		Emoji:    "🧹",
		Keywords: []string{"миюч", "чист", "прання", "засіб", "порошок", "гель", "швабр", "щітк", "губк", "ганчір"},
	},
	{
		Code:     "cosmetics",
		Label:    "Косметика та гігієна",
		Emoji:    "💄",
		Keywords: []string{"косметик", "гігієн", "шампун", "мило", "крем", "зубн паст", "дезодоран"},
	},
	{
		Code:     "stationery",
		Label:    "Канцелярія",
		Emoji:    "✏️",
		Keywords: []string{"зошит", "ручк", "олівц", "карандаш", "пенал", "папір", "блокнот", "фарб", "маркер"},
	},
	{
		Code:     "home",
		Label:    "Товари для дому",
		Emoji:    "🏠",
		Keywords: []string{"для дому", "домашн", "декор", "текстиль", "рушник", "постільн", "подушк", "ковдр"},
	},
	{
		Code:    RecommendedCode,
		Label:   "⭐ Рекомендовано для вас",
		Emoji:   "⭐",
		Special: true,
	},
}

var (
	byCode      = map[string]Category{}
	schemaIndex = map[string]int{}
)

func init() {
	for i, c := range Schema {
		byCode[c.Code] = c
		schemaIndex[c.Code] = i
	}
}

// ByCode looks a category up by its code.
func ByCode(code string) (Category, bool) {
	c, ok := byCode[code]
	return c, ok
}

// Hierarchy maps each parent code to its child codes in schema order.
func Hierarchy() map[string][]string {
	h := map[string][]string{}
	for _, c := range Schema {
		if c.Parent != "" {
			h[c.Parent] = append(h[c.Parent], c.Code)
		}
	}
	return h
}
