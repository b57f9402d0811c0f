// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package searchlog persists per-query search quality records (scores,
// thresholds, top products) to disk for offline relevance analysis.
package searchlog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TopProduct is one logged product with its fused score.
type TopProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Recommended bool    `json:"recommended"`
}

// QueryStats captures the filtering math of one search.
type QueryStats struct {
	TotalFound           int     `json:"total_found"`
	AfterFiltering       int     `json:"after_filtering"`
	FilteringRate        float64 `json:"filtering_rate"`
	MaxScore             float64 `json:"max_score"`
	ThresholdFinal       float64 `json:"threshold_final"`
	ThresholdAdaptiveMin float64 `json:"threshold_adaptive_min"`
	ThresholdDynamic     float64 `json:"threshold_dynamic"`
	SearchTimeMs         float64 `json:"search_time_ms"`
}

// Entry is one logged search query.
type Entry struct {
	Timestamp      string         `json:"timestamp"`
	SessionID      string         `json:"session_id"`
	Query          string         `json:"query"`
	Intent         string         `json:"intent"`
	Subqueries     []string       `json:"subqueries"`
	SearchStats    QueryStats     `json:"search_stats"`
	TopProducts    []TopProduct   `json:"top_products"`
	AdditionalInfo map[string]any `json:"additional_info"`
}

// Logger appends search records to a JSON file plus a human-readable
// companion, grouped by session.
//
// # Thread Safety
//
// File access is serialized by the logger mutex.
type Logger struct {
	mu           sync.Mutex
	logFile      string
	readableFile string

	now func() time.Time
}

// New creates a logger rooted at dir, creating it when missing.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	return &Logger{
		logFile:      filepath.Join(dir, "search_queries.json"),
		readableFile: filepath.Join(dir, "search_queries_readable.txt"),
		now:          time.Now,
	}, nil
}

// LogQuery appends one record.
//
// The timestamp is stamped here; stats ratios and scores are rounded
// for stable, diffable files. Failures are returned, not fatal; search
// logging is best-effort for callers.
func (l *Logger) LogQuery(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Timestamp = l.now().Format("2006-01-02T15:04:05.000000")
	if e.SearchStats.TotalFound > 0 {
		e.SearchStats.FilteringRate = round(float64(e.SearchStats.AfterFiltering)/float64(e.SearchStats.TotalFound), 3)
	}
	e.SearchStats.MaxScore = round(e.SearchStats.MaxScore, 4)
	e.SearchStats.ThresholdFinal = round(e.SearchStats.ThresholdFinal, 4)
	e.SearchStats.ThresholdAdaptiveMin = round(e.SearchStats.ThresholdAdaptiveMin, 4)
	e.SearchStats.ThresholdDynamic = round(e.SearchStats.ThresholdDynamic, 4)
	e.SearchStats.SearchTimeMs = round(e.SearchStats.SearchTimeMs, 2)
	if e.AdditionalInfo == nil {
		e.AdditionalInfo = map[string]any{}
	}

	logs := l.loadLocked()
	logs = append(logs, e)
	return l.saveLocked(logs)
}

// Sessions returns every logged session id, sorted.
func (l *Logger) Sessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]bool{}
	for _, e := range l.loadLocked() {
		if e.SessionID != "" {
			seen[e.SessionID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SessionLogs returns every record of one session in append order.
func (l *Logger) SessionLogs(sessionID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.loadLocked() {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

// SessionReport aggregates one session's records into averages and a
// score distribution. A session with no records yields ok=false.
func (l *Logger) SessionReport(sessionID string) (map[string]any, bool) {
	logs := l.SessionLogs(sessionID)
	if len(logs) == 0 {
		return nil, false
	}

	n := float64(len(logs))
	var sumTime, sumFound, sumFiltered, sumRate, sumMax float64
	var scores []float64
	queries := make([]map[string]any, 0, len(logs))
	for _, e := range logs {
		sumTime += e.SearchStats.SearchTimeMs
		sumFound += float64(e.SearchStats.TotalFound)
		sumFiltered += float64(e.SearchStats.AfterFiltering)
		sumRate += e.SearchStats.FilteringRate
		sumMax += e.SearchStats.MaxScore
		for _, p := range e.TopProducts {
			scores = append(scores, p.Score)
		}
		queries = append(queries, map[string]any{
			"query":     e.Query,
			"timestamp": e.Timestamp,
			"found":     e.SearchStats.TotalFound,
			"filtered":  e.SearchStats.AfterFiltering,
			"max_score": e.SearchStats.MaxScore,
		})
	}

	return map[string]any{
		"session_id":       sessionID,
		"total_queries":    len(logs),
		"first_query_time": logs[0].Timestamp,
		"last_query_time":  logs[len(logs)-1].Timestamp,
		"average_stats": map[string]any{
			"search_time_ms":           round(sumTime/n, 2),
			"products_found":           round(sumFound/n, 1),
			"products_after_filtering": round(sumFiltered/n, 1),
			"filtering_rate":           round(sumRate/n, 3),
			"max_score":                round(sumMax/n, 4),
		},
		"score_distribution": distribution(scores, 4),
		"queries":            queries,
	}, true
}

// Stats aggregates across all sessions.
func (l *Logger) Stats() map[string]any {
	sessions := l.Sessions()

	totalQueries := 0
	var times, scores []float64
	for _, id := range sessions {
		for _, e := range l.SessionLogs(id) {
			totalQueries++
			times = append(times, e.SearchStats.SearchTimeMs)
			for _, p := range e.TopProducts {
				scores = append(scores, p.Score)
			}
		}
	}

	avgPerSession := 0.0
	if len(sessions) > 0 {
		avgPerSession = round(float64(totalQueries)/float64(len(sessions)), 2)
	}
	return map[string]any{
		"total_sessions":              len(sessions),
		"total_queries":               totalQueries,
		"average_queries_per_session": avgPerSession,
		"search_time":                 distribution(times, 2),
		"scores":                      distribution(scores, 4),
	}
}

// =============================================================================
// File I/O
// =============================================================================

func (l *Logger) loadLocked() []Entry {
	raw, err := os.ReadFile(l.logFile)
	if err != nil {
		return nil
	}
	var logs []Entry
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil
	}
	return logs
}

func (l *Logger) saveLocked(logs []Entry) error {
	raw, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.logFile, raw, 0o644); err != nil {
		return err
	}
	return l.writeReadableLocked(logs)
}

// writeReadableLocked renders the grouped-by-session text companion.
func (l *Logger) writeReadableLocked(logs []Entry) error {
	if len(logs) == 0 {
		return nil
	}

	bySession := map[string][]Entry{}
	for _, e := range logs {
		id := e.SessionID
		if id == "" {
			id = "unknown"
		}
		bySession[id] = append(bySession[id], e)
	}
	ids := make([]string, 0, len(bySession))
	for id := range bySession {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	rule := strings.Repeat("=", 100)
	b.WriteString(rule + "\n")
	b.WriteString(center("ЛОГИ ПОШУКОВИХ ЗАПИТІВ", 100) + "\n")
	b.WriteString(center("Згенеровано: "+l.now().Format("2006-01-02 15:04:05"), 100) + "\n")
	b.WriteString(rule + "\n\n")

	for i, id := range ids {
		if i > 0 {
			sep := strings.Repeat("-", 100)
			b.WriteString("\n" + sep + "\n")
			b.WriteString(center("НОВА СЕСІЯ", 100) + "\n")
			b.WriteString(sep + "\n\n")
		}
		entries := bySession[id]
		fmt.Fprintf(&b, "📱 СЕСІЯ: %s\n", id)
		fmt.Fprintf(&b, "📊 Кількість запитів в сесії: %d\n", len(entries))
		fmt.Fprintf(&b, "🕐 Перший запит: %s\n", entries[0].Timestamp)
		fmt.Fprintf(&b, "🕐 Останній запит: %s\n\n", entries[len(entries)-1].Timestamp)

		for qi, e := range entries {
			line := "  " + strings.Repeat("─", 96) + "\n"
			b.WriteString(line)
			fmt.Fprintf(&b, "  Запит #%d\n", qi+1)
			b.WriteString(line)
			fmt.Fprintf(&b, "  🕐 Час:        %s\n", e.Timestamp)
			fmt.Fprintf(&b, "  🔍 Запит:      %s\n", e.Query)
			fmt.Fprintf(&b, "  🎯 Тип:        %s\n", e.Intent)

			s := e.SearchStats
			b.WriteString("\n  📊 СТАТИСТИКА:\n")
			fmt.Fprintf(&b, "     • Знайдено товарів:    %d\n", s.TotalFound)
			fmt.Fprintf(&b, "     • Після фільтрації:    %d (%.1f%%)\n", s.AfterFiltering, s.FilteringRate*100)
			fmt.Fprintf(&b, "     • Max score:           %v\n", s.MaxScore)
			fmt.Fprintf(&b, "     • Поріг фільтрації:    %v\n", s.ThresholdFinal)
			fmt.Fprintf(&b, "     • Час пошуку:          %.0f мс\n", s.SearchTimeMs)

			if len(e.Subqueries) > 0 {
				fmt.Fprintf(&b, "\n  🔎 ПІДЗАПИТИ (%d):\n", len(e.Subqueries))
				for i, sq := range e.Subqueries {
					if i >= 5 {
						break
					}
					fmt.Fprintf(&b, "     %d. %s\n", i+1, sq)
				}
			}
			if len(e.TopProducts) > 0 {
				b.WriteString("\n  🏆 ТОП-10 ТОВАРІВ:\n")
				for i, p := range e.TopProducts {
					if i >= 10 {
						break
					}
					mark := "  "
					if p.Recommended {
						mark = "⭐"
					}
					fmt.Fprintf(&b, "     %s %2d. [%.4f] %s\n", mark, i+1, p.Score, p.Name)
				}
			}
			b.WriteString("\n")
		}
	}

	return os.WriteFile(l.readableFile, []byte(b.String()), 0o644)
}

// =============================================================================
// Helpers
// =============================================================================

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

func distribution(vals []float64, digits int) map[string]any {
	if len(vals) == 0 {
		return map[string]any{"min": 0.0, "max": 0.0, "avg": 0.0}
	}
	minV, maxV, sum := vals[0], vals[0], 0.0
	for _, v := range vals {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += v
	}
	return map[string]any{
		"min": round(minV, digits),
		"max": round(maxV, digits),
		"avg": round(sum/float64(len(vals)), digits),
	}
}

func center(s string, width int) string {
	pad := width - len([]rune(s))
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s
}
