// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session keeps per-session search result sets for pagination
// and a process-wide search history window.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

// Config holds the store's retention settings.
type Config struct {
	// MaxSessions bounds the number of retained result sets; the oldest
	// sessions are evicted beyond it.
	MaxSessions int
	// SessionTTL is the result set lifetime.
	SessionTTL time.Duration
	// MaxHistory bounds the history window length.
	MaxHistory int
	// HistoryTTL expires history entries.
	HistoryTTL time.Duration
	// DefaultBatch is the page size when a fetch passes limit <= 0.
	DefaultBatch int
}

type record struct {
	results       []datatypes.SearchResult
	totalFound    int
	dialogContext map[string]any
	storedAt      time.Time
}

// Store holds result sets keyed by session id plus the history window.
//
// # Thread Safety
//
// All operations take the store mutex; the store is shared by request
// handlers and the background janitor.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	history  []datatypes.SearchHistoryItem
	sessions map[string]*record

	now func() time.Time
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 300
	}
	if cfg.DefaultBatch <= 0 {
		cfg.DefaultBatch = 20
	}
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*record),
		now:      time.Now,
	}
}

// =============================================================================
// Search History
// =============================================================================

// AddSearch appends a history entry, trimming the window to MaxHistory.
func (s *Store) AddSearch(query string, keywords []string, resultsCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, datatypes.SearchHistoryItem{
		Query:        query,
		Keywords:     keywords,
		Timestamp:    float64(s.now().UnixNano()) / float64(time.Second),
		ResultsCount: resultsCount,
	})
	if s.cfg.MaxHistory > 0 && len(s.history) > s.cfg.MaxHistory {
		s.history = s.history[len(s.history)-s.cfg.MaxHistory:]
	}
}

// RecentHistory returns the newest limit entries, oldest first.
func (s *Store) RecentHistory(limit int) []datatypes.SearchHistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]datatypes.SearchHistoryItem, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// SweepHistory drops entries older than HistoryTTL and returns the count.
func (s *Store) SweepHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.HistoryTTL <= 0 {
		return 0
	}
	nowSec := float64(s.now().UnixNano()) / float64(time.Second)
	ttlSec := s.cfg.HistoryTTL.Seconds()

	kept := s.history[:0]
	for _, h := range s.history {
		if nowSec-h.Timestamp < ttlSec {
			kept = append(kept, h)
		}
	}
	removed := len(s.history) - len(kept)
	s.history = kept
	return removed
}

// =============================================================================
// Session Result Sets
// =============================================================================

// StoreResults saves the full result set for a session.
//
// When the store exceeds MaxSessions, the oldest sessions (by store
// time) are evicted until the bound holds again.
func (s *Store) StoreResults(sessionID string, results []datatypes.SearchResult, totalFound int, dialogContext map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = &record{
		results:       results,
		totalFound:    totalFound,
		dialogContext: dialogContext,
		storedAt:      s.now(),
	}

	excess := len(s.sessions) - s.cfg.MaxSessions
	if excess <= 0 {
		return
	}

	type aged struct {
		id string
		at time.Time
	}
	all := make([]aged, 0, len(s.sessions))
	for id, rec := range s.sessions {
		all = append(all, aged{id, rec.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:excess] {
		delete(s.sessions, a.id)
	}
	slog.Info("evicted old sessions", "count", excess, "limit", s.cfg.MaxSessions)
}

// FetchResults returns one pagination batch from a stored result set.
//
// # Description
//
// A missing session yields the empty batch. Expiry is checked lazily:
// a session past its TTL is deleted on access and also yields the empty
// batch. The returned Offset is the index just past the batch, i.e. the
// next offset to request.
func (s *Store) FetchResults(sessionID string, offset, limit int) datatypes.LoadMoreResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := datatypes.LoadMoreResponse{Products: []datatypes.SearchResult{}}

	rec, ok := s.sessions[sessionID]
	if !ok {
		return empty
	}
	if s.cfg.SessionTTL > 0 && s.now().Sub(rec.storedAt) > s.cfg.SessionTTL {
		delete(s.sessions, sessionID)
		return empty
	}

	if limit <= 0 {
		limit = s.cfg.DefaultBatch
	}
	if offset < 0 {
		offset = 0
	}

	end := min(offset+limit, len(rec.results))
	start := min(offset, end)

	batch := make([]datatypes.SearchResult, end-start)
	copy(batch, rec.results[start:end])

	return datatypes.LoadMoreResponse{
		Products:   batch,
		Offset:     end,
		HasMore:    end < len(rec.results),
		TotalFound: rec.totalFound,
	}
}

// DialogContext returns the dialog context stored with a live session.
func (s *Store) DialogContext(sessionID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return rec.dialogContext
}

// ClearResults drops one session's result set.
func (s *Store) ClearResults(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// SweepExpired removes every session past its TTL and returns the count.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.SessionTTL <= 0 {
		return 0
	}
	now := s.now()
	removed := 0
	for id, rec := range s.sessions {
		if now.Sub(rec.storedAt) > s.cfg.SessionTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("cleaned expired sessions", "count", removed)
	}
	return removed
}

// Len returns the number of retained sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SetClock overrides the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
