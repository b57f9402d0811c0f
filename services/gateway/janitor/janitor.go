// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package janitor runs the periodic in-memory expiry sweeps: embedding
// cache entries, stored session results, and the search history window.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Background Sweep Scheduler
// =============================================================================

// Target is one named sweep. Sweep returns how many items it removed.
type Target struct {
	Name  string
	Sweep func() int
}

// Config holds the scheduler settings.
//
// # Fields
//
//   - Interval: How often to run the sweep cycle. Default: 5 minutes.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Scheduler periodically runs every registered sweep target.
//
// # Description
//
// Manages the lifecycle of a background goroutine using the ticker +
// done channel pattern for graceful shutdown. Sweeps are synchronous
// and in-memory, so a cycle is cheap and never fails.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	targets []Target
	config  Config
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// New creates a scheduler over the given sweep targets.
func New(config Config, targets ...Target) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Scheduler{
		targets: targets,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Description
//
// Runs an immediate sweep, then one per interval until Stop() is called
// or the context is cancelled.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("janitor is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	slog.Info("janitor starting",
		"interval", s.config.Interval.String(),
		"targets", len(s.targets),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil // Already stopped
	}

	slog.Info("janitor stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow triggers an immediate sweep cycle and returns removals per
// target name.
func (s *Scheduler) RunNow() map[string]int {
	return s.sweepAll()
}

// runLoop is the main scheduler goroutine.
func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run an initial sweep immediately on start
	s.executeSweep()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("janitor stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep()
		}
	}
}

// executeSweep runs one cycle and logs only when something was removed.
func (s *Scheduler) executeSweep() {
	removed := s.sweepAll()

	total := 0
	for _, n := range removed {
		total += n
	}
	if total > 0 {
		args := make([]any, 0, len(removed)*2)
		for name, n := range removed {
			args = append(args, name, n)
		}
		slog.Info("janitor sweep completed", args...)
	} else {
		slog.Debug("janitor sweep completed (nothing expired)")
	}
}

func (s *Scheduler) sweepAll() map[string]int {
	out := make(map[string]int, len(s.targets))
	for _, t := range s.targets {
		out[t.Name] = t.Sweep()
	}
	return out
}
