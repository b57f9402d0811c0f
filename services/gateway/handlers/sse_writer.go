// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes named Server-Sent Events to an HTTP response.
//
// # Description
//
// Each event goes out in the wire format:
//
//	event: {name}
//	data: {json}
//
// and is flushed immediately so the client sees progress in real time.
//
// # Thread Safety
//
// Thread-safe via mutex; the chat stream emits events from the pipeline
// status callback and the handler goroutine concurrently.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter.
//   - Cannot be reused across requests.
type SSEWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps the ResponseWriter for SSE output.
//
// # Outputs
//
//   - *SSEWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter does not support flushing.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders().
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent serializes the payload and writes one named event.
//
// # Inputs
//
//   - name: SSE event name (e.g. "status", "assistant_delta").
//   - payload: JSON-serializable event body.
//
// # Outputs
//
//   - error: Non-nil if marshaling or the write failed.
func (w *SSEWriter) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteStatus writes a status event with a message and status type.
func (w *SSEWriter) WriteStatus(message, statusType string) error {
	return w.WriteEvent("status", map[string]string{
		"message": message,
		"type":    statusType,
	})
}

// WriteError writes an error event with a client-safe message.
func (w *SSEWriter) WriteError(message string) error {
	return w.WriteEvent("error", map[string]string{"message": message})
}

// SetSSEHeaders configures the response headers for SSE streaming.
//
// Must be called before the first write. X-Accel-Buffering disables
// nginx buffering so events are not held back.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
