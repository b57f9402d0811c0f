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
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/ta-da/search-gateway/services/gateway/assistant"
	"github.com/ta-da/search-gateway/services/gateway/datatypes"
	"github.com/ta-da/search-gateway/services/gateway/pipeline"
)

// statusUpdate is one progress notification from the pipeline.
type statusUpdate struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// noResultsSuggestions are offered to the user when a search comes back
// empty over the stream.
var noResultsSuggestions = []string{
	"Спробуйте інше формулювання",
	"Оберіть категорію з меню",
	"Уточніть характеристики товару",
}

// HandleChatSSE serves GET /chat/search/sse: the streaming variant of
// the chat turn.
//
// # Description
//
// Event sequence: an immediate "Думаю..." status, pipeline status
// updates as they happen, the assistant message replayed rune by rune
// (assistant_start / assistant_delta / assistant_end), the search
// events for product turns (no_results, or candidates + categories +
// recommendations), and a "final" event carrying the full chat
// response. Failures end the stream with an "error" event.
//
// dialog_context_b64 and search_history_b64 are URL-safe base64 JSON;
// undecodable values are ignored so a broken client still gets a
// stream.
func HandleChatSSE(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("query"))
		sessionID := c.Query("session_id")
		k, _ := strconv.Atoi(c.DefaultQuery("k", "50"))
		dialogContext := datatypes.DecodeDialogContext(c.Query("dialog_context_b64"))
		history := datatypes.DecodeSearchHistory(c.Query("search_history_b64"))

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.String(http.StatusInternalServerError, "Streaming not supported")
			return
		}

		if deps.Metrics != nil {
			deps.Metrics.ActiveSSEStreams.Inc()
			defer deps.Metrics.ActiveSSEStreams.Dec()
		}

		slog.Info("chat sse", "query", query, "session_id", sessionID)
		_ = writer.WriteStatus("Думаю...", "thinking")

		// The pipeline runs in its own goroutine and feeds progress
		// through the status channel; the handler goroutine owns the
		// response writer.
		statusCh := make(chan statusUpdate, 16)
		outCh := make(chan *pipeline.Outcome, 1)
		go func() {
			defer close(statusCh)
			defer func() {
				if r := recover(); r != nil {
					slog.Error("chat sse pipeline panicked", "panic", r, "query", query)
					outCh <- nil
				}
			}()
			outCh <- deps.Pipeline.Run(c.Request.Context(), pipeline.Request{
				Query:            query,
				SessionID:        sessionID,
				K:                k,
				SelectedCategory: c.Query("selected_category"),
				DialogContext:    dialogContext,
				History:          history,
				Status: func(statusType, message string) {
					select {
					case statusCh <- statusUpdate{Type: statusType, Message: message}:
					default:
					}
				},
			})
		}()

		for update := range statusCh {
			_ = writer.WriteEvent("status", update)
		}
		out := <-outCh
		if out == nil {
			_ = writer.WriteError("Вибачте, виникла помилка: internal error")
			recordSSEOutcome(deps, "error")
			return
		}

		streamAssistantMessage(deps, writer, out.AssistantMessage)

		if out.Action == assistant.ActionProductSearch {
			switch {
			case out.State == pipeline.StateNoResults:
				_ = writer.WriteEvent("no_results", gin.H{
					"message":     out.AssistantMessage,
					"suggestions": noResultsSuggestions,
				})
			case len(out.Results) > 0:
				_ = writer.WriteEvent("candidates", gin.H{"count": len(out.Results)})
				if len(out.Categories) > 0 {
					_ = writer.WriteEvent("categories", gin.H{"items": out.Categories})
				}
				if len(out.Recommendations) > 0 {
					_ = writer.WriteEvent("recommendations", gin.H{
						"count":             len(out.Recommendations),
						"assistant_message": out.AssistantMessage,
					})
				}
			}
		}

		_ = writer.WriteEvent("final", out.ChatResponse())
		recordSSEOutcome(deps, out.State)
	}
}

// streamAssistantMessage replays the message one rune at a time so the
// widget can animate typing. Slow mode paces the replay.
func streamAssistantMessage(deps *Deps, writer *SSEWriter, message string) {
	if message == "" {
		return
	}
	_ = writer.WriteEvent("assistant_start", gin.H{"length": utf8.RuneCountInString(message)})
	for _, r := range message {
		_ = writer.WriteEvent("assistant_delta", gin.H{"text": string(r)})
		if deps.Settings != nil && deps.Settings.SSESlowMode {
			time.Sleep(deps.Settings.SSEDelay())
		}
	}
	_ = writer.WriteEvent("assistant_end", gin.H{})
}

func recordSSEOutcome(deps *Deps, outcome string) {
	if deps.Metrics != nil {
		deps.Metrics.RequestsTotal.WithLabelValues("chat_sse", outcome).Inc()
	}
}
