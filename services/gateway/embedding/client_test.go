// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ta-da/search-gateway/services/gateway/cache"
	"github.com/ta-da/search-gateway/services/gateway/observability"
)

func newTestClient(t *testing.T, url string, dim int) *Client {
	t.Helper()
	vc, err := cache.New[[]float32](100, time.Hour)
	require.NoError(t, err)
	return NewClient(Config{
		APIURL:        url,
		Model:         "test-model",
		Dimension:     dim,
		MaxConcurrent: 2,
		SingleTimeout: 5 * time.Second,
		MaxRetries:    1,
	}, nil, vc, observability.NewTestMetrics())
}

func vecOfDim(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) * 0.1
	}
	return v
}

func TestEmbedEmptyTextSkipsUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEmbedParsesFirstPayloadShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload["model"])
		assert.Equal(t, "hammer", payload["prompt"])
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(4)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "hammer")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestEmbedFallsBackOnDimensionMismatch(t *testing.T) {
	// First shape answers with the wrong dimension; the client must move
	// on to the "input" shape and accept its valid vector.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if _, hasPrompt := payload["prompt"]; hasPrompt {
			calls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(7)})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(4)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "drill")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(1), calls.Load(), "wrong-dimension shape must not be retried")
}

func TestEmbedParsesNestedAndDataShapes(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"embeddings list of lists", map[string]any{"embeddings": [][]float32{vecOfDim(4), vecOfDim(4)}}},
		{"openai data shape", map[string]any{"data": []map[string]any{{"embedding": vecOfDim(4)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, 4)
			vec, err := c.Embed(context.Background(), "saw")
			require.NoError(t, err)
			assert.Len(t, vec, 4)
		})
	}
}

func TestEmbedCacheHitAvoidsSecondCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(4)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	first, err := c.Embed(context.Background(), "ladder")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "ladder")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second call must be served from cache")
}

func TestEmbedClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "nails")
	require.Error(t, err)
	assert.Nil(t, vec)
	// One attempt per payload shape, no retries on 4xx.
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(4)})
	}))
	defer srv.Close()

	vc, err := cache.New[[]float32](10, time.Hour)
	require.NoError(t, err)
	c := NewClient(Config{
		APIURL:        srv.URL,
		Model:         "test-model",
		Dimension:     4,
		MaxRetries:    2,
		SingleTimeout: 5 * time.Second,
	}, nil, vc, observability.NewTestMetrics())

	vec, err := c.Embed(context.Background(), "tape")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedBatchPreservesOrderAndToleratesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		text, _ := payload["prompt"].(string)
		if text == "" {
			// The client falls back through "input" payload shapes; the
			// failing text must fail on every shape.
			if s, ok := payload["input"].(string); ok {
				text = s
			} else if arr, ok := payload["input"].([]any); ok && len(arr) > 0 {
				text, _ = arr[0].(string)
			}
		}
		if text == "broken" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecOfDim(4)})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	out := c.EmbedBatch(context.Background(), []string{"one", "broken", "two"})

	require.Len(t, out, 3)
	assert.NotNil(t, out[0])
	assert.Nil(t, out[1], "a failed text yields a nil slot, not a batch failure")
	assert.NotNil(t, out[2])
}

func TestHashTextIsModelAndDimensionScoped(t *testing.T) {
	vc, err := cache.New[[]float32](10, time.Hour)
	require.NoError(t, err)
	a := NewClient(Config{Model: "m1", Dimension: 4}, nil, vc, nil)
	b := NewClient(Config{Model: "m2", Dimension: 4}, nil, vc, nil)
	cClient := NewClient(Config{Model: "m1", Dimension: 8}, nil, vc, nil)

	assert.NotEqual(t, a.hashText("q"), b.hashText("q"))
	assert.NotEqual(t, a.hashText("q"), cClient.hashText("q"))
	assert.Equal(t, a.hashText("q"), a.hashText("q"))
}
