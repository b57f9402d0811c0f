// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns query text into vectors via an HTTP embedding
// service, with caching, retries, payload-shape fallback, and bounded
// concurrency for batch generation.
package embedding

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/ta-da/search-gateway/services/gateway/cache"
	"github.com/ta-da/search-gateway/services/gateway/observability"
)

// Config holds the embedding client settings.
type Config struct {
	// APIURL is the embedding endpoint (POST JSON).
	APIURL string
	// Model is sent in every payload and keyed into the cache hash.
	Model string
	// Dimension is the expected vector length; mismatched responses are
	// rejected and the next payload shape is tried.
	Dimension int
	// MaxConcurrent bounds parallel upstream calls in EmbedBatch.
	MaxConcurrent int
	// SingleTimeout is the per-call deadline.
	SingleTimeout time.Duration
	// MaxRetries is the attempt count per payload shape.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.SingleTimeout <= 0 {
		c.SingleTimeout = 20 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client generates embeddings with a process-wide TTL cache in front of
// the upstream service.
//
// # Thread Safety
//
// Safe for concurrent use; the cache carries its own lock and the
// semaphore bounds upstream fan-out.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.TTLCache[[]float32]
	sem        *semaphore.Weighted
	metrics    *observability.SearchMetrics
}

// NewClient creates an embedding client.
//
// # Inputs
//
//   - cfg: Endpoint, model, dimension, and concurrency settings.
//   - httpClient: Shared HTTP client; nil uses http.DefaultClient.
//   - vectorCache: TTL cache for generated vectors; must be non-nil.
//   - metrics: Gateway metrics; nil disables instrumentation.
func NewClient(cfg Config, httpClient *http.Client, vectorCache *cache.TTLCache[[]float32],
	metrics *observability.SearchMetrics) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      vectorCache,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		metrics:    metrics,
	}
}

// hashText builds the cache key: md5 of "model|dimension|text".
func (c *Client) hashText(text string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%s", c.cfg.Model, c.cfg.Dimension, text)))
	return hex.EncodeToString(sum[:])
}

// Embed generates (or recalls) the vector for one text.
//
// # Description
//
// Text is trimmed; empty text returns (nil, nil) without an upstream
// call. On a cache miss the upstream is tried with up to three payload
// shapes, each with retries. Failures return a nil vector and the last
// error; callers degrade rather than crash.
//
// # Inputs
//
//   - ctx: Cancels the upstream call; the per-call timeout is layered on top.
//   - text: Query text to embed.
//
// # Outputs
//
//   - []float32: Vector of the configured dimension, or nil.
//   - error: Non-nil when every payload shape failed.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	key := c.hashText(text)
	if v, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.EmbeddingCacheHits.Inc()
		}
		return v, nil
	}
	if c.metrics != nil {
		c.metrics.EmbeddingCacheMisses.Inc()
	}

	t0 := time.Now()
	vec, err := c.callAPI(ctx, text)
	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrorsTotal.WithLabelValues("embedding").Inc()
		}
		slog.Error("embedding generation failed", "error", err)
		return nil, err
	}

	c.cache.Put(key, vec)
	slog.Debug("embedding generated", "duration_ms", time.Since(t0).Milliseconds())
	return vec, nil
}

// EmbedBatch generates vectors for all texts, preserving input order.
//
// # Description
//
// Fan-out is bounded by the configured semaphore so a burst of
// subqueries cannot stampede the upstream. Failed entries come back as
// nil; the batch itself never fails.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	out := make([][]float32, len(texts))

	// Bounded fan-out; each goroutine writes only its own index.
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer c.sem.Release(1)

			vec, err := c.Embed(ctx, text)
			if err != nil || vec == nil {
				return
			}
			out[i] = vec
		}(i, text)
	}
	wg.Wait()

	okCount := 0
	for _, v := range out {
		if v != nil {
			okCount++
		}
	}

	slog.Info("batch embedding completed", "requested", len(texts), "succeeded", okCount)
	return out
}

// =============================================================================
// Upstream Protocol
// =============================================================================

// embedResponse mirrors the response keys the upstream may use.
type embedResponse struct {
	Embedding  json.RawMessage `json:"embedding"`
	Embeddings json.RawMessage `json:"embeddings"`
	Data       []struct {
		Embedding json.RawMessage `json:"embedding"`
	} `json:"data"`
}

// callAPI posts the text with up to three payload shapes, accepting the
// first structurally valid response of the right dimension.
func (c *Client) callAPI(ctx context.Context, text string) ([]float32, error) {
	payloads := []map[string]any{
		{"model": c.cfg.Model, "prompt": text},
		{"model": c.cfg.Model, "input": text},
		{"model": c.cfg.Model, "input": []string{text}},
	}

	var lastErr error
	for _, payload := range payloads {
		vec, err := c.postWithRetry(ctx, payload)
		if err != nil {
			lastErr = err
			slog.Debug("embedding payload shape failed", "error", err)
			continue
		}
		return vec, nil
	}
	if lastErr == nil {
		lastErr = &UpstreamError{Message: "no payload shape produced a valid vector"}
	}
	return nil, fmt.Errorf("all embedding payload shapes failed: %w", lastErr)
}

// postWithRetry sends one payload shape with exponential backoff.
//
// Backoff: 1s base, x2, capped at 10s, up to cfg.MaxRetries attempts.
// Only retryable upstream failures are re-attempted; 4xx responses and
// shape/dimension rejections abort immediately.
func (c *Client) postWithRetry(ctx context.Context, payload map[string]any) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second

	var vec []float32
	operation := func() error {
		v, err := c.postOnce(ctx, payload)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries-1)), ctx))
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) postOnce(ctx context.Context, payload map[string]any) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SingleTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport and timeout failures are retryable.
		return nil, &UpstreamError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    string(snippet),
			Retryable:  isRetryableStatusCode(resp.StatusCode),
		}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("decode response: %v", err)}
	}

	raw := parsed.Embedding
	if raw == nil {
		raw = parsed.Embeddings
	}
	if raw == nil && len(parsed.Data) > 0 {
		raw = parsed.Data[0].Embedding
	}
	if raw == nil {
		return nil, &UpstreamError{Message: "response carries no embedding key"}
	}

	vec, err := parseVector(raw)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	if c.cfg.Dimension > 0 && len(vec) != c.cfg.Dimension {
		return nil, &UpstreamError{
			Message: fmt.Sprintf("dimension mismatch: expected %d, got %d", c.cfg.Dimension, len(vec)),
		}
	}
	return vec, nil
}

// parseVector accepts a flat vector or a list of vectors (first row wins).
func parseVector(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("empty embedding")
		}
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	return nil, fmt.Errorf("embedding is neither a vector nor a list of vectors")
}
