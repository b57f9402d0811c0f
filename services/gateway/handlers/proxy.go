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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ta-da/search-gateway/services/gateway/datatypes"
)

const (
	tadaTimeout   = 20 * time.Second
	imageTimeout  = 10 * time.Second
	imageMaxBytes = 10_485_760
	imageRangeHdr = "bytes=0-10485759"
	imageCacheHdr = "public, max-age=86400"
)

// tadaUnavailable is the degraded body the storefront expects when the
// retail API cannot answer.
func tadaUnavailable(reason string) gin.H {
	return gin.H{"error": reason, "price": 0, "rating": 0}
}

// HandleTadaFind serves POST /api/ta-da/find.gcode: price and rating
// lookup proxied to the retail API.
//
// # Description
//
// Always answers 200. Upstream failures, non-200 statuses, and
// non-object bodies all degrade to {"error": ..., "price": 0,
// "rating": 0} so product cards render without prices instead of
// erroring.
func HandleTadaFind(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TadaFindRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}

		lang := req.UserLanguage
		if lang == "" {
			lang = deps.Settings.TaDaDefaultLanguage
		}
		shopID := req.ShopID
		if shopID == "" {
			shopID = deps.Settings.TaDaDefaultShopID
		}

		payload, _ := json.Marshal(gin.H{"shop_id": shopID, "good_code": req.GoodCode})
		endpoint := strings.TrimRight(deps.Settings.TaDaAPIBaseURL, "/") + "/find.gcode"

		ctx, cancel := timeoutContext(c, tadaTimeout)
		defer cancel()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			c.JSON(http.StatusOK, tadaUnavailable("API unavailable"))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Language", lang)
		if token := deps.Settings.TaDaAPIToken; token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		} else {
			slog.Warn("TA-DA API token is not configured")
		}

		resp, err := deps.HTTPClient.Do(httpReq)
		if err != nil {
			slog.Warn("TA-DA proxy error", "error", err)
			recordUpstreamError(deps, "tada_api")
			c.JSON(http.StatusOK, tadaUnavailable("API unavailable"))
			return
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode != http.StatusOK {
			slog.Warn("TA-DA API error", "status", resp.StatusCode, "body", snippet(body, 300))
			recordUpstreamError(deps, "tada_api")
			c.JSON(http.StatusOK, tadaUnavailable("API unavailable"))
			return
		}

		var data map[string]any
		if err := json.Unmarshal(body, &data); err != nil {
			slog.Warn("TA-DA API bad response format", "error", err)
			c.JSON(http.StatusOK, tadaUnavailable("bad_response"))
			return
		}
		c.JSON(http.StatusOK, data)
	}
}

// HandleImageProxy serves GET /api/image-proxy: fetches product images
// from the retail CDN so the storefront avoids mixed-content blocks.
//
// # Description
//
// Only http(s) URLs on ta-da.net.ua / ta-da.ua hosts are allowed.
// Redirects are refused, responses are capped at 10MB, and successful
// bodies go out with a one-day public cache header. Every upstream
// failure collapses to 404 "Image not found".
func HandleImageProxy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := c.Query("url")

		parsed, err := url.Parse(rawURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			c.String(http.StatusBadRequest, "Invalid URL")
			return
		}
		host := parsed.Hostname()
		if !strings.HasSuffix(host, "ta-da.net.ua") && !strings.HasSuffix(host, "ta-da.ua") {
			c.String(http.StatusBadRequest, "Invalid host")
			return
		}

		ctx, cancel := timeoutContext(c, imageTimeout)
		defer cancel()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			c.String(http.StatusNotFound, "Image not found")
			return
		}
		httpReq.Header.Set("Range", imageRangeHdr)

		client := noRedirectClient(deps.HTTPClient)
		resp, err := client.Do(httpReq)
		if err != nil {
			slog.Warn("image proxy error", "url", rawURL, "error", err)
			c.String(http.StatusNotFound, "Image not found")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			c.String(http.StatusBadRequest, "Redirects not allowed")
			return
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > imageMaxBytes {
				c.String(http.StatusRequestEntityTooLarge, "Image too large")
				return
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Warn("image proxy upstream status", "url", rawURL, "status", resp.StatusCode)
			c.String(http.StatusNotFound, "Image not found")
			return
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, imageMaxBytes+1))
		if err != nil || len(body) > imageMaxBytes {
			c.String(http.StatusNotFound, "Image not found")
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/png"
		}
		c.Header("Cache-Control", imageCacheHdr)
		c.Header("Access-Control-Allow-Origin", "*")
		c.Data(http.StatusOK, contentType, body)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func timeoutContext(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// noRedirectClient clones the client with redirects disabled; the proxy
// must see 3xx statuses to refuse them.
func noRedirectClient(base *http.Client) *http.Client {
	clone := *base
	clone.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &clone
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func recordUpstreamError(deps *Deps, upstream string) {
	if deps.Metrics != nil {
		deps.Metrics.UpstreamErrorsTotal.WithLabelValues(upstream).Inc()
	}
}
