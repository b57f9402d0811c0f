// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ta-da/search-gateway/services/gateway/config"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{
		ElasticURL:             "http://localhost:9200",
		EmbeddingAPIURL:        "http://localhost:9001/api/embeddings",
		EmbeddingModel:         "test-model",
		IndexName:              "products_test",
		VectorDimension:        8,
		EmbedCacheSize:         16,
		RequestTimeout:         30,
		MaxRetries:             1,
		CacheTTLSeconds:        60,
		KNNNumCandidates:       100,
		HybridAlpha:            0.7,
		HybridFusion:           "weighted",
		MaxSessions:            10,
		CleanupIntervalSeconds: 300,
		Port:                   "0",
		FrontendOriginsCSV:     "*",
		SearchLogsDir:          t.TempDir(),
	}
}

func TestNewAssemblesService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, err := New(testSettings(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NotNil(t, svc.Router())

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewDisablesSearchLogsOnBadDir(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testSettings(t)
	cfg.SearchLogsDir = "/dev/null/impossible"

	svc, err := New(cfg)
	require.NoError(t, err, "bad log dir must not abort startup")
	defer svc.Close()

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search-logs/sessions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCloseStopsJanitor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc, err := New(testSettings(t))
	require.NoError(t, err)

	require.NoError(t, svc.janitor.Start(svc.janitorCtx))
	svc.Close()

	assert.Error(t, svc.janitorCtx.Err(), "close cancels the sweep context")

	// The scheduler is fully stopped, so a restart is accepted.
	require.NoError(t, svc.janitor.Start(svc.janitorCtx))
	svc.janitor.Stop()
}

func TestInitTracerSkippedWithoutEndpoint(t *testing.T) {
	cleanup, err := initTracer("")
	require.NoError(t, err)
	assert.Nil(t, cleanup)
}
