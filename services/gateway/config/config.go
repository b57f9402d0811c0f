// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the gateway's runtime settings.
//
// # Description
//
// Settings are read once at startup: a .env file is loaded if present,
// then every key is resolved from the environment with a typed default.
// Validation failures are fatal; the process must not start with a
// half-valid configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings holds every tunable of the search gateway.
//
// # Description
//
// Field names mirror the environment keys (upper-cased). All durations
// are stored as plain numbers in their documented unit and exposed as
// time.Duration through the accessor methods below.
//
// # Thread Safety
//
// Settings is read-only after Load(); share it freely.
type Settings struct {
	// Elasticsearch / embeddings
	ElasticURL       string  `mapstructure:"elastic_url"`
	ElasticUser      string  `mapstructure:"elastic_user"`
	ElasticPassword  string  `mapstructure:"elastic_password"`
	EmbeddingAPIURL  string  `mapstructure:"embedding_api_url"`
	EmbeddingModel   string  `mapstructure:"ollama_model_name"`
	IndexName        string  `mapstructure:"index_name"`
	VectorDimension  int     `mapstructure:"vector_dimension" validate:"gt=0"`
	EmbedCacheSize   int     `mapstructure:"embed_cache_size" validate:"gt=0"`
	RequestTimeout   int     `mapstructure:"request_timeout" validate:"gte=5,lte=300"`
	MaxRetries       int     `mapstructure:"max_retries" validate:"gte=1,lte=10"`
	CacheTTLSeconds  int     `mapstructure:"cache_ttl_seconds" validate:"gt=0"`
	KNNNumCandidates int     `mapstructure:"knn_num_candidates" validate:"gt=0"`
	HybridAlpha      float64 `mapstructure:"hybrid_alpha" validate:"gte=0,lte=1"`
	HybridFusion     string  `mapstructure:"hybrid_fusion" validate:"oneof=weighted rrf"`
	BM25MinScore     float64 `mapstructure:"bm25_min_score"`
	VectorFieldName  string  `mapstructure:"vector_field_name"`

	// LLM assistant
	OpenAIAPIKey             string  `mapstructure:"openai_api_key"`
	OpenAIBaseURL            string  `mapstructure:"openai_base_url"`
	GPTModel                 string  `mapstructure:"gpt_model"`
	EnableGPTChat            bool    `mapstructure:"enable_gpt_chat"`
	GPTTemperature           float64 `mapstructure:"gpt_temperature"`
	GPTAnalyzeTimeoutSeconds float64 `mapstructure:"gpt_analyze_timeout_seconds"`
	GPTMaxTokensAnalyze      int     `mapstructure:"gpt_max_tokens_analyze"`
	GPTMaxTokensReco         int     `mapstructure:"gpt_max_tokens_reco"`
	GPTRecoTimeoutSeconds    float64 `mapstructure:"gpt_reco_timeout_seconds"`

	// History / sessions
	SearchHistoryTTLDays    int `mapstructure:"search_history_ttl_days"`
	MaxSearchHistory        int `mapstructure:"max_search_history"`
	MaxChatDisplayItems     int `mapstructure:"max_chat_display_items"`
	LoadMoreBatchSize       int `mapstructure:"load_more_batch_size"`
	SearchResultsTTLSeconds int `mapstructure:"search_results_ttl_seconds"`
	MaxSessions             int `mapstructure:"max_sessions" validate:"gt=0"`

	// Embedding concurrency
	EmbeddingMaxConcurrent int     `mapstructure:"embedding_max_concurrent" validate:"gt=0"`
	EmbeddingSingleTimeout float64 `mapstructure:"embedding_single_timeout"`

	// Chat search relevance
	ChatSearchScoreThresholdRatio float64 `mapstructure:"chat_search_score_threshold_ratio"`
	ChatSearchMinScoreAbsolute    float64 `mapstructure:"chat_search_min_score_absolute"`
	ChatSearchSubqueryWeightDecay float64 `mapstructure:"chat_search_subquery_weight_decay"`
	ChatSearchMaxKPerSubquery     int     `mapstructure:"chat_search_max_k_per_subquery"`

	// SSE pacing
	SSESlowMode     bool    `mapstructure:"sse_slow_mode"`
	SSEDelaySeconds float64 `mapstructure:"sse_delay_seconds"`

	// TA-DA external API proxy
	TaDaAPIBaseURL      string `mapstructure:"ta_da_api_base_url"`
	TaDaAPIToken        string `mapstructure:"ta_da_api_token"`
	TaDaDefaultShopID   string `mapstructure:"ta_da_default_shop_id"`
	TaDaDefaultLanguage string `mapstructure:"ta_da_default_language"`

	// Background tasks
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds" validate:"gt=0"`

	// HTTP surface
	Port               string `mapstructure:"port"`
	FrontendOriginsCSV string `mapstructure:"frontend_origins"`
	OTelEndpoint       string `mapstructure:"otel_exporter_otlp_endpoint"`
	SearchLogsDir      string `mapstructure:"search_logs_dir"`
}

// Load reads settings from the environment (and an optional .env file),
// applies defaults, and validates the result.
//
// # Outputs
//
//   - *Settings: Fully populated, validated settings.
//   - error: Non-nil when a value fails validation or cannot be parsed.
//
// # Limitations
//
//   - Called once at startup; live reconfiguration is not supported.
func Load() (*Settings, error) {
	// Best-effort; a missing .env is the normal production case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The original deployments export MAX_SEARCH_SESSIONS for this knob.
	_ = v.BindEnv("max_sessions", "MAX_SEARCH_SESSIONS", "MAX_SESSIONS")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	if s.EnableGPTChat && s.OpenAIAPIKey == "" {
		slog.Warn("ENABLE_GPT_CHAT is set but OPENAI_API_KEY is empty, disabling GPT chat")
		s.EnableGPTChat = false
	}

	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("elastic_url", "http://elasticsearch:9200")
	v.SetDefault("elastic_user", "elastic")
	v.SetDefault("elastic_password", "elastic")
	v.SetDefault("embedding_api_url", "http://10.2.0.171:9001/api/embeddings")
	v.SetDefault("ollama_model_name", "dengcao/Qwen3-Embedding-8B:Q8_0")
	v.SetDefault("index_name", "products_qwen3_8b")
	v.SetDefault("vector_dimension", 4096)
	v.SetDefault("embed_cache_size", 2000)
	v.SetDefault("request_timeout", 30)
	v.SetDefault("max_retries", 3)
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("knn_num_candidates", 500)
	v.SetDefault("hybrid_alpha", 0.7)
	v.SetDefault("hybrid_fusion", "weighted")
	v.SetDefault("bm25_min_score", 2.5)
	v.SetDefault("vector_field_name", "description_vector")

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("gpt_model", "gpt-4o-mini")
	v.SetDefault("enable_gpt_chat", true)
	v.SetDefault("gpt_temperature", 0.3)
	v.SetDefault("gpt_analyze_timeout_seconds", 15.0)
	v.SetDefault("gpt_max_tokens_analyze", 2000)
	v.SetDefault("gpt_max_tokens_reco", 2500)
	v.SetDefault("gpt_reco_timeout_seconds", 30.0)

	v.SetDefault("search_history_ttl_days", 7)
	v.SetDefault("max_search_history", 20)
	v.SetDefault("max_chat_display_items", 100)
	v.SetDefault("load_more_batch_size", 20)
	v.SetDefault("search_results_ttl_seconds", 3600)
	v.SetDefault("max_sessions", 300)

	v.SetDefault("embedding_max_concurrent", 2)
	v.SetDefault("embedding_single_timeout", 20.0)

	v.SetDefault("chat_search_score_threshold_ratio", 0.35)
	v.SetDefault("chat_search_min_score_absolute", 0.35)
	v.SetDefault("chat_search_subquery_weight_decay", 0.85)
	v.SetDefault("chat_search_max_k_per_subquery", 25)

	v.SetDefault("sse_slow_mode", false)
	v.SetDefault("sse_delay_seconds", 0.02)

	v.SetDefault("ta_da_api_base_url", "https://api.ta-da.net.ua/v1.2/mobile")
	v.SetDefault("ta_da_api_token", "")
	v.SetDefault("ta_da_default_shop_id", "8")
	v.SetDefault("ta_da_default_language", "ua")

	v.SetDefault("cleanup_interval_seconds", 300)

	v.SetDefault("port", "8000")
	v.SetDefault("frontend_origins", "*")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("search_logs_dir", "search_logs")
}

// =============================================================================
// Duration accessors
// =============================================================================

func (s *Settings) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

func (s *Settings) SessionTTL() time.Duration {
	return time.Duration(s.SearchResultsTTLSeconds) * time.Second
}

func (s *Settings) HistoryTTL() time.Duration {
	return time.Duration(s.SearchHistoryTTLDays) * 24 * time.Hour
}

func (s *Settings) EmbeddingTimeout() time.Duration {
	return time.Duration(s.EmbeddingSingleTimeout * float64(time.Second))
}

func (s *Settings) AnalyzeTimeout() time.Duration {
	return time.Duration(s.GPTAnalyzeTimeoutSeconds * float64(time.Second))
}

func (s *Settings) RecoTimeout() time.Duration {
	return time.Duration(s.GPTRecoTimeoutSeconds * float64(time.Second))
}

func (s *Settings) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

func (s *Settings) SSEDelay() time.Duration {
	return time.Duration(s.SSEDelaySeconds * float64(time.Second))
}

// FrontendOrigins splits the configured CSV into trimmed origins.
//
// A single "*" entry means wildcard CORS; credentials are disabled in
// that case because browsers reject the combination.
func (s *Settings) FrontendOrigins() (origins []string, allowCredentials bool) {
	for _, o := range strings.Split(s.FrontendOriginsCSV, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	wildcard := len(origins) == 1 && origins[0] == "*"
	return origins, !wildcard
}
