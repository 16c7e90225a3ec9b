// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the environment-driven configuration for the HTTP
// surface, plus the ambient tunables (lookback window, embedding worker
// cadence, agent turn/token budgets) that would otherwise be hardcoded
// constants. Missing required values fail startup; missing optional ones
// log a warning and fall back, following services/orchestrator/main.go's
// graceful-degradation style.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DatabaseURL         string // transactional store DSN
	ColumnarBasePath    string // default /tmp/ga4_data
	LLMBearerToken      string
	LLMModelID          string
	LLMBaseURL          string
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURL   string
	FrontendURL         string
	WeaviateURL         string // optional; empty means lightweight/degraded mode
	EmbeddingServiceURL string // optional; empty means the embed-worker command refuses to start

	LookbackDays        int
	DefaultBackfillDays int

	EmbeddingPollInterval time.Duration
	EmbeddingBatchSize    int
	EmbeddingBatchTimeout time.Duration

	AgentMaxTurns         int
	AgentMaxTokens        int
	AgentWallClockTimeout time.Duration
	LLMTurnTimeout        time.Duration

	GA4Timeout time.Duration

	FunnelDefinitionPath string // optional YAML override
}

// Load reads Config from the process environment. Required values with no
// sane default return an error; everything else degrades gracefully.
func Load(logger *slog.Logger) (Config, error) {
	cfg := Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		ColumnarBasePath:    envOr("COLUMNAR_BASE_PATH", "/tmp/ga4_data"),
		LLMBearerToken:      os.Getenv("LLM_BEARER_TOKEN"),
		LLMModelID:          envOr("LLM_MODEL_ID", "configured-chat-model"),
		LLMBaseURL:          envOr("LLM_BASE_URL", "https://api.anthropic.com/v1/messages"),
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:   os.Getenv("GOOGLE_REDIRECT_URL"),
		FrontendURL:         os.Getenv("FRONTEND_URL"),
		WeaviateURL:         os.Getenv("WEAVIATE_URL"),
		EmbeddingServiceURL: os.Getenv("EMBEDDING_SERVICE_URL"),

		LookbackDays:        envInt("LOOKBACK_DAYS", 2, logger),
		DefaultBackfillDays: envInt("DEFAULT_BACKFILL_DAYS", 90, logger),

		EmbeddingPollInterval: envDuration("EMBEDDING_POLL_INTERVAL", 10*time.Second, logger),
		EmbeddingBatchSize:    envInt("EMBEDDING_BATCH_SIZE", 32, logger),
		EmbeddingBatchTimeout: envDuration("EMBEDDING_BATCH_TIMEOUT", 30*time.Second, logger),

		AgentMaxTurns:         envInt("AGENT_MAX_TURNS", 15, logger),
		AgentMaxTokens:        envInt("AGENT_MAX_TOKENS", 8192, logger),
		AgentWallClockTimeout: envDuration("AGENT_WALL_CLOCK_TIMEOUT", 300*time.Second, logger),
		LLMTurnTimeout:        envDuration("LLM_TURN_TIMEOUT", 120*time.Second, logger),

		GA4Timeout: envDuration("GA4_TIMEOUT", 60*time.Second, logger),

		FunnelDefinitionPath: os.Getenv("FUNNEL_DEFINITION_PATH"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WeaviateURL == "" {
		logger.Warn("WEAVIATE_URL not set, semantic comment search runs in lightweight mode")
	}
	if cfg.EmbeddingServiceURL == "" {
		logger.Warn("EMBEDDING_SERVICE_URL not set, embedding worker cannot run")
	}
	if cfg.LLMBearerToken == "" {
		logger.Warn("LLM_BEARER_TOKEN not set, agent loop and feedback analysis will fail at call time")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, logger *slog.Logger) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, logger *slog.Logger) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

// FunnelStageDef is one named stage of a funnel definition, matched by
// event name within ga4_events.
type FunnelStageDef struct {
	Name      string `yaml:"name"`
	EventName string `yaml:"event_name"`
}

// DefaultFunnelStages is the default 5-stage ecommerce funnel.
func DefaultFunnelStages() []FunnelStageDef {
	return []FunnelStageDef{
		{Name: "page_view", EventName: "page_view"},
		{Name: "view_item", EventName: "view_item"},
		{Name: "add_to_cart", EventName: "add_to_cart"},
		{Name: "begin_checkout", EventName: "begin_checkout"},
		{Name: "purchase", EventName: "purchase"},
	}
}

// LoadFunnelStages reads an optional YAML override of the default funnel.
// A missing path is not an error; the caller gets the compiled-in default.
func LoadFunnelStages(path string) ([]FunnelStageDef, error) {
	if path == "" {
		return DefaultFunnelStages(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funnel definition %s: %w", path, err)
	}
	var stages []FunnelStageDef
	if err := yaml.Unmarshal(data, &stages); err != nil {
		return nil, fmt.Errorf("parse funnel definition %s: %w", path, err)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("funnel definition %s has no stages", path)
	}
	return stages, nil
}
