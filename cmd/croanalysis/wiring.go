// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oraclewalid/croanalysis/internal/agent"
	"github.com/oraclewalid/croanalysis/internal/config"
	"github.com/oraclewalid/croanalysis/internal/embedding"
	"github.com/oraclewalid/croanalysis/internal/feedback"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/platform/logging"
	"github.com/oraclewalid/croanalysis/internal/query"
	"github.com/oraclewalid/croanalysis/internal/sync"
	"github.com/oraclewalid/croanalysis/internal/tokenstore"
	"github.com/oraclewalid/croanalysis/internal/txstore"
	"github.com/oraclewalid/croanalysis/internal/vectorindex"
)

// deps bundles every service a subcommand might need. Not every subcommand
// uses every field; serve needs all of them, pull only tx/coord, embed-worker
// only tx/model/index, report only tx/engine/feedback/agent.
type deps struct {
	cfg      config.Config
	logger   *slog.Logger
	tx       *txstore.Store
	tokens   *tokenstore.DB
	ga4      *ga4.Client
	coord    *sync.Coordinator
	engine   *query.Engine
	feedback *feedback.Service
	agent    *agent.Loop
	index    *vectorindex.Index
	model    embedding.Model
}

// buildDeps wires every internal package from the loaded configuration,
// following cmd/aleutian/commands.go's "load config, construct service,
// run" shape generalized to the several services this command serves.
func buildDeps(ctx context.Context, service string) (*deps, func(), error) {
	logger := logging.New(logging.Config{Service: service})

	cfg, err := config.Load(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	tx, err := txstore.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open transactional store: %w", err)
	}
	closers := []func(){func() { tx.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tokenDB, err := tokenstore.Open(tokenstore.DefaultConfig(cfg.ColumnarBasePath + "/tokens"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open token store: %w", err)
	}
	closers = append(closers, func() { tokenDB.Close() })
	tokens := tokenstore.New(tokenDB)

	refresher := ga4.NewGoogleRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	ga4Client := ga4.New(tokens, refresher, cfg.GA4Timeout)

	coord := sync.New(ga4Client, tx, cfg.ColumnarBasePath, cfg.LookbackDays, cfg.DefaultBackfillDays, logger)

	funnelStages, err := config.LoadFunnelStages(cfg.FunnelDefinitionPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load funnel definition: %w", err)
	}

	var model embedding.Model
	if cfg.EmbeddingServiceURL != "" {
		model = embedding.NewHTTPModel(cfg.EmbeddingServiceURL)
	}

	var index *vectorindex.Index
	if cfg.WeaviateURL != "" {
		index, err = vectorindex.New(cfg.WeaviateURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("create vector index client: %w", err)
		}
	}

	engine := query.New(cfg.ColumnarBasePath, funnelStages, tx, model, index)

	var feedbackSvc *feedback.Service
	if cfg.LLMBearerToken != "" {
		caller := feedback.NewCaller(cfg.LLMBaseURL, cfg.LLMBearerToken, cfg.LLMModelID)
		feedbackSvc = feedback.NewService(tx, caller, logger)
	}

	var agentLoop *agent.Loop
	if cfg.LLMBearerToken != "" {
		oaiCfg := openai.DefaultConfig(cfg.LLMBearerToken)
		oaiCfg.BaseURL = cfg.LLMBaseURL
		client := openai.NewClientWithConfig(oaiCfg)
		agentLoop = agent.NewLoop(client, cfg.LLMModelID, cfg.AgentMaxTurns, cfg.AgentMaxTokens, cfg.LLMTurnTimeout, logger)
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		tx:       tx,
		tokens:   tokenDB,
		ga4:      ga4Client,
		coord:    coord,
		engine:   engine,
		feedback: feedbackSvc,
		agent:    agentLoop,
		index:    index,
		model:    model,
	}, cleanup, nil
}
