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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oraclewalid/croanalysis/internal/embedding"
)

func runEmbedWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := buildDeps(ctx, "croanalysis-embed-worker")
	if err != nil {
		return err
	}
	defer cleanup()

	if d.model == nil || d.index == nil {
		return fmt.Errorf("EMBEDDING_SERVICE_URL and WEAVIATE_URL must both be set to run the embedding worker")
	}

	worker := embedding.NewWorker(d.model, d.tx, d.index, d.cfg.EmbeddingBatchSize, d.cfg.EmbeddingPollInterval, d.logger)
	d.logger.Info("starting embedding worker", "poll_interval", d.cfg.EmbeddingPollInterval, "batch_size", d.cfg.EmbeddingBatchSize)
	worker.Run(ctx)
	return nil
}
