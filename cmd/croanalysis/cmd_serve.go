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

	"github.com/spf13/cobra"

	"github.com/oraclewalid/croanalysis/internal/httpapi"
	"github.com/oraclewalid/croanalysis/internal/platform/tracing"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, cleanup, err := buildDeps(ctx, "croanalysis")
	if err != nil {
		return err
	}
	defer cleanup()

	shutdownTracing := tracing.Init(ctx, "croanalysis", d.logger)
	defer shutdownTracing(ctx)

	if d.agent == nil {
		d.logger.Warn("LLM_BEARER_TOKEN not set, POST .../cro/report will return 503 until configured")
	}

	server := httpapi.NewServer(d.tx, d.coord, d.engine, d.feedback, d.agent, d.ga4, d.cfg.ColumnarBasePath, d.logger)

	addr := fmt.Sprintf(":%d", servePort)
	d.logger.Info("starting croanalysis server", "addr", addr)
	return server.Router().Run(addr)
}
