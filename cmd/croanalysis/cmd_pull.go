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
	"time"

	"github.com/spf13/cobra"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

func runPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, cleanup, err := buildDeps(ctx, "croanalysis-pull")
	if err != nil {
		return err
	}
	defer cleanup()

	connector, err := d.tx.GetConnector(ctx, pullConnectorID)
	if err != nil {
		return err
	}
	if connector.PropertyID == nil {
		return coreerrors.BadRequest("connector has no property selected; run the property-selection step first")
	}

	var overrideStart *time.Time
	if pullStartDate != "" {
		t, err := time.Parse("20060102", pullStartDate)
		if err != nil {
			return coreerrors.BadRequest("start-date must be YYYYMMDD")
		}
		overrideStart = &t
	}

	report, err := d.coord.Sync(ctx, pullProjectID, pullConnectorID, *connector.PropertyID, overrideStart)
	if err != nil {
		return fmt.Errorf("sync connector %s: %w", pullConnectorID, err)
	}

	d.logger.Info("pull complete",
		"project_id", pullProjectID, "connector_id", pullConnectorID,
		"events_inserted", report.Events.InsertedCount, "events_updated", report.Events.UpdatedCount,
		"page_paths_inserted", report.PagePaths.InsertedCount, "page_paths_updated", report.PagePaths.UpdatedCount)
	return nil
}
