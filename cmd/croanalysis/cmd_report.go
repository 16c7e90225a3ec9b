// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, cleanup, err := buildDeps(ctx, "croanalysis-report")
	if err != nil {
		return err
	}
	defer cleanup()

	if d.agent == nil {
		return fmt.Errorf("LLM_BEARER_TOKEN must be set to generate a report")
	}

	result, err := d.agent.Run(ctx, d.engine, d.feedback, reportProjectID, reportConnectorID)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	record, err := result.ToRecord(reportProjectID, reportConnectorID)
	if err != nil {
		return fmt.Errorf("build report record: %w", err)
	}
	if err := d.tx.InsertCroReport(ctx, record); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}
