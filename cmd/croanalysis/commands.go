// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	servePort int

	pullProjectID   string
	pullConnectorID string
	pullStartDate   string

	reportProjectID   string
	reportConnectorID string

	rootCmd = &cobra.Command{
		Use:   "croanalysis",
		Short: "CRO Analysis Core: GA4 ingestion, analytics, and agentic report generation",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}

	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Run one GA4 sync cycle for a connector and exit",
		RunE:  runPull,
	}

	embedWorkerCmd = &cobra.Command{
		Use:   "embed-worker",
		Short: "Run the background embedding sweep until interrupted",
		RunE:  runEmbedWorker,
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Generate one CRO report for a project/connector and print it",
		RunE:  runReport,
	}
)

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP listen port")
	rootCmd.AddCommand(serveCmd)

	pullCmd.Flags().StringVar(&pullProjectID, "project", "", "project ID to sync (required)")
	pullCmd.Flags().StringVar(&pullConnectorID, "connector", "", "connector ID to sync (required)")
	pullCmd.Flags().StringVar(&pullStartDate, "start-date", "", "override the computed window start, YYYYMMDD")
	pullCmd.MarkFlagRequired("project")
	pullCmd.MarkFlagRequired("connector")
	rootCmd.AddCommand(pullCmd)

	rootCmd.AddCommand(embedWorkerCmd)

	reportCmd.Flags().StringVar(&reportProjectID, "project", "", "project ID to analyze (required)")
	reportCmd.Flags().StringVar(&reportConnectorID, "connector", "", "connector ID to analyze (required)")
	reportCmd.MarkFlagRequired("project")
	reportCmd.MarkFlagRequired("connector")
	rootCmd.AddCommand(reportCmd)
}
