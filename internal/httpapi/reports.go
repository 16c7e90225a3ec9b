// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oraclewalid/croanalysis/internal/agent"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// generateReport runs the full agent loop synchronously and persists the
// resulting report, for POST .../cro/report.
func (s *Server) generateReport(c *gin.Context) {
	if s.agentLoop == nil {
		respondError(c, coreerrors.New(coreerrors.KindUpstreamUnavailable, "report generation is not configured"))
		return
	}
	projectID := c.Param("project_id")
	connectorID := c.Query("connector_id")
	if connectorID == "" {
		respondError(c, coreerrors.BadRequest("connector_id query parameter is required"))
		return
	}

	result, err := s.agentLoop.Run(c.Request.Context(), s.engine, s.feedback, projectID, connectorID)
	if err != nil {
		var runErr *agent.RunError
		if errors.As(err, &runErr) {
			kind := coreerrors.KindUpstreamUnavailable
			if !runErr.Recoverable {
				kind = coreerrors.KindValidation
			}
			c.JSON(coreerrors.HTTPStatus(kind), gin.H{"error": runErr.Message, "code": runErr.Code})
			return
		}
		respondError(c, err)
		return
	}

	record, err := result.ToRecord(projectID, connectorID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.tx.InsertCroReport(c.Request.Context(), record); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) listReports(c *gin.Context) {
	reports, err := s.tx.ListCroReports(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) getReport(c *gin.Context) {
	report, err := s.tx.GetCroReport(c.Request.Context(), c.Param("report_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
