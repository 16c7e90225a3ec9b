// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

type createConnectorRequest struct {
	Name string `json:"name" binding:"required"`
	Kind string `json:"kind" binding:"required"`
}

func (s *Server) createConnector(c *gin.Context) {
	var req createConnectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	connector, err := s.tx.CreateConnector(c.Request.Context(), c.Param("project_id"), req.Name, txstore.ConnectorKind(req.Kind))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, connector)
}

func (s *Server) listConnectors(c *gin.Context) {
	connectors, err := s.tx.ListConnectors(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, connectors)
}

func (s *Server) deleteConnector(c *gin.Context) {
	connectorID := c.Param("connector_id")
	if err := s.tx.DeleteConnector(c.Request.Context(), connectorID); err != nil {
		respondError(c, err)
		return
	}
	if err := columnar.Delete(s.basePath, c.Param("project_id"), connectorID); err != nil {
		s.logger.Warn("delete connector: failed to remove columnar data", "connector_id", connectorID, "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listGA4Properties(c *gin.Context) {
	properties, err := s.ga4Client.ListProperties(c.Request.Context(), c.Param("project_id"), "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, properties)
}

type setPropertyRequest struct {
	PropertyID   string `json:"property_id" binding:"required"`
	PropertyName string `json:"property_name" binding:"required"`
}

func (s *Server) setGA4Property(c *gin.Context) {
	var req setPropertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	connectorID := c.Param("connector_id")
	if err := s.tx.SetConnectorProperty(c.Request.Context(), connectorID, req.PropertyID, req.PropertyName); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pullRequest struct {
	StartDate string `json:"start_date"`
}

// pullGA4 triggers one sync cycle synchronously, a blocking call rather
// than a background job, matching sync.Coordinator.Sync's own per-request
// (not held-open) design.
func (s *Server) pullGA4(c *gin.Context) {
	projectID := c.Param("project_id")
	connectorID := c.Param("connector_id")

	connector, err := s.tx.GetConnector(c.Request.Context(), connectorID)
	if err != nil {
		respondError(c, err)
		return
	}
	if connector.PropertyID == nil {
		respondError(c, coreerrors.BadRequest("connector has no property selected"))
		return
	}

	var req pullRequest
	_ = c.ShouldBindJSON(&req)
	var overrideStart *time.Time
	if req.StartDate != "" {
		t, err := time.Parse("20060102", req.StartDate)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "start_date must be YYYYMMDD"})
			return
		}
		overrideStart = &t
	}

	report, err := s.coord.Sync(c.Request.Context(), projectID, connectorID, *connector.PropertyID, overrideStart)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
