// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oraclewalid/croanalysis/internal/columnar"
)

func dimensionParam(c *gin.Context) columnar.Dimension {
	dim := c.Query("dimension")
	if dim == "" {
		return columnar.DimensionAll
	}
	return columnar.Dimension(dim)
}

func (s *Server) getFunnel(c *gin.Context) {
	stages, err := s.engine.Funnel(c.Request.Context(), c.Param("project_id"), c.Param("connector_id"),
		dimensionParam(c), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stages)
}

func (s *Server) getScrollDepth(c *gin.Context) {
	buckets, err := s.engine.ScrollDepth(c.Request.Context(), c.Param("project_id"), c.Param("connector_id"),
		dimensionParam(c), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (s *Server) getPagePaths(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	rows, err := s.engine.PagePaths(c.Request.Context(), c.Param("project_id"), c.Param("connector_id"),
		c.Query("start_date"), c.Query("end_date"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
