// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi wires the gin HTTP surface over the internal services.
// It is deliberately thin: every handler parses its request, delegates to
// one of internal/txstore, internal/query, internal/sync,
// internal/feedback, or internal/agent, and maps the result (or error) to
// a JSON response, following services/orchestrator/main.go's router
// construction (gin.Default, otelgin middleware). Handlers are methods on
// Server rather than handlers/sessions.go's per-handler closures.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/oraclewalid/croanalysis/internal/agent"
	"github.com/oraclewalid/croanalysis/internal/feedback"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/query"
	"github.com/oraclewalid/croanalysis/internal/sync"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

// Server holds every dependency a handler might need. Handlers are methods
// on Server rather than free functions returning gin.HandlerFunc, since
// nearly every route needs the transactional store and most need several
// other services — a closure-per-handler like sessions.go's would just
// repeat the same long parameter list at every call site.
type Server struct {
	tx        *txstore.Store
	coord     *sync.Coordinator
	engine    *query.Engine
	feedback  *feedback.Service
	agentLoop *agent.Loop
	ga4Client *ga4.Client
	basePath  string
	logger    *slog.Logger
}

func NewServer(tx *txstore.Store, coord *sync.Coordinator, engine *query.Engine, fb *feedback.Service,
	agentLoop *agent.Loop, ga4Client *ga4.Client, basePath string, logger *slog.Logger) *Server {
	return &Server{tx: tx, coord: coord, engine: engine, feedback: fb, agentLoop: agentLoop, ga4Client: ga4Client, basePath: basePath, logger: logger}
}

// Router builds the gin.Engine with every route registered, mirroring
// routes.SetupRoutes's grouping (top-level health check, then a versionless
// resource tree, since this HTTP surface carries no /v1 prefix).
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("croanalysis"))
	router.Use(metricsMiddleware())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", s.metricsHandler())

	projects := router.Group("/projects")
	{
		projects.POST("", s.createProject)
		projects.GET("", s.listProjects)
		projects.GET("/:project_id", s.getProject)
		projects.PUT("/:project_id", s.updateProject)
		projects.DELETE("/:project_id", s.deleteProject)

		projects.POST("/:project_id/connectors", s.createConnector)
		projects.GET("/:project_id/connectors", s.listConnectors)
		projects.DELETE("/:project_id/connectors/:connector_id", s.deleteConnector)

		projects.GET("/:project_id/connectors/ga4/properties", s.listGA4Properties)
		projects.PUT("/:project_id/connectors/ga4/:connector_id/property", s.setGA4Property)
		projects.POST("/:project_id/connectors/ga4/:connector_id/pull", s.pullGA4)
		projects.GET("/:project_id/connectors/ga4/:connector_id/funnel", s.getFunnel)
		projects.GET("/:project_id/connectors/ga4/:connector_id/scroll-depth", s.getScrollDepth)
		projects.GET("/:project_id/connectors/ga4/:connector_id/page-paths", s.getPagePaths)

		projects.POST("/:project_id/qualitative/surveys", s.uploadSurveys)
		projects.GET("/:project_id/qualitative/stats", s.getSurveyStats)
		projects.GET("/:project_id/qualitative/embeddings/status", s.getEmbeddingStatus)
		projects.POST("/:project_id/qualitative/comments/search", s.searchComments)
		projects.POST("/:project_id/qualitative/feedback", s.getFeedback)

		projects.POST("/:project_id/cro/report", s.generateReport)
		projects.GET("/:project_id/cro/reports", s.listReports)
		projects.GET("/:project_id/cro/reports/:report_id", s.getReport)
	}

	return router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
