// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/oraclewalid/croanalysis/internal/columnar"
	"github.com/oraclewalid/croanalysis/internal/config"
	"github.com/oraclewalid/croanalysis/internal/ga4"
	"github.com/oraclewalid/croanalysis/internal/query"
	"github.com/oraclewalid/croanalysis/internal/txstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *txstore.Store, string) {
	t.Helper()
	tx, err := txstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { tx.Close() })

	basePath := t.TempDir()
	engine := query.New(basePath, config.DefaultFunnelStages(), tx, nil, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(tx, nil, engine, nil, nil, nil, basePath, logger)
	return srv, tx, basePath
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProjectCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/projects", createProjectRequest{Name: "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created txstore.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Acme", created.Name)

	rec = doJSON(t, router, http.MethodGet, "/projects/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	newName := "Acme Inc"
	rec = doJSON(t, router, http.MethodPut, "/projects/"+created.ID, updateProjectRequest{Name: &newName})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated txstore.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, newName, updated.Name)

	rec = doJSON(t, router, http.MethodDelete, "/projects/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/projects/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConnectorConflict(t *testing.T) {
	srv, tx, _ := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/projects/"+project.ID+"/connectors", createConnectorRequest{Name: "prod", Kind: "ga4"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/projects/"+project.ID+"/connectors", createConnectorRequest{Name: "prod-2", Kind: "ga4"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteConnectorRemovesColumnarData(t *testing.T) {
	srv, tx, basePath := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	connector, err := tx.CreateConnector(context.Background(), project.ID, "prod", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	store, err := columnar.Open(basePath, project.ID, connector.ID)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.True(t, columnar.Exists(basePath, project.ID, connector.ID))

	rec := doJSON(t, router, http.MethodDelete, "/projects/"+project.ID+"/connectors/"+connector.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, columnar.Exists(basePath, project.ID, connector.ID))
}

func TestGetFunnelNotFoundBeforeSync(t *testing.T) {
	srv, tx, _ := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	connector, err := tx.CreateConnector(context.Background(), project.ID, "prod", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	path := "/projects/" + project.ID + "/connectors/ga4/" + connector.ID + "/funnel?start_date=20260101&end_date=20260107"
	rec := doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFunnelReturnsStoredData(t *testing.T) {
	srv, tx, basePath := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)
	connector, err := tx.CreateConnector(context.Background(), project.ID, "prod", txstore.ConnectorKindGA4)
	require.NoError(t, err)

	store, err := columnar.Open(basePath, project.ID, connector.ID)
	require.NoError(t, err)
	_, err = store.StoreEvents(context.Background(), []ga4.EventRow{
		{Date: "20260101", EventName: "page_view", ActiveUsers: 100, Sessions: 100},
		{Date: "20260101", EventName: "add_to_cart", ActiveUsers: 20, Sessions: 20},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	path := "/projects/" + project.ID + "/connectors/ga4/" + connector.ID + "/funnel?start_date=20260101&end_date=20260101"
	rec := doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stages []columnar.FunnelStage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stages))
	require.NotEmpty(t, stages)
}

func TestUploadSurveysRejectsMissingColumns(t *testing.T) {
	srv, tx, _ := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "surveys.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Date,Country,URL\n2026-01-01,US,/checkout\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	httpReq := httptest.NewRequest(http.MethodPost, "/projects/"+project.ID+"/qualitative/surveys", &body)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSurveysInsertsRows(t *testing.T) {
	srv, tx, _ := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "surveys.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Date,Country,URL,Device,Browser,OS,Comments,Ratings\n" +
		"2026-01-01,US,/checkout,desktop,chrome,macos,Checkout was confusing,3\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	httpReq := httptest.NewRequest(http.MethodPost, "/projects/"+project.ID+"/qualitative/surveys", &body)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		RowCount int `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.RowCount)

	count, err := tx.CountComments(context.Background(), project.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestReportGenerationWithoutAgentLoopReturnsUnavailable(t *testing.T) {
	srv, tx, _ := newTestServer(t)
	router := srv.Router()

	project, err := tx.CreateProject(context.Background(), "Acme", nil)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/projects/"+project.ID+"/cro/report?connector_id=conn-1", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "agent loop is not configured in this test server")
}
