// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ga4 issues runReport calls against the GA4 Data API, handling
// token refresh, pagination, and upstream failure classification. The
// HTTP call shape is grounded on
// original_source/api/src/services/ga4_service.rs; the retry/backoff loop
// reuses the weaviate.ResilientClient pattern, generalized in
// internal/platform/resilience.
package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
	"github.com/oraclewalid/croanalysis/internal/platform/resilience"
	"github.com/oraclewalid/croanalysis/internal/platform/tracing"
)

// requestsPerSecond keeps calls comfortably under the GA4 Data API's
// per-property core reporting quota, so a burst of funnel/scroll-depth
// backfills doesn't trip the upstream rate limiter itself.
const requestsPerSecond = 8

var ga4Tracer = tracing.Tracer("croanalysis.ga4")

const (
	baseURL     = "https://analyticsdata.googleapis.com/v1beta"
	adminAPIURL = "https://analyticsadmin.googleapis.com/v1beta"
	pageSize    = 10000
)

// Property is one GA4 property visible to the connected Google account, for
// GET /projects/{id}/connectors/ga4/properties.
type Property struct {
	PropertyID  string
	DisplayName string
	AccountName string
}

type accountSummariesResponse struct {
	AccountSummaries []accountSummary `json:"accountSummaries"`
	NextPageToken    string           `json:"nextPageToken"`
}

type accountSummary struct {
	DisplayName       string            `json:"displayName"`
	PropertySummaries []propertySummary `json:"propertySummaries"`
}

type propertySummary struct {
	Property    string `json:"property"` // "properties/123456"
	DisplayName string `json:"displayName"`
}

// ListProperties enumerates every GA4 property the connected account can
// see, across every Google Analytics account, for the property-selection
// step of connector setup.
func (c *Client) ListProperties(ctx context.Context, projectID, connectorID string) ([]Property, error) {
	tok, err := c.tokens.Get(ctx, projectID, connectorID)
	if err != nil {
		return nil, err
	}
	if needsRefresh(tok, time.Now()) {
		tok, err = c.doRefresh(ctx, projectID, connectorID, tok)
		if err != nil {
			return nil, err
		}
	}

	var out []Property
	pageToken := ""
	for {
		resp, err := c.listAccountSummaries(ctx, tok.AccessToken, pageToken)
		if err != nil {
			return nil, err
		}
		for _, acct := range resp.AccountSummaries {
			for _, p := range acct.PropertySummaries {
				out = append(out, Property{
					PropertyID:  p.Property,
					DisplayName: p.DisplayName,
					AccountName: acct.DisplayName,
				})
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

func (c *Client) listAccountSummaries(ctx context.Context, accessToken, pageToken string) (*accountSummariesResponse, error) {
	url := adminAPIURL + "/accountSummaries"
	if pageToken != "" {
		url += "?pageToken=" + pageToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, coreerrors.Internal("build account summaries request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerrors.Internal("read account summaries response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp.StatusCode, body)
	}

	var out accountSummariesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, coreerrors.Internal("decode account summaries response", err)
	}
	return &out, nil
}

// TokenRefresher abstracts the opaque OAuth handshake (out of scope here):
// given a refresh token it returns a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenPersister is the subset of the Token Store the client needs.
type TokenPersister interface {
	Get(ctx context.Context, projectID, connectorID string) (*oauth2.Token, error)
	Put(ctx context.Context, projectID, connectorID string, token *oauth2.Token) error
}

// Client issues runReport calls to the GA4 Data API.
type Client struct {
	http      *http.Client
	tokens    TokenPersister
	refresher TokenRefresher
	limiter   *rate.Limiter
}

func New(tokens TokenPersister, refresher TokenRefresher, timeout time.Duration) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		tokens:    tokens,
		refresher: refresher,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// runReport executes one report with automatic token refresh and pagination,
// returning every row of the requested type across all pages.
func (c *Client) runReport(ctx context.Context, projectID, connectorID, propertyID string, window PullWindow, reportType ReportType) ([]row, error) {
	ctx, span := ga4Tracer.Start(ctx, "ga4.runReport")
	defer span.End()
	span.SetAttributes(
		attribute.String("report_type", reportType.String()),
		attribute.String("property_id", propertyID),
	)

	var allRows []row
	pageToken := ""
	for {
		req := buildRequest(window, reportType, pageToken)
		resp, err := c.callWithAuth(ctx, projectID, connectorID, propertyID, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run report failed")
			return nil, err
		}
		allRows = append(allRows, resp.Rows...)
		if resp.NextPageToken == "" || len(resp.Rows) < pageSize {
			break
		}
		pageToken = resp.NextPageToken
	}
	return allRows, nil
}

// PullEvents and PullPagePaths flatten RunReport's raw rows into the typed
// records the Columnar Store expects.
func (c *Client) PullEvents(ctx context.Context, projectID, connectorID, propertyID string, window PullWindow) ([]EventRow, error) {
	rows, err := c.runReport(ctx, projectID, connectorID, propertyID, window, EventReport)
	if err != nil {
		return nil, err
	}
	out := make([]EventRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, flattenEventRow(r))
	}
	return out, nil
}

func (c *Client) PullPagePaths(ctx context.Context, projectID, connectorID, propertyID string, window PullWindow) ([]PagePathRow, error) {
	rows, err := c.runReport(ctx, projectID, connectorID, propertyID, window, PagePathReport)
	if err != nil {
		return nil, err
	}
	out := make([]PagePathRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, flattenPagePathRow(r))
	}
	return out, nil
}

// callWithAuth attaches the current access token, refreshing and retrying
// exactly once on a 401/expired token.
func (c *Client) callWithAuth(ctx context.Context, projectID, connectorID, propertyID string, req runReportRequest) (*runReportResponse, error) {
	tok, err := c.tokens.Get(ctx, projectID, connectorID)
	if err != nil {
		return nil, err
	}

	if needsRefresh(tok, time.Now()) {
		tok, err = c.doRefresh(ctx, projectID, connectorID, tok)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.call(ctx, propertyID, tok.AccessToken, req)
	if err == nil {
		return resp, nil
	}

	if ce, ok := asCoreError(err); ok && ce.Kind == coreerrors.KindUnauthorized {
		tok, err = c.doRefresh(ctx, projectID, connectorID, tok)
		if err != nil {
			return nil, err
		}
		return c.call(ctx, propertyID, tok.AccessToken, req)
	}
	return nil, err
}

func (c *Client) doRefresh(ctx context.Context, projectID, connectorID string, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok.RefreshToken == "" {
		return nil, coreerrors.New(coreerrors.KindPermissionDenied, "no refresh token on file")
	}
	fresh, err := c.refresher.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindPermissionDenied, "oauth refresh failed", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := c.tokens.Put(ctx, projectID, connectorID, fresh); err != nil {
		return nil, coreerrors.Internal("persist refreshed token", err)
	}
	return fresh, nil
}

func needsRefresh(tok *oauth2.Token, now time.Time) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.After(now.Add(60 * time.Second))
}

// call issues a single runReport HTTP call, retrying transient/rate-limited
// failures with the configured backoff policy and propagating permission and
// permanent failures immediately.
func (c *Client) call(ctx context.Context, propertyID, accessToken string, req runReportRequest) (*runReportResponse, error) {
	var result *runReportResponse
	policy := resilience.DefaultGA4Policy(isRetryableCoreError)

	err := resilience.Execute(ctx, policy, func(ctx context.Context) error {
		resp, err := c.doCall(ctx, propertyID, accessToken, req)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doCall(ctx context.Context, propertyID, accessToken string, req runReportRequest) (*runReportResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTimeout, "rate limiter wait", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, coreerrors.Internal("marshal GA4 request", err)
	}

	url := fmt.Sprintf("%s/%s:runReport", baseURL, propertyID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, coreerrors.Internal("build GA4 request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, coreerrors.Internal("read GA4 response body", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(httpResp.StatusCode, respBody)
	}

	var out runReportResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, coreerrors.Internal("decode GA4 response", err)
	}
	return &out, nil
}

func classifyTransportError(err error) error {
	return coreerrors.Wrap(coreerrors.KindUpstreamUnavailable, "GA4 transport error", err)
}

func classifyStatusError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return coreerrors.New(coreerrors.KindUnauthorized, "GA4 access token rejected")
	case http.StatusForbidden:
		return coreerrors.New(coreerrors.KindPermissionDenied, "GA4 denied access to property: "+string(body))
	case http.StatusTooManyRequests:
		return coreerrors.New(coreerrors.KindUpstreamUnavailable, "GA4 rate limited")
	case http.StatusBadRequest, http.StatusNotFound:
		return coreerrors.New(coreerrors.KindBadRequest, "GA4 rejected request: "+string(body))
	default:
		if status >= 500 {
			return coreerrors.New(coreerrors.KindUpstreamUnavailable, "GA4 transient error "+strconv.Itoa(status))
		}
		return coreerrors.New(coreerrors.KindInternal, "unexpected GA4 status "+strconv.Itoa(status))
	}
}

func isRetryableCoreError(err error) bool {
	return coreerrors.IsUpstreamUnavailable(err)
}

func asCoreError(err error) (*coreerrors.CoreError, bool) {
	ce, ok := err.(*coreerrors.CoreError)
	return ce, ok
}

func buildRequest(window PullWindow, reportType ReportType, pageToken string) runReportRequest {
	dr := dateRange{
		StartDate: window.Start.Format("2006-01-02"),
		EndDate:   window.End.Format("2006-01-02"),
	}
	req := runReportRequest{
		DateRanges: []dateRange{dr},
		Limit:      pageSize,
		PageToken:  pageToken,
	}
	switch reportType {
	case PagePathReport:
		req.Dimensions = []dimension{{Name: "date"}, {Name: "pagePath"}}
		req.Metrics = []metric{{Name: "screenPageViews"}, {Name: "totalUsers"}, {Name: "userEngagementDuration"}}
	default:
		req.Dimensions = []dimension{
			{Name: "date"}, {Name: "country"}, {Name: "deviceCategory"}, {Name: "eventName"},
			{Name: "browser"}, {Name: "operatingSystem"}, {Name: "screenResolution"},
		}
		req.Metrics = []metric{
			{Name: "activeUsers"}, {Name: "sessions"}, {Name: "screenPageViews"},
			{Name: "bounceRate"}, {Name: "averageSessionDuration"},
		}
	}
	return req
}

func flattenEventRow(r row) EventRow {
	d := r.DimensionValues
	m := r.MetricValues
	return EventRow{
		Date:                   dimAt(d, 0),
		Country:                dimAt(d, 1),
		DeviceCategory:         dimAt(d, 2),
		EventName:              dimAt(d, 3),
		Browser:                dimAt(d, 4),
		OperatingSystem:        dimAt(d, 5),
		ScreenResolution:       dimAt(d, 6),
		ActiveUsers:            metricInt(m, 0),
		Sessions:               metricInt(m, 1),
		ScreenPageViews:        metricInt(m, 2),
		BounceRate:             metricFloat(m, 3),
		AverageSessionDuration: metricFloat(m, 4),
	}
}

func flattenPagePathRow(r row) PagePathRow {
	d := r.DimensionValues
	m := r.MetricValues
	return PagePathRow{
		Date:                   dimAt(d, 0),
		PagePath:               dimAt(d, 1),
		ScreenPageViews:        metricInt(m, 0),
		TotalUsers:             metricInt(m, 1),
		UserEngagementDuration: metricFloat(m, 2),
	}
}

func dimAt(values []value, idx int) string {
	if idx < len(values) {
		return values[idx].Value
	}
	return ""
}

func metricInt(values []value, idx int) int64 {
	if idx >= len(values) {
		return 0
	}
	n, err := strconv.ParseInt(values[idx].Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func metricFloat(values []value, idx int) float64 {
	if idx >= len(values) {
		return 0
	}
	f, err := strconv.ParseFloat(values[idx].Value, 64)
	if err != nil {
		return 0
	}
	return f
}
