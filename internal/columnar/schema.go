// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package columnar implements the per-(project,connector) embedded analytical
// store: one SQLite file holding the ga4_events and ga4_page_paths tables,
// grounded on original_source/api/src/services/storage_service.rs
// and .../infrastructure/funnel_repository.rs. modernc.org/sqlite is used in
// place of the original's DuckDB so the store stays a single pure-Go binary;
// the window-function queries (LAG, FIRST_VALUE, RANK) it relies on are
// available in SQLite since 3.25 and modernc.org/sqlite bundles a recent
// release.
package columnar

const createEventsTable = `
CREATE TABLE IF NOT EXISTS ga4_events (
	date VARCHAR NOT NULL,
	country VARCHAR NOT NULL,
	device_category VARCHAR NOT NULL,
	event_name VARCHAR NOT NULL,
	browser VARCHAR NOT NULL,
	operating_system VARCHAR NOT NULL,
	screen_resolution VARCHAR NOT NULL,
	active_users INTEGER NOT NULL,
	sessions INTEGER NOT NULL,
	screen_page_views INTEGER NOT NULL,
	bounce_rate REAL NOT NULL,
	average_session_duration REAL NOT NULL,
	PRIMARY KEY (date, country, device_category, event_name, browser, operating_system, screen_resolution)
)`

const createPagePathsTable = `
CREATE TABLE IF NOT EXISTS ga4_page_paths (
	date VARCHAR NOT NULL,
	page_path VARCHAR NOT NULL,
	screen_page_views INTEGER NOT NULL,
	total_users INTEGER NOT NULL,
	user_engagement_duration REAL NOT NULL,
	PRIMARY KEY (date, page_path)
)`

const eventsTable = "ga4_events"
const pagePathsTable = "ga4_page_paths"

var eventColumns = []string{
	"date", "country", "device_category", "event_name", "browser",
	"operating_system", "screen_resolution", "active_users", "sessions",
	"screen_page_views", "bounce_rate", "average_session_duration",
}

var pagePathColumns = []string{
	"date", "page_path", "screen_page_views", "total_users", "user_engagement_duration",
}
