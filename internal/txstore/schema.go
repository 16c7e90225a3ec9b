// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package txstore is the relational store for projects, connectors, survey
// responses, and cached LLM outputs. Grounded on the original's Postgres
// schema (original_source/api/src/infrastructure/*.rs) but ported
// to modernc.org/sqlite so the whole module stays a single embeddable
// binary; comment vectors themselves live in internal/vectorindex rather
// than in a pgvector column, so embedding_status here only tracks pipeline
// progress.
package txstore

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT
);

CREATE TABLE IF NOT EXISTS connectors (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	property_id TEXT,
	property_name TEXT,
	last_sync TEXT
);

CREATE TABLE IF NOT EXISTS survey_responses (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	date TEXT,
	country TEXT,
	url TEXT,
	device TEXT,
	browser TEXT,
	os TEXT,
	ratings REAL,
	comments TEXT,
	raw TEXT NOT NULL DEFAULT '{}',
	embedding_status TEXT NOT NULL DEFAULT 'pending',
	embedding_generated_at TEXT
);

CREATE TABLE IF NOT EXISTS feedback_analyses (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	created_at TEXT NOT NULL,
	response_count INTEGER NOT NULL,
	analysis TEXT NOT NULL,
	narrative TEXT NOT NULL,
	model_used TEXT NOT NULL,
	input_tokens INTEGER,
	output_tokens INTEGER,
	duration_ms INTEGER
);

CREATE TABLE IF NOT EXISTS cro_reports (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	connector_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	executive_summary TEXT NOT NULL,
	funnel_analysis TEXT NOT NULL,
	qualitative_insights TEXT NOT NULL,
	recommendations TEXT NOT NULL,
	model_used TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	tool_calls_count INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_survey_responses_project ON survey_responses(project_id);
CREATE INDEX IF NOT EXISTS idx_survey_responses_pending ON survey_responses(project_id, embedding_status);
CREATE INDEX IF NOT EXISTS idx_connectors_project ON connectors(project_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_connectors_project_kind ON connectors(project_id, kind);
CREATE INDEX IF NOT EXISTS idx_feedback_analyses_project ON feedback_analyses(project_id, created_at);
`
