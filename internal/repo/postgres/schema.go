package postgres

import (
	"context"
	"fmt"
)

// schemaStatements are idempotent and applied in order by Migrate.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cases (
	case_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	steps TEXT NOT NULL DEFAULT '',
	expected_result TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT 'Medium' CHECK (priority IN ('Critical', 'High', 'Medium', 'Low')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
	version INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE OR REPLACE FUNCTION cases_bump_version() RETURNS trigger AS $$
BEGIN
	IF NEW.title IS DISTINCT FROM OLD.title
		OR NEW.steps IS DISTINCT FROM OLD.steps
		OR NEW.expected_result IS DISTINCT FROM OLD.expected_result THEN
		NEW.version := OLD.version + 1;
		NEW.updated_at := now();
	END IF;
	RETURN NEW;
END
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS cases_bump_version ON cases`,
	`CREATE TRIGGER cases_bump_version BEFORE UPDATE ON cases
	FOR EACH ROW EXECUTE FUNCTION cases_bump_version()`,
	`CREATE TABLE IF NOT EXISTS case_issue_links (
	case_id TEXT NOT NULL REFERENCES cases(case_id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (case_id, url)
)`,
	`CREATE TABLE IF NOT EXISTS case_media (
	case_id TEXT NOT NULL REFERENCES cases(case_id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	PRIMARY KEY (case_id, file_name)
)`,
	`CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL CHECK (language IN ('original', 'ko', 'en')),
	closed BOOLEAN NOT NULL DEFAULT false,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS runs_project_created_idx ON runs (project_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS run_slots (
	slot_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	case_id TEXT NOT NULL,
	position INTEGER NOT NULL CHECK (position >= 0),
	case_version_snapshot INTEGER NOT NULL,
	title_snapshot TEXT NOT NULL,
	steps_snapshot TEXT NOT NULL,
	expected_result_snapshot TEXT NOT NULL,
	priority_snapshot TEXT NOT NULL,
	issue_links_snapshot TEXT NOT NULL DEFAULT '',
	media_names_snapshot TEXT NOT NULL DEFAULT '',
	language_snapshot TEXT NOT NULL,
	translated BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	refreshed_at TIMESTAMPTZ,
	UNIQUE (run_id, position),
	UNIQUE (run_id, case_id)
)`,
	`CREATE SEQUENCE IF NOT EXISTS run_results_seq`,
	`CREATE TABLE IF NOT EXISTS run_results (
	result_id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL DEFAULT nextval('run_results_seq'),
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	case_id TEXT NOT NULL,
	operator_id TEXT NOT NULL,
	outcome TEXT NOT NULL CHECK (outcome IN ('pass', 'fail', 'blocked', 'retest', 'na', 'comment', 'artifact')),
	note TEXT NOT NULL DEFAULT '',
	issue_links TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS run_results_pair_idx ON run_results (run_id, case_id, created_at DESC, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS case_translations (
	case_id TEXT NOT NULL,
	target_lang TEXT NOT NULL CHECK (target_lang IN ('ko', 'en')),
	source_lang TEXT NOT NULL CHECK (source_lang IN ('ko', 'en')),
	title TEXT NOT NULL,
	steps TEXT NOT NULL,
	expected_result TEXT NOT NULL,
	source_version INTEGER NOT NULL,
	source_fingerprint TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (case_id, target_lang)
)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	request_id TEXT,
	ip TEXT,
	user_agent TEXT,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	integrity_sha256 TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_resource_idx ON audit_events (resource_type, resource_id, occurred_at)`,
}

// Migrate applies the schema. Every statement is safe to re-run.
func Migrate(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
