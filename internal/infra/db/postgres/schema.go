package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup, the same way the artifact
// store ensures its bucket.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scans (
	id             VARCHAR(64) PRIMARY KEY,
	timestamp      TIMESTAMPTZ  NOT NULL,
	profile        VARCHAR(128) NOT NULL DEFAULT '',
	branch         VARCHAR(255) NOT NULL DEFAULT '',
	total_findings INT          NOT NULL DEFAULT 0
);`,
	`CREATE INDEX IF NOT EXISTS idx_scans_profile_branch_time
	ON scans (profile, branch, timestamp DESC);`,

	`CREATE TABLE IF NOT EXISTS findings (
	scan_id            VARCHAR(64)  NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	fingerprint        CHAR(64)     NOT NULL,
	schema_version     VARCHAR(16)  NOT NULL DEFAULT '',
	severity           VARCHAR(16)  NOT NULL,
	tool               VARCHAR(64)  NOT NULL,
	tool_version       VARCHAR(64)  NOT NULL DEFAULT '',
	rule_id            TEXT         NOT NULL DEFAULT '',
	path               TEXT         NOT NULL DEFAULT '',
	start_line         INT          NOT NULL DEFAULT 0,
	end_line           INT          NOT NULL DEFAULT 0,
	message            TEXT         NOT NULL DEFAULT '',
	raw_finding        JSONB,
	resolution         VARCHAR(32),
	resolution_comment TEXT,
	resolved_at        TIMESTAMPTZ,
	PRIMARY KEY (scan_id, fingerprint)
);`,
	`CREATE INDEX IF NOT EXISTS idx_findings_scan_severity
	ON findings (scan_id, severity);`,

	`CREATE TABLE IF NOT EXISTS tool_results (
	scan_id     VARCHAR(64) NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	tool        VARCHAR(64) NOT NULL,
	status      VARCHAR(16) NOT NULL,
	exit_code   INT         NOT NULL DEFAULT 0,
	attempts    INT         NOT NULL DEFAULT 1,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (scan_id, tool)
);`,

	`CREATE TABLE IF NOT EXISTS triage_advice (
	id          VARCHAR(64)  PRIMARY KEY,
	scan_id     VARCHAR(64)  NOT NULL,
	fingerprint CHAR(64)     NOT NULL,
	model       VARCHAR(128) NOT NULL DEFAULT '',
	result      TEXT         NOT NULL,
	created_at  TIMESTAMPTZ  NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_triage_advice_finding
	ON triage_advice (scan_id, fingerprint, created_at DESC);`,
}

// EnsureSchema creates the tables and indexes when they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
