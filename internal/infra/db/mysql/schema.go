package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. MySQL cannot attach
// IF NOT EXISTS to CREATE INDEX, so indexes live inline in the table
// definitions.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scans (
	id             VARCHAR(64) PRIMARY KEY,
	timestamp      DATETIME     NOT NULL,
	profile        VARCHAR(128) NOT NULL DEFAULT '',
	branch         VARCHAR(255) NOT NULL DEFAULT '',
	total_findings INT          NOT NULL DEFAULT 0,
	INDEX idx_scans_profile_branch_time (profile, branch, timestamp)
);`,

	`CREATE TABLE IF NOT EXISTS findings (
	scan_id            VARCHAR(64)  NOT NULL,
	fingerprint        CHAR(64)     NOT NULL,
	schema_version     VARCHAR(16)  NOT NULL DEFAULT '',
	severity           VARCHAR(16)  NOT NULL,
	tool               VARCHAR(64)  NOT NULL,
	tool_version       VARCHAR(64)  NOT NULL DEFAULT '',
	rule_id            VARCHAR(255) NOT NULL DEFAULT '',
	path               TEXT         NOT NULL,
	start_line         INT          NOT NULL DEFAULT 0,
	end_line           INT          NOT NULL DEFAULT 0,
	message            TEXT         NOT NULL,
	raw_finding        JSON,
	resolution         VARCHAR(32),
	resolution_comment TEXT,
	resolved_at        DATETIME,
	PRIMARY KEY (scan_id, fingerprint),
	INDEX idx_findings_scan_severity (scan_id, severity),
	CONSTRAINT fk_findings_scan FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
);`,

	`CREATE TABLE IF NOT EXISTS tool_results (
	scan_id     VARCHAR(64) NOT NULL,
	tool        VARCHAR(64) NOT NULL,
	status      VARCHAR(16) NOT NULL,
	exit_code   INT         NOT NULL DEFAULT 0,
	attempts    INT         NOT NULL DEFAULT 1,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (scan_id, tool),
	CONSTRAINT fk_tool_results_scan FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
);`,

	`CREATE TABLE IF NOT EXISTS triage_advice (
	id          VARCHAR(64)  PRIMARY KEY,
	scan_id     VARCHAR(64)  NOT NULL,
	fingerprint CHAR(64)     NOT NULL,
	model       VARCHAR(128) NOT NULL DEFAULT '',
	result      TEXT         NOT NULL,
	created_at  DATETIME     NOT NULL,
	INDEX idx_triage_advice_finding (scan_id, fingerprint, created_at)
);`,
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
