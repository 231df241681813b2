package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// insertBatchSize caps how many rows go into a single multi-value INSERT.
const insertBatchSize = 100

const defaultListLimit = 50

// HistoryRepository stores scans, their findings and tool results in Postgres.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// SaveScan writes the whole snapshot in one transaction. Re-saving the
// same scan id overwrites the scan row and leaves existing findings in
// place.
func (r *HistoryRepository) SaveScan(ctx context.Context, snap history.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := snap.Record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const q = `
INSERT INTO scans (id, timestamp, profile, branch, total_findings)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  timestamp      = EXCLUDED.timestamp,
  profile        = EXCLUDED.profile,
  branch         = EXCLUDED.branch,
  total_findings = EXCLUDED.total_findings;`
	if _, err := tx.ExecContext(ctx, q,
		string(snap.Record.ID), ts, snap.Record.Profile, snap.Record.Branch, snap.Record.TotalFindings,
	); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	if err := insertFindings(ctx, tx, snap.Record.ID, snap.Findings); err != nil {
		return err
	}
	if err := insertToolResults(ctx, tx, snap.Record.ID, snap.ToolResults); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFindings(ctx context.Context, tx *sql.Tx, id history.ScanID, fs []findings.Finding) error {
	const cols = 12
	for start := 0; start < len(fs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(fs) {
			end = len(fs)
		}
		chunk := fs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO findings
(scan_id, fingerprint, schema_version, severity, tool, tool_version, rule_id, path, start_line, end_line, message, raw_finding)
VALUES `)
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, f := range chunk {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('(')
			for j := 1; j <= cols; j++ {
				if j > 1 {
					sb.WriteByte(',')
				}
				fmt.Fprintf(&sb, "$%d", i*cols+j)
			}
			sb.WriteByte(')')

			var raw interface{}
			if len(f.Raw) > 0 {
				raw = []byte(f.Raw)
			}
			args = append(args,
				string(id), f.ID, f.SchemaVersion, string(f.Severity),
				f.Tool.Name, f.Tool.Version, f.RuleID,
				f.Location.Path, f.Location.StartLine, f.Location.EndLine,
				f.Message, raw,
			)
		}
		sb.WriteString(" ON CONFLICT (scan_id, fingerprint) DO NOTHING;")
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert findings: %w", err)
		}
	}
	return nil
}

func insertToolResults(ctx context.Context, tx *sql.Tx, id history.ScanID, rs []tools.Result) error {
	const cols = 6
	for start := 0; start < len(rs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rs) {
			end = len(rs)
		}
		chunk := rs[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO tool_results
(scan_id, tool, status, exit_code, attempts, duration_ms)
VALUES `)
		args := make([]interface{}, 0, len(chunk)*cols)
		for i, tr := range chunk {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('(')
			for j := 1; j <= cols; j++ {
				if j > 1 {
					sb.WriteByte(',')
				}
				fmt.Fprintf(&sb, "$%d", i*cols+j)
			}
			sb.WriteByte(')')
			args = append(args,
				string(id), tr.Tool, string(tr.Status), tr.ExitCode, tr.Attempts, tr.Duration.Milliseconds(),
			)
		}
		sb.WriteString(` ON CONFLICT (scan_id, tool) DO UPDATE SET
  status      = EXCLUDED.status,
  exit_code   = EXCLUDED.exit_code,
  attempts    = EXCLUDED.attempts,
  duration_ms = EXCLUDED.duration_ms;`)
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert tool results: %w", err)
		}
	}
	return nil
}

func (r *HistoryRepository) GetScan(ctx context.Context, id history.ScanID) (*history.ScanRecord, error) {
	const q = `
SELECT id, timestamp, profile, branch, total_findings
FROM scans
WHERE id=$1
LIMIT 1;`
	var rec history.ScanRecord
	err := r.db.QueryRowContext(ctx, q, string(id)).Scan(
		&rec.ID, &rec.Timestamp, &rec.Profile, &rec.Branch, &rec.TotalFindings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *HistoryRepository) ListScans(ctx context.Context, profile, branch string, limit int) ([]*history.ScanRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
SELECT id, timestamp, profile, branch, total_findings
FROM scans
WHERE 1=1`
	args := []interface{}{}
	next := 1

	if profile != "" {
		query += fmt.Sprintf(" AND profile = $%d", next)
		args = append(args, profile)
		next++
	}
	if branch != "" {
		query += fmt.Sprintf(" AND branch = $%d", next)
		args = append(args, branch)
		next++
	}
	query += fmt.Sprintf("\nORDER BY timestamp DESC\nLIMIT $%d", next)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	var out []*history.ScanRecord
	for rows.Next() {
		var rec history.ScanRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Profile, &rec.Branch, &rec.TotalFindings); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *HistoryRepository) Fingerprints(ctx context.Context, id history.ScanID) ([]string, error) {
	if _, err := r.GetScan(ctx, id); err != nil {
		return nil, err
	}

	const q = `SELECT fingerprint FROM findings WHERE scan_id=$1 ORDER BY fingerprint;`
	rows, err := r.db.QueryContext(ctx, q, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

const findingColumns = `fingerprint, schema_version, severity, tool, tool_version, rule_id, path,
       start_line, end_line, message, raw_finding, resolution, resolution_comment, resolved_at`

func (r *HistoryRepository) FindingsByScan(ctx context.Context, id history.ScanID, f history.Filter) ([]*findings.Annotated, int64, error) {
	if _, err := r.GetScan(ctx, id); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	where := "\nWHERE scan_id=$1"
	args := []interface{}{string(id)}
	next := 2

	if f.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", next)
		args = append(args, string(f.Severity))
		next++
	}
	if f.Tool != "" {
		where += fmt.Sprintf(" AND tool = $%d", next)
		args = append(args, f.Tool)
		next++
	}
	if f.RuleID != "" {
		where += fmt.Sprintf(" AND rule_id = $%d", next)
		args = append(args, f.RuleID)
		next++
	}
	if f.Path != "" {
		where += fmt.Sprintf(" AND path LIKE $%d", next)
		args = append(args, "%"+escapeLikePattern(f.Path)+"%")
		next++
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM findings"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting findings: %w", err)
	}

	query := "SELECT " + findingColumns + "\nFROM findings" + where +
		fmt.Sprintf("\nORDER BY path, start_line, fingerprint\nLIMIT $%d OFFSET $%d", next, next+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()

	var out []*findings.Annotated
	for rows.Next() {
		a, err := scanFinding(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *HistoryRepository) GetFinding(ctx context.Context, id history.ScanID, fingerprint string) (*findings.Annotated, error) {
	q := "SELECT " + findingColumns + `
FROM findings
WHERE scan_id=$1 AND fingerprint=$2
LIMIT 1;`
	a, err := scanFinding(r.db.QueryRowContext(ctx, q, string(id), fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrFindingNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveResolution updates reviewer state in place. A zero RowsAffected
// means the fingerprint does not exist under the scan.
func (r *HistoryRepository) SaveResolution(ctx context.Context, id history.ScanID, fingerprint string, res findings.Resolution) error {
	const q = `
UPDATE findings
SET resolution=$1, resolution_comment=$2, resolved_at=$3
WHERE scan_id=$4 AND fingerprint=$5;`
	result, err := r.db.ExecContext(ctx, q,
		string(res.Status), res.Comment, res.ResolvedAt, string(id), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("updating resolution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return history.ErrFindingNotFound
	}
	return nil
}

func (r *HistoryRepository) TrendPoints(ctx context.Context, profile, branch string, since time.Time) ([]history.TrendPoint, error) {
	query := `
SELECT s.id, s.timestamp, s.profile, s.branch, s.total_findings,
       COALESCE(SUM(CASE WHEN f.severity='CRITICAL' THEN 1 ELSE 0 END),0) AS critical,
       COALESCE(SUM(CASE WHEN f.severity='HIGH'     THEN 1 ELSE 0 END),0) AS high,
       COALESCE(SUM(CASE WHEN f.severity='MEDIUM'   THEN 1 ELSE 0 END),0) AS medium,
       COALESCE(SUM(CASE WHEN f.severity='LOW'      THEN 1 ELSE 0 END),0) AS low,
       COALESCE(SUM(CASE WHEN f.severity='INFO'     THEN 1 ELSE 0 END),0) AS info
FROM scans s
LEFT JOIN findings f ON f.scan_id = s.id
WHERE s.timestamp >= $1`
	args := []interface{}{since}
	next := 2

	if profile != "" {
		query += fmt.Sprintf(" AND s.profile = $%d", next)
		args = append(args, profile)
		next++
	}
	if branch != "" {
		query += fmt.Sprintf(" AND s.branch = $%d", next)
		args = append(args, branch)
		next++
	}
	query += `
GROUP BY s.id, s.timestamp, s.profile, s.branch, s.total_findings
ORDER BY s.timestamp ASC;`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trend points: %w", err)
	}
	defer rows.Close()

	var out []history.TrendPoint
	for rows.Next() {
		var p history.TrendPoint
		if err := rows.Scan(
			&p.Scan.ID, &p.Scan.Timestamp, &p.Scan.Profile, &p.Scan.Branch, &p.Scan.TotalFindings,
			&p.Counts.Critical, &p.Counts.High, &p.Counts.Medium, &p.Counts.Low, &p.Counts.Info,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		p.Counts.Total = p.Scan.TotalFindings
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFinding(rs rowScanner) (*findings.Annotated, error) {
	var (
		a          findings.Annotated
		raw        []byte
		resStatus  sql.NullString
		resComment sql.NullString
		resolvedAt sql.NullTime
	)
	if err := rs.Scan(
		&a.ID, &a.SchemaVersion, &a.Severity, &a.Tool.Name, &a.Tool.Version, &a.RuleID,
		&a.Location.Path, &a.Location.StartLine, &a.Location.EndLine,
		&a.Message, &raw, &resStatus, &resComment, &resolvedAt,
	); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		a.Raw = json.RawMessage(raw)
	}
	if resStatus.Valid {
		a.Resolution = &findings.Resolution{
			Status:     findings.ResolutionStatus(resStatus.String),
			Comment:    resComment.String,
			ResolvedAt: resolvedAt.Time,
		}
	}
	return &a, nil
}
