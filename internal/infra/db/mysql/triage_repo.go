package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scanmux/scanmux/internal/domain/triage"
)

// TriageRepository stores model-generated remediation advice in MySQL.
type TriageRepository struct {
	db *sql.DB
}

func NewTriageRepository(db *sql.DB) *TriageRepository {
	return &TriageRepository{db: db}
}

func (r *TriageRepository) Save(ctx context.Context, a *triage.Advice) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `
INSERT INTO triage_advice (id, scan_id, fingerprint, model, result, created_at)
VALUES (?,?,?,?,?,?);`
	if _, err := r.db.ExecContext(ctx, q,
		string(a.ID), a.ScanID, a.Fingerprint, a.Model, a.Result, created,
	); err != nil {
		return fmt.Errorf("insert advice: %w", err)
	}
	return nil
}

func (r *TriageRepository) LatestByFinding(ctx context.Context, scanID, fingerprint string) (*triage.Advice, error) {
	const q = `
SELECT id, scan_id, fingerprint, model, result, created_at
FROM triage_advice
WHERE scan_id=? AND fingerprint=?
ORDER BY created_at DESC
LIMIT 1;`
	var a triage.Advice
	err := r.db.QueryRowContext(ctx, q, scanID, fingerprint).Scan(
		&a.ID, &a.ScanID, &a.Fingerprint, &a.Model, &a.Result, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, triage.ErrAdviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
