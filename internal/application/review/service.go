package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/triage"
)

// ErrValidation marks caller input rejected before anything was written.
var ErrValidation = errors.New("validation failed")

// ErrAdvisorUnavailable is returned when triage is requested but no
// advice provider is configured.
var ErrAdvisorUnavailable = errors.New("advice provider not configured")

const (
	defaultPageSize  = 50
	maxPageSize      = 500
	defaultTrendDays = 30
)

// Clock abstraction so time is injectable in tests
type Clock interface {
	Now() time.Time
}

// Service implements the read side of the store: scan history, finding
// queries, reviewer resolutions, diffs, trends, and AI triage advice.
type Service struct {
	Repo    history.Repository
	Advice  triage.Repository // optional
	Advisor triage.Client     // optional
	Model   string
	Clock   Clock
}

// ListScans returns recent scans for a profile/branch, newest first.
func (s *Service) ListScans(ctx context.Context, profile, branch string, limit int) ([]*history.ScanRecord, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	return s.Repo.ListScans(ctx, profile, branch, limit)
}

func (s *Service) GetScan(ctx context.Context, id history.ScanID) (*history.ScanRecord, error) {
	return s.Repo.GetScan(ctx, id)
}

// Findings returns one scan's findings under the filter, plus the total
// match count before pagination.
func (s *Service) Findings(ctx context.Context, id history.ScanID, f history.Filter) ([]*findings.Annotated, int64, error) {
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = defaultPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown severity %q", ErrValidation, f.Severity)
	}
	return s.Repo.FindingsByScan(ctx, id, f)
}

func (s *Service) GetFinding(ctx context.Context, id history.ScanID, fingerprint string) (*findings.Annotated, error) {
	return s.Repo.GetFinding(ctx, id, fingerprint)
}

// Resolve records reviewer state on a finding. The status is validated
// first and the finding must exist; nothing is written otherwise.
func (s *Service) Resolve(ctx context.Context, id history.ScanID, fingerprint, status, comment string) (*findings.Resolution, error) {
	parsed, err := findings.ParseResolutionStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	res := findings.Resolution{
		Status:     parsed,
		Comment:    comment,
		ResolvedAt: s.Clock.Now(),
	}
	if err := s.Repo.SaveResolution(ctx, id, fingerprint, res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Diff compares two scans by fingerprint set. Unknown scan ids surface
// as lookup errors, never as a silently empty diff.
func (s *Service) Diff(ctx context.Context, base, head history.ScanID) (history.DiffResult, error) {
	earlier, err := s.Repo.Fingerprints(ctx, base)
	if err != nil {
		return history.DiffResult{}, fmt.Errorf("base scan %s: %w", base, err)
	}
	later, err := s.Repo.Fingerprints(ctx, head)
	if err != nil {
		return history.DiffResult{}, fmt.Errorf("head scan %s: %w", head, err)
	}
	return history.Diff(earlier, later), nil
}

// Trends summarizes finding volume for a profile/branch over the last
// days (default 30).
func (s *Service) Trends(ctx context.Context, profile, branch string, days int) (history.TrendReport, error) {
	if days <= 0 {
		days = defaultTrendDays
	}
	since := s.Clock.Now().AddDate(0, 0, -days)
	points, err := s.Repo.TrendPoints(ctx, profile, branch, since)
	if err != nil {
		return history.TrendReport{}, err
	}
	return history.ComputeTrend(points), nil
}

// Advise generates remediation advice for one stored finding and keeps
// it for audit.
func (s *Service) Advise(ctx context.Context, id history.ScanID, fingerprint string) (*triage.Advice, error) {
	if s.Advisor == nil {
		return nil, ErrAdvisorUnavailable
	}
	f, err := s.Repo.GetFinding(ctx, id, fingerprint)
	if err != nil {
		return nil, err
	}

	result, err := s.Advisor.Advise(ctx, f)
	if err != nil {
		return nil, err
	}

	a := &triage.Advice{
		ID:          triage.AdviceID(uuid.New().String()),
		ScanID:      string(id),
		Fingerprint: fingerprint,
		Model:       s.Model,
		Result:      result,
		CreatedAt:   s.Clock.Now(),
	}
	if s.Advice != nil {
		if err := s.Advice.Save(ctx, a); err != nil {
			return nil, fmt.Errorf("store advice: %w", err)
		}
	}
	return a, nil
}
