package history

import (
	"context"
	"errors"
	"time"

	"github.com/scanmux/scanmux/internal/domain/findings"
)

// ErrScanNotFound is returned when a scan id referenced by a caller
// (diff, lookup) does not exist. Callers get an explicit lookup failure,
// never a silently empty result.
var ErrScanNotFound = errors.New("scan not found")

// ErrFindingNotFound is returned when a fingerprint does not exist under
// the given scan.
var ErrFindingNotFound = errors.New("finding not found")

// Filter narrows a findings query. Zero values mean "no constraint".
type Filter struct {
	Severity findings.Severity
	Tool     string
	RuleID   string
	Path     string
	Limit    int
	Offset   int
}

// Repository port (persistence for scans and their findings)
type Repository interface {
	// SaveScan persists one run as a single atomic unit: the scan row,
	// its findings, and its tool results all commit together or not at
	// all. Partial persistence of a scan must never be observable.
	SaveScan(ctx context.Context, snap Snapshot) error

	GetScan(ctx context.Context, id ScanID) (*ScanRecord, error)
	ListScans(ctx context.Context, profile, branch string, limit int) ([]*ScanRecord, error)

	// Fingerprints returns the fingerprint set of one scan, for diffing.
	Fingerprints(ctx context.Context, id ScanID) ([]string, error)

	FindingsByScan(ctx context.Context, id ScanID, f Filter) ([]*findings.Annotated, int64, error)
	GetFinding(ctx context.Context, id ScanID, fingerprint string) (*findings.Annotated, error)

	// SaveResolution attaches reviewer state to an existing finding. The
	// finding must exist; ErrFindingNotFound otherwise, with nothing
	// written.
	SaveResolution(ctx context.Context, id ScanID, fingerprint string, res findings.Resolution) error

	// TrendPoints returns ordered per-scan severity counts for a
	// profile/branch since the cutoff, oldest first.
	TrendPoints(ctx context.Context, profile, branch string, since time.Time) ([]TrendPoint, error)
}
