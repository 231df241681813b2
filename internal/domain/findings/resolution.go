package findings

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownResolution rejects resolution statuses outside the accepted
// set.
var ErrUnknownResolution = errors.New("unknown resolution status")

// ResolutionStatus enum
type ResolutionStatus string

const (
	ResolutionFixed         ResolutionStatus = "fixed"
	ResolutionFalsePositive ResolutionStatus = "false_positive"
	ResolutionWontFix       ResolutionStatus = "wont_fix"
	ResolutionRiskAccepted  ResolutionStatus = "risk_accepted"
)

// ResolutionStatuses lists the accepted values, in the order they are
// reported back on a validation error.
var ResolutionStatuses = []ResolutionStatus{
	ResolutionFixed,
	ResolutionFalsePositive,
	ResolutionWontFix,
	ResolutionRiskAccepted,
}

// Resolution is reviewer state attached to a persisted finding.
type Resolution struct {
	Status     ResolutionStatus `json:"status"`
	Comment    string           `json:"comment,omitempty"`
	ResolvedAt time.Time        `json:"resolvedAt"`
}

// ParseResolutionStatus validates a caller-supplied resolution status.
// Unknown values are rejected before anything is written, with the valid
// set spelled out in the error.
func ParseResolutionStatus(raw string) (ResolutionStatus, error) {
	s := ResolutionStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, v := range ResolutionStatuses {
		if s == v {
			return v, nil
		}
	}
	valid := make([]string, len(ResolutionStatuses))
	for i, v := range ResolutionStatuses {
		valid[i] = string(v)
	}
	return "", fmt.Errorf("%w %q (valid: %s)", ErrUnknownResolution, raw, strings.Join(valid, ", "))
}
