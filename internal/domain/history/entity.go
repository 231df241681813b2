package history

import (
	"time"

	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// ScanID identifier type
type ScanID string

// ScanRecord is one orchestration run as the store remembers it.
// Created once when the run is persisted, never mutated afterwards.
type ScanRecord struct {
	ID            ScanID    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Profile       string    `json:"profile"`
	Branch        string    `json:"branch"`
	TotalFindings int       `json:"total_findings"`
}

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Add counts one finding of the given severity.
func (c *SeverityCounts) Add(s findings.Severity) {
	switch s {
	case findings.SeverityCritical:
		c.Critical++
	case findings.SeverityHigh:
		c.High++
	case findings.SeverityMedium:
		c.Medium++
	case findings.SeverityLow:
		c.Low++
	default:
		c.Info++
	}
	c.Total++
}

// CountBySeverity tallies a finding set.
func CountBySeverity(fs []findings.Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range fs {
		c.Add(f.Severity)
	}
	return c
}

// Snapshot bundles everything one run persists: the record, its
// normalized findings, and the per-tool execution outcomes. The store
// writes a snapshot as one atomic unit.
type Snapshot struct {
	Record      ScanRecord
	Findings    []findings.Finding
	ToolResults []tools.Result
}
