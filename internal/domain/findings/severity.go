package findings

import "strings"

// Severity enum, most to least severe
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Levels lists all severities in descending order of severity.
var Levels = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the ordinal position of a severity (CRITICAL=4 .. INFO=0).
// Unknown values rank as INFO.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ParseSeverity maps a tool-reported severity string onto the canonical
// scale. Matching is case-insensitive; known aliases are translated and
// anything unrecognized (including the empty string) lands on INFO so a
// finding is never dropped over a vocabulary mismatch.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH", "ERROR":
		return SeverityHigh
	case "MEDIUM", "WARNING", "WARN":
		return SeverityMedium
	case "LOW", "NOTE":
		return SeverityLow
	case "INFO", "INFORMATIONAL":
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// IsValid reports whether s is one of the five canonical levels.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}
