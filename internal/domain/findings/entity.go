package findings

import "encoding/json"

// SchemaVersion is stamped on every finding this build produces. Bump it
// when the canonical schema below changes shape.
const SchemaVersion = "1.0"

// ToolRef identifies the scanner that produced a finding.
type ToolRef struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Location pins a finding to a file and line range.
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Finding is the canonical unit of the whole pipeline: one normalized
// security observation. Constructed once by a normalizer and immutable
// afterwards; dedup and history attach annotations around it but never
// rewrite these fields or recompute ID.
type Finding struct {
	ID            string          `json:"id"`
	SchemaVersion string          `json:"schemaVersion"`
	Tool          ToolRef         `json:"tool"`
	RuleID        string          `json:"ruleId"`
	Severity      Severity        `json:"severity"`
	Message       string          `json:"message"`
	Location      Location        `json:"location"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Annotated wraps a finding with data later stages attach to it: the
// other tools that reported the same underlying issue and any recorded
// resolution.
type Annotated struct {
	Finding
	SiblingTools []string    `json:"siblingTools,omitempty"`
	Resolution   *Resolution `json:"resolution,omitempty"`
}
