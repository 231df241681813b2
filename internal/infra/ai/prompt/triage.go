package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/scanmux/scanmux/internal/domain/findings"
)

// TriageSystem provides strict directions and schema for JSON output.
func TriageSystem() string {
	return `You are a senior application security analyst triaging one normalized scanner finding. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- severity_agreement is "agree", "raise" or "lower" relative to the finding's reported severity.
- likely_false_positive is a boolean; be conservative, only true when the evidence clearly points that way.
- remediation_steps is an ordered array of concrete actions; keep each step short and actionable.
- If sibling tools are listed, treat independent corroboration as a signal against a false positive.

Schema (example with empty values):
{
  "assessment": "<string>",
  "likely_false_positive": false,
  "severity_agreement": "<agree|raise|lower>",
  "remediation_steps": ["<string>"],
  "references": ["<string>"],
  "summary": "<string>"
}`
}

// TriageUser renders one finding into a compact user message.
func TriageUser(f *findings.Annotated) string {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf(
			"Triage this finding and respond with the JSON per schema. tool=%s rule=%s severity=%s path=%s message=%s",
			f.Tool.Name, f.RuleID, f.Severity, f.Location.Path, f.Message,
		)
	}
	return "Triage the following normalized finding and respond with the JSON per schema.\n" + string(b)
}
