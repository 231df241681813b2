package adapters

import "encoding/json"

// Gitleaks emits a top-level JSON array of leak records. Leaked
// credentials are always treated as critical; gitleaks itself carries
// no severity field.
type Gitleaks struct{}

func NewGitleaks() *Gitleaks { return &Gitleaks{} }

func (g *Gitleaks) Tool() string { return "gitleaks" }

func (g *Gitleaks) EmptyOutput() []byte { return []byte("[]\n") }

func (g *Gitleaks) Parse(data []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (g *Gitleaks) Extract(record json.RawMessage) (Partial, error) {
	var rec struct {
		RuleID      string `json:"RuleID"`
		Description string `json:"Description"`
		File        string `json:"File"`
		StartLine   int    `json:"StartLine"`
		EndLine     int    `json:"EndLine"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return Partial{}, err
	}
	return Partial{
		RuleID:         rec.RuleID,
		SeveritySource: "CRITICAL",
		Message:        rec.Description,
		Path:           rec.File,
		StartLine:      rec.StartLine,
		EndLine:        rec.EndLine,
	}, nil
}
