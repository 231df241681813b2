package adapters

// Semgrep emits an object with a nested "results" array. An output
// missing that key (older versions, or a run that died mid-write)
// degrades to zero findings instead of a decode error.

import "encoding/json"

type Semgrep struct{}

func NewSemgrep() *Semgrep { return &Semgrep{} }

func (s *Semgrep) Tool() string { return "semgrep" }

func (s *Semgrep) EmptyOutput() []byte { return []byte(`{"results":[],"errors":[]}` + "\n") }

func (s *Semgrep) Parse(data []byte) ([]json.RawMessage, error) {
	var report struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return report.Results, nil
}

func (s *Semgrep) Extract(record json.RawMessage) (Partial, error) {
	var rec struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
		} `json:"extra"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return Partial{}, err
	}
	return Partial{
		RuleID:         rec.CheckID,
		SeveritySource: rec.Extra.Severity,
		Message:        rec.Extra.Message,
		Path:           rec.Path,
		StartLine:      rec.Start.Line,
		EndLine:        rec.End.Line,
	}, nil
}
