package adapters

import (
	"bufio"
	"bytes"
	"encoding/json"
)

// Nuclei emits newline-delimited JSON, one finding per line. Parse
// splits lines without validating them; a non-JSON line surfaces as a
// per-record extraction failure and is skipped on its own.
type Nuclei struct{}

func NewNuclei() *Nuclei { return &Nuclei{} }

func (n *Nuclei) Tool() string { return "nuclei" }

func (n *Nuclei) EmptyOutput() []byte { return []byte{} }

func (n *Nuclei) Parse(data []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	s := bufio.NewScanner(bytes.NewReader(data))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		records = append(records, json.RawMessage(bytes.Clone(line)))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (n *Nuclei) Extract(record json.RawMessage) (Partial, error) {
	var rec struct {
		TemplateID string `json:"template-id"`
		Info       struct {
			Name     string `json:"name"`
			Severity string `json:"severity"`
		} `json:"info"`
		MatchedAt string `json:"matched-at"`
		Host      string `json:"host"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return Partial{}, err
	}

	path := rec.MatchedAt
	if path == "" {
		path = rec.Host
	}
	return Partial{
		RuleID:         rec.TemplateID,
		SeveritySource: rec.Info.Severity,
		Message:        rec.Info.Name,
		Path:           path,
	}, nil
}
