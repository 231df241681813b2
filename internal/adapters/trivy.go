package adapters

import (
	"encoding/json"
	"fmt"
)

// Trivy emits an object with vulnerabilities nested per scan target.
// Parse flattens the nesting into one record per vulnerability, keeping
// the enclosing target path alongside the verbatim vulnerability entry.
type Trivy struct{}

func NewTrivy() *Trivy { return &Trivy{} }

func (t *Trivy) Tool() string { return "trivy" }

func (t *Trivy) EmptyOutput() []byte { return []byte(`{"Results":[]}` + "\n") }

type trivyRecord struct {
	Target        string          `json:"Target"`
	Vulnerability json.RawMessage `json:"Vulnerability"`
}

func (t *Trivy) Parse(data []byte) ([]json.RawMessage, error) {
	var report struct {
		Results []struct {
			Target          string            `json:"Target"`
			Vulnerabilities []json.RawMessage `json:"Vulnerabilities"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	var records []json.RawMessage
	for _, res := range report.Results {
		for _, vuln := range res.Vulnerabilities {
			rec, err := json.Marshal(trivyRecord{Target: res.Target, Vulnerability: vuln})
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (t *Trivy) Extract(record json.RawMessage) (Partial, error) {
	var rec trivyRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return Partial{}, err
	}
	var vuln struct {
		VulnerabilityID  string `json:"VulnerabilityID"`
		PkgName          string `json:"PkgName"`
		InstalledVersion string `json:"InstalledVersion"`
		Severity         string `json:"Severity"`
		Title            string `json:"Title"`
	}
	if err := json.Unmarshal(rec.Vulnerability, &vuln); err != nil {
		return Partial{}, err
	}

	msg := vuln.Title
	if msg == "" {
		msg = fmt.Sprintf("%s in %s %s", vuln.VulnerabilityID, vuln.PkgName, vuln.InstalledVersion)
	}
	return Partial{
		RuleID:         vuln.VulnerabilityID,
		SeveritySource: vuln.Severity,
		Message:        msg,
		Path:           rec.Target,
	}, nil
}
