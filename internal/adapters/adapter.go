package adapters

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/rs/zerolog"

	"github.com/scanmux/scanmux/internal/domain/findings"
)

// Partial is the tool-specific slice of a finding extracted from one
// raw record. The base normalization fills in everything else.
type Partial struct {
	RuleID         string
	SeveritySource string
	Message        string
	Path           string
	StartLine      int
	EndLine        int
}

// Normalizer translates one scanner's raw output into canonical findings.
// Parse splits the output into individual records; Extract pulls the
// finding fields out of a single record.
type Normalizer interface {
	Tool() string
	EmptyOutput() []byte
	Parse(data []byte) ([]json.RawMessage, error)
	Extract(record json.RawMessage) (Partial, error)
}

// NormalizeFile reads a tool's output file and normalizes it. A missing,
// empty, or undecodable file yields an empty slice; one scanner emitting
// garbage must never abort the pipeline.
func NormalizeFile(log zerolog.Logger, n Normalizer, path, toolVersion string) []findings.Finding {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("tool", n.Tool()).Str("path", path).Msg("output file unreadable, skipping tool")
		return nil
	}
	return Normalize(log, n, data, toolVersion)
}

// Normalize parses raw tool output into canonical findings. Records that
// fail extraction are skipped individually; duplicate fingerprints within
// the same tool's output are dropped.
func Normalize(log zerolog.Logger, n Normalizer, data []byte, toolVersion string) []findings.Finding {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	records, err := n.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("tool", n.Tool()).Msg("output not in expected format, skipping tool")
		return nil
	}

	out := make([]findings.Finding, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		p, err := n.Extract(rec)
		if err != nil {
			log.Warn().Err(err).Str("tool", n.Tool()).Int("record", i).Msg("skipping malformed record")
			continue
		}
		f := assemble(n.Tool(), toolVersion, rec, p)
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

func assemble(tool, version string, raw json.RawMessage, p Partial) findings.Finding {
	end := p.EndLine
	if end < p.StartLine {
		end = p.StartLine
	}
	return findings.Finding{
		ID:            findings.Fingerprint(tool, p.RuleID, p.Path, p.StartLine, p.Message),
		SchemaVersion: findings.SchemaVersion,
		Tool:          findings.ToolRef{Name: tool, Version: version},
		RuleID:        p.RuleID,
		Severity:      findings.ParseSeverity(p.SeveritySource),
		Message:       p.Message,
		Location: findings.Location{
			Path:      findings.NormalizePath(p.Path),
			StartLine: p.StartLine,
			EndLine:   end,
		},
		Raw: raw,
	}
}
