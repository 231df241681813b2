package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scanmux/scanmux/internal/adapters"
	"github.com/scanmux/scanmux/internal/dedup"
	"github.com/scanmux/scanmux/internal/domain/artifacts"
	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// Run-level status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Clock abstraction so time is injectable in tests
type Clock interface {
	Now() time.Time
}

// Service drives one run end to end: execute the profile's tools,
// normalize and deduplicate their outputs, persist the scan, write the
// aggregated findings file, and ship artifacts.
// Service is designed to be used concurrently and is thread-safe.
type Service struct {
	Orchestrator *Orchestrator
	Registry     *adapters.Registry
	Repo         history.Repository
	Artifacts    artifacts.Store // optional; nil disables uploads
	Dedup        dedup.Options
	Clock        Clock
	Log          zerolog.Logger
	OutputDir    string
}

// Command describes one requested run. Tool commands may carry {output}
// and {target} placeholders, resolved per run.
type Command struct {
	// ID is optional; the trigger endpoint pre-assigns one so it can
	// acknowledge the caller before the run finishes.
	ID      history.ScanID     `json:"id,omitempty"`
	Profile string             `json:"profile"`
	Branch  string             `json:"branch"`
	Target  string             `json:"target"`
	Tools   []tools.Definition `json:"tools"`
}

// Summary is what one run reports back.
type Summary struct {
	ID           history.ScanID         `json:"id"`
	Profile      string                 `json:"profile"`
	Branch       string                 `json:"branch"`
	Status       string                 `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	DurationMS   int64                  `json:"duration_ms"`
	ToolResults  []tools.Result         `json:"tool_results"`
	Counts       history.SeverityCounts `json:"counts"`
	Deduplicated int                    `json:"deduplicated"`
	Clusters     []dedup.Cluster        `json:"clusters,omitempty"`
	FindingsPath string                 `json:"findings_path,omitempty"`
	ArtifactURL  string                 `json:"artifact_url,omitempty"`
}

// RunUntilDone executes the pipeline detached from the caller's context.
// Meant to be called from a goroutine behind the trigger endpoint so an
// aborted HTTP request cannot cancel a running scan.
func (s *Service) RunUntilDone(cmd Command) (Summary, error) {
	return s.Run(context.Background(), cmd)
}

// Run executes one full pipeline pass.
func (s *Service) Run(ctx context.Context, cmd Command) (Summary, error) {
	now := s.Clock.Now()
	start := time.Now()
	id := cmd.ID
	if id == "" {
		id = history.ScanID(uuid.New().String())
	}
	log := s.Log.With().Str("component", "pipeline").Str("scan_id", string(id)).Logger()

	sum := Summary{ID: id, Profile: cmd.Profile, Branch: cmd.Branch, Status: StatusFailed, StartedAt: now}

	runDir := filepath.Join(s.OutputDir, string(id))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return sum, fmt.Errorf("create run dir: %w", err)
	}

	defs := make([]tools.Definition, len(cmd.Tools))
	for i, def := range cmd.Tools {
		defs[i] = expand(def, runDir, cmd.Target)
	}

	results := s.Orchestrator.Execute(ctx, defs)
	sum.ToolResults = results

	merged := make([]findings.Finding, 0)
	for _, def := range defs {
		n, ok := s.Registry.Lookup(def.Name)
		if !ok {
			log.Warn().Str("tool", def.Name).Msg("no normalizer registered, raw output ignored")
			continue
		}
		merged = append(merged, adapters.NormalizeFile(log, n, def.OutputPath, def.Version)...)
	}

	clusters := dedup.Deduplicate(merged, s.Dedup)
	sum.Counts = history.CountBySeverity(merged)
	sum.Deduplicated = len(clusters)
	sum.Clusters = clusters

	snap := history.Snapshot{
		Record: history.ScanRecord{
			ID:            id,
			Timestamp:     now,
			Profile:       cmd.Profile,
			Branch:        cmd.Branch,
			TotalFindings: len(merged),
		},
		Findings:    merged,
		ToolResults: results,
	}
	if err := s.Repo.SaveScan(ctx, snap); err != nil {
		sum.DurationMS = time.Since(start).Milliseconds()
		return sum, fmt.Errorf("persist scan: %w", err)
	}

	findingsPath := filepath.Join(runDir, "findings.json")
	if err := writeAggregate(findingsPath, merged); err != nil {
		log.Error().Err(err).Msg("cannot write aggregated findings file")
	} else {
		sum.FindingsPath = findingsPath
	}

	sum.ArtifactURL = s.uploadArtifacts(ctx, log, cmd.Profile, id, defs, sum.FindingsPath)

	if !Failed(defs, results, s.Orchestrator.AllowMissing()) {
		sum.Status = StatusSuccess
	}
	sum.DurationMS = time.Since(start).Milliseconds()

	log.Info().
		Str("status", sum.Status).
		Int("findings", sum.Counts.Total).
		Int("clusters", sum.Deduplicated).
		Int64("duration_ms", sum.DurationMS).
		Msg("run complete")
	return sum, nil
}

// expand resolves a profile tool template into a concrete invocation for
// this run: placeholders are substituted and the output path is pinned
// under the run directory so concurrent tools never collide.
func expand(def tools.Definition, runDir, target string) tools.Definition {
	out := def.OutputPath
	if out == "" {
		out = def.Name + ".json"
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(runDir, out)
	}
	def.OutputPath = out

	repl := strings.NewReplacer("{output}", out, "{target}", target)
	def.Command = replaceAll(repl, def.Command)
	def.ExtraArgs = replaceAll(repl, def.ExtraArgs)
	return def
}

func replaceAll(repl *strings.Replacer, args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = repl.Replace(a)
	}
	return out
}

// writeAggregate writes the hand-off artifact: a plain JSON array of
// canonical findings, not wrapped in an enclosing object.
func writeAggregate(path string, fs []findings.Finding) error {
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (s *Service) uploadArtifacts(ctx context.Context, log zerolog.Logger, profile string, id history.ScanID, defs []tools.Definition, findingsPath string) string {
	if s.Artifacts == nil {
		return ""
	}

	for _, def := range defs {
		if def.OutputPath == "" {
			continue
		}
		if _, err := os.Stat(def.OutputPath); err != nil {
			continue
		}
		key := fmt.Sprintf("%s/%s/%s", profile, id, filepath.Base(def.OutputPath))
		if _, err := s.Artifacts.UploadAndCleanup(ctx, def.OutputPath, key); err != nil {
			log.Warn().Err(err).Str("tool", def.Name).Msg("raw output upload failed")
		}
	}

	if findingsPath == "" {
		return ""
	}
	// the aggregate stays on disk as the local hand-off file
	key := fmt.Sprintf("%s/%s/%s", profile, id, filepath.Base(findingsPath))
	url, err := s.Artifacts.Upload(ctx, findingsPath, key)
	if err != nil {
		log.Warn().Err(err).Msg("aggregated findings upload failed")
		return ""
	}
	return url
}
