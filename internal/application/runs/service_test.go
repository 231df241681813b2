package runs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmux/scanmux/internal/adapters"
	"github.com/scanmux/scanmux/internal/dedup"
	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// fixture outputs for a deliberately leaky repository
const (
	fixtureGitleaks = `[
  {"RuleID": "aws-access-key", "Description": "AWS Access Key", "File": "config/prod.env", "StartLine": 3, "EndLine": 3},
  {"RuleID": "generic-api-key", "Description": "Generic API Key", "File": "app/settings.py", "StartLine": 17, "EndLine": 17}
]`
	fixtureTrivy = `{
  "Results": [
    {
      "Target": "requirements.txt",
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2023-30861", "PkgName": "flask", "InstalledVersion": "2.2.2", "Severity": "HIGH", "Title": "Flask cookie disclosure"}
      ]
    }
  ]
}`
)

// fakeRepo records snapshots handed to SaveScan.
type fakeRepo struct {
	mu        sync.Mutex
	saved     []history.Snapshot
	saveErr   error
	saveCalls int
}

func (f *fakeRepo) SaveScan(_ context.Context, snap history.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeRepo) GetScan(context.Context, history.ScanID) (*history.ScanRecord, error) {
	return nil, history.ErrScanNotFound
}

func (f *fakeRepo) ListScans(context.Context, string, string, int) ([]*history.ScanRecord, error) {
	return nil, nil
}

func (f *fakeRepo) Fingerprints(context.Context, history.ScanID) ([]string, error) {
	return nil, history.ErrScanNotFound
}

func (f *fakeRepo) FindingsByScan(context.Context, history.ScanID, history.Filter) ([]*findings.Annotated, int64, error) {
	return nil, 0, nil
}

func (f *fakeRepo) GetFinding(context.Context, history.ScanID, string) (*findings.Annotated, error) {
	return nil, history.ErrFindingNotFound
}

func (f *fakeRepo) SaveResolution(context.Context, history.ScanID, string, findings.Resolution) error {
	return history.ErrFindingNotFound
}

func (f *fakeRepo) TrendPoints(context.Context, string, string, time.Time) ([]history.TrendPoint, error) {
	return nil, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fixtureRunner plays the part of real scanners: it writes a canned
// report to the tool's output path and exits clean.
func fixtureRunner(outputs map[string]string) *fakeRunner {
	return newFakeRunner(func(def tools.Definition, _ int) tools.Attempt {
		body, ok := outputs[def.Name]
		if !ok {
			return tools.Attempt{Status: tools.StatusMissing, ExitCode: -1}
		}
		if err := os.WriteFile(def.OutputPath, []byte(body), 0o644); err != nil {
			return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: err}
		}
		return tools.Attempt{Status: tools.StatusSuccess}
	})
}

func newService(t *testing.T, runner tools.Runner, repo history.Repository, opts Options) *Service {
	t.Helper()
	return &Service{
		Orchestrator: NewOrchestrator(runner, adapters.DefaultRegistry(), zerolog.Nop(), opts),
		Registry:     adapters.DefaultRegistry(),
		Repo:         repo,
		Dedup:        dedup.DefaultOptions(),
		Clock:        fixedClock{t: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)},
		Log:          zerolog.Nop(),
		OutputDir:    t.TempDir(),
	}
}

func scanCommand() Command {
	return Command{
		Profile: "default",
		Branch:  "main",
		Target:  ".",
		Tools: []tools.Definition{
			{Name: "gitleaks", Command: []string{"gitleaks", "detect", "--report-path", "{output}"}, Version: "8.18.0", Required: true},
			{Name: "trivy", Command: []string{"trivy", "fs", "-o", "{output}", "{target}"}, Version: "0.50.1", Required: true},
		},
	}
}

func TestServiceRun(t *testing.T) {
	t.Run("secret and dependency scanners produce a valid aggregate", func(t *testing.T) {
		// given a fixture repo scanned by one secret and one dependency scanner
		repo := &fakeRepo{}
		svc := newService(t, fixtureRunner(map[string]string{
			"gitleaks": fixtureGitleaks,
			"trivy":    fixtureTrivy,
		}), repo, Options{})
		// when
		sum, err := svc.Run(context.Background(), scanCommand())
		// then
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, sum.Status)
		assert.Equal(t, 3, sum.Counts.Total)
		assert.Equal(t, 2, sum.Counts.Critical)
		assert.Equal(t, 1, sum.Counts.High)

		// the scan persisted as one atomic snapshot
		require.Equal(t, 1, repo.saveCalls)
		snap := repo.saved[0]
		assert.Equal(t, "default", snap.Record.Profile)
		assert.Equal(t, "main", snap.Record.Branch)
		assert.Equal(t, 3, snap.Record.TotalFindings)
		assert.Len(t, snap.Findings, 3)
		assert.Len(t, snap.ToolResults, 2)

		// every finding validates against the canonical schema
		seen := map[string]bool{}
		for _, f := range snap.Findings {
			assert.Len(t, f.ID, 64)
			assert.Equal(t, findings.SchemaVersion, f.SchemaVersion)
			assert.True(t, f.Severity.IsValid())
			assert.NotEmpty(t, f.Tool.Name)
			assert.NotEmpty(t, f.Message)
			assert.NotEmpty(t, f.Location.Path)
			assert.False(t, seen[f.ID], "fingerprints must be unique per tuple")
			seen[f.ID] = true
		}

		// the hand-off file is a plain array of canonical findings
		data, err := os.ReadFile(sum.FindingsPath)
		require.NoError(t, err)
		var arr []findings.Finding
		require.NoError(t, json.Unmarshal(data, &arr))
		assert.Len(t, arr, 3)
	})

	t.Run("missing scanner degrades gracefully under allow-missing", func(t *testing.T) {
		// given gitleaks absent from the host
		repo := &fakeRepo{}
		svc := newService(t, fixtureRunner(map[string]string{
			"trivy": fixtureTrivy,
		}), repo, Options{AllowMissing: true})
		// when
		sum, err := svc.Run(context.Background(), scanCommand())
		// then: the stub keeps the pipeline well-formed and the run passes
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, sum.Status)
		assert.Equal(t, tools.StatusMissing, sum.ToolResults[0].Status)
		assert.Equal(t, 1, sum.Counts.Total)
		require.Len(t, repo.saved, 1)
		for _, f := range repo.saved[0].Findings {
			assert.Equal(t, "trivy", f.Tool.Name)
		}
	})

	t.Run("missing scanner fails the run when not allowed", func(t *testing.T) {
		repo := &fakeRepo{}
		svc := newService(t, fixtureRunner(map[string]string{
			"trivy": fixtureTrivy,
		}), repo, Options{AllowMissing: false})

		sum, err := svc.Run(context.Background(), scanCommand())

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, sum.Status)
		// degraded results are still persisted
		assert.Equal(t, 1, repo.saveCalls)
	})

	t.Run("store failure surfaces as an error", func(t *testing.T) {
		repo := &fakeRepo{saveErr: assert.AnError}
		svc := newService(t, fixtureRunner(map[string]string{
			"gitleaks": fixtureGitleaks,
			"trivy":    fixtureTrivy,
		}), repo, Options{})

		_, err := svc.Run(context.Background(), scanCommand())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "persist scan")
	})

	t.Run("tool without a normalizer is skipped with results kept", func(t *testing.T) {
		repo := &fakeRepo{}
		svc := newService(t, fixtureRunner(map[string]string{"mystery": "whatever"}), repo, Options{})

		cmd := Command{
			Profile: "default",
			Branch:  "main",
			Tools:   []tools.Definition{{Name: "mystery", Command: []string{"mystery"}}},
		}
		sum, err := svc.Run(context.Background(), cmd)

		require.NoError(t, err)
		assert.Equal(t, 0, sum.Counts.Total)
		assert.Len(t, sum.ToolResults, 1)
	})
}

func TestExpand(t *testing.T) {
	t.Run("placeholders resolve and output lands in the run dir", func(t *testing.T) {
		def := tools.Definition{
			Name:      "gitleaks",
			Command:   []string{"gitleaks", "detect", "--source", "{target}", "--report-path", "{output}"},
			ExtraArgs: []string{"--log-level", "error"},
		}
		got := expand(def, "/runs/abc", "/src/repo")

		want := filepath.Join("/runs/abc", "gitleaks.json")
		assert.Equal(t, want, got.OutputPath)
		assert.Equal(t, []string{"gitleaks", "detect", "--source", "/src/repo", "--report-path", want}, got.Command)
		// the caller's template stays untouched
		assert.Contains(t, def.Command, "{output}")
	})

	t.Run("explicit relative output is pinned under the run dir", func(t *testing.T) {
		def := tools.Definition{Name: "trivy", OutputPath: "trivy-report.json", Command: []string{"trivy"}}
		got := expand(def, "/runs/abc", ".")
		assert.Equal(t, filepath.Join("/runs/abc", "trivy-report.json"), got.OutputPath)
	})

	t.Run("absolute output path wins", func(t *testing.T) {
		def := tools.Definition{Name: "trivy", OutputPath: "/tmp/custom.json", Command: []string{"trivy"}}
		got := expand(def, "/runs/abc", ".")
		assert.Equal(t, "/tmp/custom.json", got.OutputPath)
	})
}
