package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmux/scanmux/internal/adapters"
	"github.com/scanmux/scanmux/internal/application/review"
	"github.com/scanmux/scanmux/internal/application/runs"
	"github.com/scanmux/scanmux/internal/domain/findings"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
	"github.com/scanmux/scanmux/internal/domain/triage"
	"github.com/scanmux/scanmux/internal/middleware"
)

type memRepo struct {
	mu           sync.Mutex
	records      map[history.ScanID]*history.ScanRecord
	order        []history.ScanID
	fingerprints map[history.ScanID][]string
	findings     map[string]*findings.Annotated
	trendPoints  []history.TrendPoint
	lastFilter   history.Filter
	saved        int
}

func newMemRepo() *memRepo {
	return &memRepo{
		records:      make(map[history.ScanID]*history.ScanRecord),
		fingerprints: make(map[history.ScanID][]string),
		findings:     make(map[string]*findings.Annotated),
	}
}

func (m *memRepo) addScan(rec history.ScanRecord, fps ...string) {
	m.records[rec.ID] = &rec
	m.order = append(m.order, rec.ID)
	m.fingerprints[rec.ID] = fps
}

func (m *memRepo) addFinding(id history.ScanID, a *findings.Annotated) {
	m.findings[string(id)+"/"+a.ID] = a
}

func (m *memRepo) SaveScan(_ context.Context, snap history.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved++
	m.records[snap.Record.ID] = &snap.Record
	return nil
}

func (m *memRepo) GetScan(_ context.Context, id history.ScanID) (*history.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, history.ErrScanNotFound
	}
	return rec, nil
}

func (m *memRepo) ListScans(_ context.Context, _, _ string, _ int) ([]*history.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*history.ScanRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out, nil
}

func (m *memRepo) Fingerprints(_ context.Context, id history.ScanID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fps, ok := m.fingerprints[id]
	if !ok {
		return nil, history.ErrScanNotFound
	}
	return fps, nil
}

func (m *memRepo) FindingsByScan(_ context.Context, id history.ScanID, f history.Filter) ([]*findings.Annotated, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return nil, 0, history.ErrScanNotFound
	}
	m.lastFilter = f
	var out []*findings.Annotated
	for key, a := range m.findings {
		if strings.HasPrefix(key, string(id)+"/") {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) GetFinding(_ context.Context, id history.ScanID, fp string) (*findings.Annotated, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findings[string(id)+"/"+fp]
	if !ok {
		return nil, history.ErrFindingNotFound
	}
	return a, nil
}

func (m *memRepo) SaveResolution(_ context.Context, id history.ScanID, fp string, res findings.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.findings[string(id)+"/"+fp]
	if !ok {
		return history.ErrFindingNotFound
	}
	a.Resolution = &res
	return nil
}

func (m *memRepo) TrendPoints(_ context.Context, _, _ string, _ time.Time) ([]history.TrendPoint, error) {
	return m.trendPoints, nil
}

type okRunner struct{}

func (okRunner) Run(context.Context, tools.Definition) tools.Attempt {
	return tools.Attempt{Status: tools.StatusSuccess}
}

type stubAdvisor struct {
	result string
	err    error
}

func (a *stubAdvisor) Advise(context.Context, *findings.Annotated) (string, error) {
	return a.result, a.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testFinding(fp string) *findings.Annotated {
	return &findings.Annotated{
		Finding: findings.Finding{
			ID:            fp,
			SchemaVersion: findings.SchemaVersion,
			Tool:          findings.ToolRef{Name: "gitleaks"},
			RuleID:        "aws-access-key",
			Severity:      findings.SeverityCritical,
			Message:       "AWS access key detected",
			Location:      findings.Location{Path: "config/prod.env", StartLine: 3, EndLine: 3},
		},
	}
}

func newTestServer(t *testing.T, repo *memRepo, advisor triage.Client, opts Options) http.Handler {
	t.Helper()

	clock := fixedClock{t: time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC)}
	registry := adapters.DefaultRegistry()

	runsSvc := &runs.Service{
		Orchestrator: runs.NewOrchestrator(okRunner{}, registry, zerolog.Nop(), runs.Options{}),
		Registry:     registry,
		Repo:         repo,
		Clock:        clock,
		Log:          zerolog.Nop(),
		OutputDir:    t.TempDir(),
	}
	reviewSvc := &review.Service{
		Repo:    repo,
		Advisor: advisor,
		Model:   "test-model",
		Clock:   clock,
	}

	if opts.Profiles == nil {
		opts.Profiles = map[string][]tools.Definition{
			"default": {
				{Name: "gitleaks", Command: []string{"gitleaks", "detect", "--source", "{target}", "--report-path", "{output}"}},
			},
		}
	}
	opts.Log = zerolog.Nop()
	return NewRouter(runsSvc, reviewSvc, opts)
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	parsed := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	}
	return rec, parsed
}

func TestTriggerScan(t *testing.T) {
	t.Run("queues a run and returns the scan id", func(t *testing.T) {
		// given
		repo := newMemRepo()
		h := newTestServer(t, repo, nil, Options{})

		// when
		rec, body := doJSON(t, h, http.MethodPost, "/v1/scans", `{"profile":"default","branch":"main","target":"."}`)

		// then
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "queued", body["status"])
		assert.NotEmpty(t, body["scan_id"])
		assert.Equal(t, "default", body["profile"])

		// The run keeps writing into OutputDir (a t.TempDir) after the
		// response; let it finish before TempDir cleanup removes the dir
		// underneath it. SaveScan precedes the gauge increments, and the
		// decrement is deferred past the final findings.json write, so
		// saved>=1 followed by scans_running==0 means all writes are done.
		require.Eventually(t, func() bool {
			repo.mu.Lock()
			defer repo.mu.Unlock()
			return repo.saved >= 1
		}, 5*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			return middleware.Snapshot()["scans_running"] == uint64(0)
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown profile is rejected", func(t *testing.T) {
		repo := newMemRepo()
		h := newTestServer(t, repo, nil, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans", `{"profile":"nightly"}`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown profile")
	})

	t.Run("shell metacharacters in target are rejected", func(t *testing.T) {
		repo := newMemRepo()
		h := newTestServer(t, repo, nil, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans", `{"profile":"default","target":"repo; rm -rf /"}`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		repo := newMemRepo()
		h := newTestServer(t, repo, nil, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans", `{"profile":`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestScanQueries(t *testing.T) {
	repo := newMemRepo()
	repo.addScan(history.ScanRecord{
		ID:            "scan-1",
		Timestamp:     time.Date(2025, 7, 19, 10, 0, 0, 0, time.UTC),
		Profile:       "default",
		Branch:        "main",
		TotalFindings: 2,
	}, "aaa", "bbb")
	repo.addScan(history.ScanRecord{
		ID:            "scan-2",
		Timestamp:     time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC),
		Profile:       "default",
		Branch:        "main",
		TotalFindings: 2,
	}, "bbb", "ccc")
	h := newTestServer(t, repo, nil, Options{})

	t.Run("list scans", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/scans?profile=default", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var list []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 2)
		assert.Equal(t, "scan-1", list[0]["id"])
	})

	t.Run("get scan", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/v1/scans/scan-1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "scan-1", body["id"])
		assert.Equal(t, float64(2), body["total_findings"])
	})

	t.Run("unknown scan is 404", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/scans/ghost", "")

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("diff between two scans", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/v1/diff?base=scan-1&head=scan-2", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{"ccc"}, body["new"])
		assert.Equal(t, []any{"aaa"}, body["resolved"])
		assert.Equal(t, []any{"bbb"}, body["persisting"])
	})

	t.Run("diff with missing params is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/diff?base=scan-1", "")

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("diff against unknown scan is 404", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/diff?base=ghost&head=scan-2", "")

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFindingQueries(t *testing.T) {
	repo := newMemRepo()
	repo.addScan(history.ScanRecord{ID: "scan-1", Profile: "default", Branch: "main"}, "fp-1")
	repo.addFinding("scan-1", testFinding("fp-1"))
	h := newTestServer(t, repo, nil, Options{})

	t.Run("findings page", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/v1/scans/scan-1/findings?severity=critical&tool=gitleaks&rule_id=aws-access-key", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), body["total"])
		assert.Equal(t, float64(1), body["count"])
		// lowercase severity query is canonicalized before filtering
		assert.Equal(t, findings.SeverityCritical, repo.lastFilter.Severity)
		assert.Equal(t, "gitleaks", repo.lastFilter.Tool)
		assert.Equal(t, "aws-access-key", repo.lastFilter.RuleID)
	})

	t.Run("bogus severity filter is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/scans/scan-1/findings?severity=urgent", "")

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("single finding", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/v1/scans/scan-1/findings/fp-1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "fp-1", body["id"])
		assert.Equal(t, "CRITICAL", body["severity"])
	})

	t.Run("unknown fingerprint is 404", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/v1/scans/scan-1/findings/nope", "")

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("resolution is stored", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/resolution",
			`{"status":"false_positive","comment":"test credential"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "false_positive", body["status"])
		require.NotNil(t, repo.findings["scan-1/fp-1"].Resolution)
		assert.Equal(t, "test credential", repo.findings["scan-1/fp-1"].Resolution.Comment)
	})

	t.Run("invalid resolution status is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/resolution",
			`{"status":"resolved"}`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestTriageEndpoint(t *testing.T) {
	newRepo := func() *memRepo {
		repo := newMemRepo()
		repo.addScan(history.ScanRecord{ID: "scan-1"}, "fp-1")
		repo.addFinding("scan-1", testFinding("fp-1"))
		return repo
	}

	t.Run("advice is generated", func(t *testing.T) {
		repo := newRepo()
		h := newTestServer(t, repo, &stubAdvisor{result: `{"summary":"rotate the key"}`}, Options{})

		rec, body := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/triage", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"summary":"rotate the key"}`, body["result"])
		assert.Equal(t, "test-model", body["model"])
	})

	t.Run("no provider configured is 503", func(t *testing.T) {
		repo := newRepo()
		h := newTestServer(t, repo, nil, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/triage", "")

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("provider quota maps to 429", func(t *testing.T) {
		repo := newRepo()
		h := newTestServer(t, repo, &stubAdvisor{err: triage.ErrQuotaExceeded}, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/triage", "")

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("provider failure maps to 502", func(t *testing.T) {
		repo := newRepo()
		h := newTestServer(t, repo, &stubAdvisor{err: fmt.Errorf("%w: upstream 500", triage.ErrProviderFailure)}, Options{})

		rec, _ := doJSON(t, h, http.MethodPost, "/v1/scans/scan-1/findings/fp-1/triage", "")

		require.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestTrendsEndpoint(t *testing.T) {
	repo := newMemRepo()
	repo.trendPoints = []history.TrendPoint{
		{Scan: history.ScanRecord{ID: "a", TotalFindings: 9}, Counts: history.SeverityCounts{Total: 9}},
		{Scan: history.ScanRecord{ID: "b", TotalFindings: 4}, Counts: history.SeverityCounts{Total: 4}},
	}
	h := newTestServer(t, repo, nil, Options{})

	rec, body := doJSON(t, h, http.MethodGet, "/v1/trends?profile=default&branch=main&days=7", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(history.TrendImproving), body["direction"])
	assert.Equal(t, float64(-5), body["delta"])
}

func TestRouterMiddleware(t *testing.T) {
	t.Run("auth guards the API but not probes", func(t *testing.T) {
		repo := newMemRepo()
		h := newTestServer(t, repo, nil, Options{AuthToken: "sekret"})

		rec, _ := doJSON(t, h, http.MethodGet, "/v1/scans", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
		req.Header.Set("Authorization", "Bearer sekret")
		rec2 := httptest.NewRecorder()
		h.ServeHTTP(rec2, req)
		require.Equal(t, http.StatusOK, rec2.Code)

		rec3, _ := doJSON(t, h, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec3.Code)
	})

	t.Run("rate limit kicks in after capacity", func(t *testing.T) {
		repo := newMemRepo()
		limiter := middleware.NewRateLimiter(2, 1)
		h := newTestServer(t, repo, nil, Options{RateLimiter: limiter})

		first, _ := doJSON(t, h, http.MethodGet, "/v1/scans", "")
		second, _ := doJSON(t, h, http.MethodGet, "/v1/scans", "")
		third, _ := doJSON(t, h, http.MethodGet, "/v1/scans", "")

		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, http.StatusTooManyRequests, third.Code)

		// reset opens the bucket again
		limiter.Reset()
		fourth, _ := doJSON(t, h, http.MethodGet, "/v1/scans", "")
		assert.Equal(t, http.StatusOK, fourth.Code)
	})
}
