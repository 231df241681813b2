package runs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmux/scanmux/internal/adapters"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// fakeRunner scripts per-tool attempt outcomes and counts calls.
type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(def tools.Definition, call int) tools.Attempt
}

func newFakeRunner(fn func(def tools.Definition, call int) tools.Attempt) *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), fn: fn}
}

func (f *fakeRunner) Run(_ context.Context, def tools.Definition) tools.Attempt {
	f.mu.Lock()
	f.calls[def.Name]++
	n := f.calls[def.Name]
	f.mu.Unlock()
	if f.fn == nil {
		return tools.Attempt{Status: tools.StatusSuccess}
	}
	return f.fn(def, n)
}

func succeed() tools.Attempt { return tools.Attempt{Status: tools.StatusSuccess} }
func fail(code int) tools.Attempt {
	return tools.Attempt{Status: tools.StatusFailure, ExitCode: code}
}

func newOrch(r tools.Runner, opts Options) *Orchestrator {
	return NewOrchestrator(r, adapters.DefaultRegistry(), zerolog.Nop(), opts)
}

func TestOrchestratorRetries(t *testing.T) {
	t.Run("fail once then succeed reports two attempts", func(t *testing.T) {
		// given a tool that fails on its first attempt only
		r := newFakeRunner(func(_ tools.Definition, call int) tools.Attempt {
			if call == 1 {
				return fail(2)
			}
			return succeed()
		})
		o := newOrch(r, Options{Retries: 2})
		// when
		res := o.Execute(context.Background(), []tools.Definition{{Name: "semgrep", Command: []string{"semgrep"}}})
		// then
		require.Len(t, res, 1)
		assert.Equal(t, tools.StatusSuccess, res[0].Status)
		assert.Equal(t, 2, res[0].Attempts)
	})

	t.Run("exhausted retries report the last attempt", func(t *testing.T) {
		r := newFakeRunner(func(_ tools.Definition, _ int) tools.Attempt { return fail(1) })
		o := newOrch(r, Options{Retries: 2})

		res := o.Execute(context.Background(), []tools.Definition{{Name: "semgrep", Command: []string{"semgrep"}}})

		require.Len(t, res, 1)
		assert.Equal(t, tools.StatusFailure, res[0].Status)
		assert.Equal(t, 1, res[0].ExitCode)
		assert.Equal(t, 3, res[0].Attempts, "retries plus the first attempt")
	})

	t.Run("per-tool retry budget overrides the global one", func(t *testing.T) {
		r := newFakeRunner(func(_ tools.Definition, _ int) tools.Attempt { return fail(1) })
		o := newOrch(r, Options{Retries: 5})

		res := o.Execute(context.Background(), []tools.Definition{
			{Name: "semgrep", Command: []string{"semgrep"}, Retries: 1},
		})

		assert.Equal(t, 2, res[0].Attempts)
	})

	t.Run("timeouts are retried like failures", func(t *testing.T) {
		r := newFakeRunner(func(_ tools.Definition, call int) tools.Attempt {
			if call < 3 {
				return tools.Attempt{Status: tools.StatusTimeout, ExitCode: -1}
			}
			return succeed()
		})
		o := newOrch(r, Options{Retries: 2})

		res := o.Execute(context.Background(), []tools.Definition{{Name: "nuclei", Command: []string{"nuclei"}}})

		assert.Equal(t, tools.StatusSuccess, res[0].Status)
		assert.Equal(t, 3, res[0].Attempts)
	})
}

func TestOrchestratorMissingTools(t *testing.T) {
	missing := func(_ tools.Definition, _ int) tools.Attempt {
		return tools.Attempt{Status: tools.StatusMissing, ExitCode: -1}
	}

	t.Run("missing is terminal without retry", func(t *testing.T) {
		r := newFakeRunner(missing)
		o := newOrch(r, Options{Retries: 5, AllowMissing: true})

		res := o.Execute(context.Background(), []tools.Definition{
			{Name: "gitleaks", Command: []string{"gitleaks"}, OutputPath: filepath.Join(t.TempDir(), "gitleaks.json")},
		})

		assert.Equal(t, tools.StatusMissing, res[0].Status)
		assert.Equal(t, 1, res[0].Attempts)
		assert.Equal(t, 1, r.calls["gitleaks"])
	})

	t.Run("allow-missing writes the tool's empty stub", func(t *testing.T) {
		// given
		out := filepath.Join(t.TempDir(), "out", "gitleaks.json")
		r := newFakeRunner(missing)
		o := newOrch(r, Options{AllowMissing: true})
		// when
		o.Execute(context.Background(), []tools.Definition{
			{Name: "gitleaks", Command: []string{"gitleaks"}, OutputPath: out},
		})
		// then: downstream stages find a well-formed file
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(data))
	})

	t.Run("without allow-missing no stub is written", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "gitleaks.json")
		r := newFakeRunner(missing)
		o := newOrch(r, Options{AllowMissing: false})

		res := o.Execute(context.Background(), []tools.Definition{
			{Name: "gitleaks", Command: []string{"gitleaks"}, OutputPath: out},
		})

		assert.Equal(t, tools.StatusMissing, res[0].Status)
		_, err := os.Stat(out)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestOrchestratorSiblingIsolation(t *testing.T) {
	// given three tools where the middle one always fails
	r := newFakeRunner(func(def tools.Definition, _ int) tools.Attempt {
		if def.Name == "trivy" {
			return fail(7)
		}
		return succeed()
	})
	o := newOrch(r, Options{Retries: 1})
	// when
	res := o.Execute(context.Background(), []tools.Definition{
		{Name: "gitleaks", Command: []string{"gitleaks"}},
		{Name: "trivy", Command: []string{"trivy"}},
		{Name: "semgrep", Command: []string{"semgrep"}},
	})
	// then: the failure never interrupts the others, order is input order
	require.Len(t, res, 3)
	assert.Equal(t, "gitleaks", res[0].Tool)
	assert.Equal(t, tools.StatusSuccess, res[0].Status)
	assert.Equal(t, "trivy", res[1].Tool)
	assert.Equal(t, tools.StatusFailure, res[1].Status)
	assert.Equal(t, 2, res[1].Attempts)
	assert.Equal(t, "semgrep", res[2].Tool)
	assert.Equal(t, tools.StatusSuccess, res[2].Status)
}

func TestOrchestratorConcurrencyBound(t *testing.T) {
	var cur, peak int32
	r := newFakeRunner(func(_ tools.Definition, _ int) tools.Attempt {
		c := atomic.AddInt32(&cur, 1)
		defer atomic.AddInt32(&cur, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return succeed()
	})
	o := newOrch(r, Options{Workers: 2})

	defs := make([]tools.Definition, 6)
	for i := range defs {
		defs[i] = tools.Definition{Name: string(rune('a' + i)), Command: []string{"x"}}
	}
	res := o.Execute(context.Background(), defs)

	assert.Len(t, res, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFailed(t *testing.T) {
	defs := []tools.Definition{
		{Name: "required", Required: true},
		{Name: "optional"},
	}

	t.Run("required tool failure fails the run", func(t *testing.T) {
		res := []tools.Result{
			{Tool: "required", Status: tools.StatusFailure},
			{Tool: "optional", Status: tools.StatusSuccess},
		}
		assert.True(t, Failed(defs, res, true))
	})

	t.Run("optional tool failure does not", func(t *testing.T) {
		res := []tools.Result{
			{Tool: "required", Status: tools.StatusSuccess},
			{Tool: "optional", Status: tools.StatusTimeout},
		}
		assert.False(t, Failed(defs, res, true))
	})

	t.Run("missing is fatal only without allow-missing", func(t *testing.T) {
		res := []tools.Result{
			{Tool: "required", Status: tools.StatusMissing},
			{Tool: "optional", Status: tools.StatusSuccess},
		}
		assert.True(t, Failed(defs, res, false))
		assert.False(t, Failed(defs, res, true))
	})

	t.Run("even an optional missing tool is fatal without allow-missing", func(t *testing.T) {
		res := []tools.Result{
			{Tool: "required", Status: tools.StatusSuccess},
			{Tool: "optional", Status: tools.StatusMissing},
		}
		assert.True(t, Failed(defs, res, false))
	})

	t.Run("all green passes", func(t *testing.T) {
		res := []tools.Result{
			{Tool: "required", Status: tools.StatusSuccess},
			{Tool: "optional", Status: tools.StatusSuccess},
		}
		assert.False(t, Failed(defs, res, false))
	})
}
