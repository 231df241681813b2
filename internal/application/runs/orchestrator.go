package runs

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scanmux/scanmux/internal/domain/tools"
)

// Options is the run-level execution policy. Per-tool overrides on a
// Definition win over these.
type Options struct {
	Workers      int           // 0 sizes the pool from the host CPU count
	Timeout      time.Duration // per-attempt deadline for tools without their own
	Retries      int           // extra attempts after the first
	RetryDelay   time.Duration // base delay before a retry, doubled each time; 0 retries immediately
	AllowMissing bool          // absent scanners get a stub file instead of failing the run
}

// StubSource supplies the minimal valid empty output for a tool. It is
// written at the tool's expected output path when the binary is absent
// so downstream stages always find a well-formed file.
type StubSource interface {
	EmptyFor(tool string) ([]byte, bool)
}

// Orchestrator fans tool executions out over a bounded worker pool and
// applies timeout and retry policy per tool.
// Safe for concurrent use.
type Orchestrator struct {
	runner tools.Runner
	stubs  StubSource
	log    zerolog.Logger
	opts   Options
}

func NewOrchestrator(runner tools.Runner, stubs StubSource, log zerolog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		runner: runner,
		stubs:  stubs,
		log:    log.With().Str("component", "orchestrator").Logger(),
		opts:   opts,
	}
}

// Execute runs every definition to a terminal state and returns one
// result per definition, in input order. Tools run concurrently up to
// the worker limit; one tool failing or timing out never interrupts its
// siblings, and results are aggregated only after the last tool is done.
func (o *Orchestrator) Execute(ctx context.Context, defs []tools.Definition) []tools.Result {
	workers := tools.AutoWorkers(o.opts.Workers)
	o.log.Info().Int("tools", len(defs)).Int("workers", workers).Msg("starting tool execution")

	sem := make(chan struct{}, workers)
	results := make([]tools.Result, len(defs))
	var wg sync.WaitGroup
	for i := range defs {
		wg.Add(1)
		go func(i int, def tools.Definition) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runTool(ctx, def)
		}(i, defs[i])
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runTool(ctx context.Context, def tools.Definition) tools.Result {
	start := time.Now()

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = o.opts.Timeout
	}
	retries := def.Retries
	if retries <= 0 {
		retries = o.opts.Retries
	}

	var att tools.Attempt
	attempts := 0
	delay := o.opts.RetryDelay
	for {
		attempts++
		att = o.attempt(ctx, def, timeout)
		// missing is terminal immediately: retrying an absent binary
		// cannot change the outcome
		if att.Status == tools.StatusSuccess || att.Status == tools.StatusMissing {
			break
		}
		if attempts > retries {
			break
		}
		o.log.Warn().
			Str("tool", def.Name).
			Str("status", string(att.Status)).
			Int("attempt", attempts).
			Err(att.Err).
			Msg("tool attempt failed, retrying")
		if !o.backoff(ctx, &delay) {
			break
		}
	}

	if att.Status == tools.StatusMissing {
		if o.opts.AllowMissing {
			o.writeStub(def)
		} else {
			o.log.Error().Str("tool", def.Name).Msg("scanner binary not found")
		}
	}

	res := tools.Result{
		Tool:     def.Name,
		Status:   att.Status,
		ExitCode: att.ExitCode,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	o.log.Info().
		Str("tool", def.Name).
		Str("status", string(res.Status)).
		Int("attempts", res.Attempts).
		Dur("duration", res.Duration).
		Msg("tool finished")
	return res
}

// attempt runs the tool once under a fresh deadline. Timeouts never
// accumulate across attempts.
func (o *Orchestrator) attempt(ctx context.Context, def tools.Definition, timeout time.Duration) tools.Attempt {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.runner.Run(ctx, def)
}

// backoff sleeps the jittered delay before the next attempt, doubling it
// for the one after. A false return means the run context is gone.
func (o *Orchestrator) backoff(ctx context.Context, delay *time.Duration) bool {
	if *delay <= 0 {
		return ctx.Err() == nil
	}
	d := *delay
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
	}
	*delay *= 2
	return true
}

func (o *Orchestrator) writeStub(def tools.Definition) {
	stub, ok := o.stubs.EmptyFor(def.Name)
	if !ok || def.OutputPath == "" {
		o.log.Warn().Str("tool", def.Name).Msg("no stub available for missing tool")
		return
	}
	if err := os.MkdirAll(filepath.Dir(def.OutputPath), 0o755); err != nil {
		o.log.Warn().Err(err).Str("tool", def.Name).Msg("cannot create output dir for stub")
		return
	}
	if err := os.WriteFile(def.OutputPath, stub, 0o644); err != nil {
		o.log.Warn().Err(err).Str("tool", def.Name).Msg("cannot write stub output")
		return
	}
	o.log.Info().Str("tool", def.Name).Str("path", def.OutputPath).Msg("missing tool, wrote empty stub output")
}

// AllowMissing reports whether this orchestrator tolerates absent
// scanner binaries.
func (o *Orchestrator) AllowMissing() bool { return o.opts.AllowMissing }

// Failed reports whether the run as a whole failed: any missing tool
// while missing tools are not allowed, or any required tool ending
// non-success after its retries. Optional tool failures degrade the run,
// they do not fail it.
func Failed(defs []tools.Definition, results []tools.Result, allowMissing bool) bool {
	for i, res := range results {
		if res.Status == tools.StatusMissing && !allowMissing {
			return true
		}
		if defs[i].Required && !res.OK(allowMissing) {
			return true
		}
	}
	return false
}
