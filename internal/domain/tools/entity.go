package tools

import "time"

// Status enum for one tool execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusMissing Status = "missing"
)

// Definition describes one scanner invocation for one run: the argv to
// launch, where the tool writes its report, and per-tool overrides of
// the run-level timeout/retry policy. Immutable once built.
type Definition struct {
	Name       string        `json:"name"`
	Command    []string      `json:"command"`
	OutputPath string        `json:"output_path"`
	Version    string        `json:"version,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Retries    int           `json:"retries,omitempty"`
	ExtraArgs  []string      `json:"extra_args,omitempty"`
	Required   bool          `json:"required"`
}

// Argv returns the command vector with the tool's extra flags merged in.
// Extra flags belong to this tool only, never to the whole run.
func (d Definition) Argv() []string {
	if len(d.ExtraArgs) == 0 {
		return d.Command
	}
	argv := make([]string, 0, len(d.Command)+len(d.ExtraArgs))
	argv = append(argv, d.Command...)
	argv = append(argv, d.ExtraArgs...)
	return argv
}

// Result is the terminal outcome of executing one Definition, reported
// once every retry is spent (or skipped, for a missing binary).
type Result struct {
	Tool     string        `json:"tool"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the tool ended in a state that should not fail the
// run: success always, missing only when missing tools are allowed.
func (r Result) OK(allowMissing bool) bool {
	if r.Status == StatusSuccess {
		return true
	}
	return r.Status == StatusMissing && allowMissing
}

// Attempt is the outcome of a single launch of a tool, before retry
// policy is applied.
type Attempt struct {
	Status   Status
	ExitCode int
	Err      error
}
