package local

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/scanmux/scanmux/internal/domain/tools"
)

// Runner launches scanner processes on the host. One call is one
// attempt; retry policy lives with the orchestrator.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

// Run executes a tool once and classifies the outcome: zero exit is
// success, nonzero is failure, a hit deadline is timeout, and a binary
// not on PATH is missing. The scanner writes its own report file; the
// captured output only feeds the error message.
func (r *Runner) Run(ctx context.Context, def tools.Definition) tools.Attempt {
	argv := def.Argv()
	if len(argv) == 0 {
		return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("tool %s: empty command", def.Name)}
	}

	if _, err := exec.LookPath(argv[0]); err != nil {
		return tools.Attempt{Status: tools.StatusMissing, ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return tools.Attempt{Status: tools.StatusSuccess}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tools.Attempt{Status: tools.StatusTimeout, ExitCode: -1, Err: ctx.Err()}
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return tools.Attempt{
			Status:   tools.StatusFailure,
			ExitCode: ee.ExitCode(),
			Err:      fmt.Errorf("tool %s exited %d: %s", def.Name, ee.ExitCode(), out),
		}
	}
	return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("run error: %v, output=%s", err, out)}
}
