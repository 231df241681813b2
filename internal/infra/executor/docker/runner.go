package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/scanmux/scanmux/internal/domain/tools"
)

// defaultImages maps the bundled scanners to their official images. The
// images carry the tool as entrypoint, so a definition's leading binary
// name is dropped and only its arguments are passed.
var defaultImages = map[string]string{
	"gitleaks": "zricethezav/gitleaks:latest",
	"trivy":    "aquasec/trivy:latest",
	"semgrep":  "returntocorp/semgrep:latest",
	"nuclei":   "projectdiscovery/nuclei:latest",
}

// Runner launches scanners inside containers instead of host processes.
// The report directory is bind-mounted at /out and the working directory
// at /src, and host paths in the argv are rewritten to those mounts, so
// the orchestrator sees the same contract as the host runner: the tool
// writes its report to the definition's output path.
type Runner struct {
	// Images overrides the container image per tool name.
	Images map[string]string
}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) imageFor(tool string) string {
	if img, ok := r.Images[tool]; ok {
		return img
	}
	return defaultImages[tool]
}

// Run executes one tool in a throwaway container. Outcome classification
// matches the host runner: zero exit is success, nonzero is failure, a
// hit deadline is timeout. A missing docker binary reports the tool as
// missing so allow-missing policy can stub it out.
func (r *Runner) Run(ctx context.Context, def tools.Definition) tools.Attempt {
	argv := def.Argv()
	if len(argv) == 0 {
		return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("tool %s: empty command", def.Name)}
	}

	if _, err := exec.LookPath("docker"); err != nil {
		return tools.Attempt{Status: tools.StatusMissing, ExitCode: -1, Err: err}
	}

	image := r.imageFor(def.Name)
	if image == "" {
		return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("tool %s: no container image registered", def.Name)}
	}

	outDir, err := filepath.Abs(filepath.Dir(def.OutputPath))
	if err != nil {
		return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("tool %s: resolve output dir: %w", def.Name, err)}
	}
	workDir, err := os.Getwd()
	if err != nil {
		return tools.Attempt{Status: tools.StatusFailure, ExitCode: -1, Err: fmt.Errorf("tool %s: resolve working dir: %w", def.Name, err)}
	}

	args := []string{"run", "--rm",
		"-v", outDir + ":/out",
		"-v", workDir + ":/src",
		"-w", "/src",
		image,
	}
	// Host paths in the argv become container paths. Targets outside the
	// working directory need the host runner or an image of their own.
	repl := strings.NewReplacer(
		def.OutputPath, "/out/"+filepath.Base(def.OutputPath),
		workDir, "/src",
	)
	for _, a := range argv[1:] {
		args = append(args, repl.Replace(a))
	}

	cmd := exec.CommandContext(ctx, "docker", args...)
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
