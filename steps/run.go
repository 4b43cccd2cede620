package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/workflow"
)

// RunStep executes a shell command inside the job workspace. This is the
// command surface of the pipeline: exit 0 is the only success outcome, any
// non-zero exit marks the job failed.
type RunStep struct {
	command any // string or $expr:
	shell   string
}

func (s *RunStep) Execute(ctx context.Context, sc *models.StepContext) error {
	command, err := workflow.ResolveString(s.command, exprContext(sc))
	if err != nil {
		return fmt.Errorf("failed to resolve command: %w", err)
	}
	if command == "" {
		return models.ErrMissingConfig("command")
	}

	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Dir = sc.Workspace

	// Jobs run with a controlled environment, not the server's
	env := append([]string{}, baseEnv()...)
	for k, v := range sc.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if sc.LogWriter != nil {
		cmd.Stdout = sc.LogWriter
		cmd.Stderr = sc.LogWriter
	}

	sc.Log.WithField("command", command).Debug("running shell step")

	err = cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("command %q cancelled: %w", command, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &models.ExitError{Command: command, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("failed to start command %q: %w", command, err)
}

// baseEnv keeps just enough of the host environment for tools to work
func baseEnv() []string {
	base := []string{}
	for _, key := range []string{"PATH", "HOME", "LANG", "TMPDIR"} {
		if v := os.Getenv(key); v != "" {
			base = append(base, key+"="+v)
		}
	}
	return base
}

func init() {
	Register("run", func(with map[string]any) (Step, error) {
		command, ok := with["command"]
		if !ok {
			return nil, models.ErrMissingConfig("command")
		}

		shell, _ := with["shell"].(string)
		if shell == "" {
			shell = "sh"
		}

		return &RunStep{command: command, shell: shell}, nil
	})
}
