package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/workflow"
)

// CheckoutStep fetches the repository working tree into the job workspace.
// Every job checks out independently; nothing is carried over between jobs.
// Two modes:
//   - repository URL (default: the event's clone URL): shallow git clone,
//     then checkout of the event head SHA when present
//   - path: copy a local tree into the workspace (used by local runs and tests)
//
// The step never writes back to its source.
type CheckoutStep struct {
	repository any
	ref        any
	path       any
	depth      int
}

func (s *CheckoutStep) Execute(ctx context.Context, sc *models.StepContext) error {
	ec := exprContext(sc)

	localPath, err := workflow.ResolveString(s.path, ec)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if localPath == "" {
		// Local runs can substitute a working tree for the clone
		localPath = sc.Env["MERGEGATE_SOURCE"]
	}
	if localPath != "" {
		sc.Log.WithField("path", localPath).Debug("copying local tree into workspace")
		return copyTree(localPath, sc.Workspace)
	}

	repo, err := workflow.ResolveString(s.repository, ec)
	if err != nil {
		return fmt.Errorf("failed to resolve repository: %w", err)
	}
	if repo == "" && sc.Event != nil {
		repo = sc.Event.CloneURL
	}
	if repo == "" {
		return models.ErrMissingConfig("repository")
	}

	ref, err := workflow.ResolveString(s.ref, ec)
	if err != nil {
		return fmt.Errorf("failed to resolve ref: %w", err)
	}
	if ref == "" && sc.Event != nil {
		ref = sc.Event.HeadSHA
	}

	sc.Log.WithField("repository", repo).Debug("cloning into workspace")

	args := []string{"clone", "--quiet"}
	if s.depth > 0 && ref == "" {
		args = append(args, "--depth", fmt.Sprintf("%d", s.depth))
	}
	args = append(args, repo, ".")
	if err := s.git(ctx, sc, args...); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}

	if ref != "" {
		if err := s.git(ctx, sc, "checkout", "--quiet", ref); err != nil {
			return fmt.Errorf("git checkout %s failed: %w", ref, err)
		}
	}
	return nil
}

func (s *CheckoutStep) git(ctx context.Context, sc *models.StepContext, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = sc.Workspace
	if sc.LogWriter != nil {
		cmd.Stdout = sc.LogWriter
		cmd.Stderr = sc.LogWriter
	}
	return cmd.Run()
}

// copyTree duplicates src into dst, skipping the .git directory
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

func init() {
	Register("checkout", func(with map[string]any) (Step, error) {
		depth := 1
		switch v := with["depth"].(type) {
		case int:
			depth = v
		case float64:
			depth = int(v)
		}

		return &CheckoutStep{
			repository: with["repository"],
			ref:        with["ref"],
			path:       with["path"],
			depth:      depth,
		}, nil
	})
}
