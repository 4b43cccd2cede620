package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watcherYAML = `
name: hotload
on:
  pull_request:
    branches: [main]
jobs:
  build:
    steps:
      - run: "true"
`

func TestWatchWorkflowsReloads(t *testing.T) {
	dir := t.TempDir()
	d, _ := newDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.WatchWorkflows(ctx, dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ci.yml"), []byte(watcherYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, wf := range d.Workflows() {
			if wf.Name == "hotload" {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("new workflow never appeared after file write")
}

func TestWatchWorkflowsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	d, _ := newDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.WatchWorkflows(ctx, dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := d.Workflows(); len(got) != 0 {
		t.Fatalf("unexpected reload from non-workflow file: %v", got)
	}
}

func TestWatchWorkflowsMissingDir(t *testing.T) {
	d, _ := newDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.WatchWorkflows(ctx, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
