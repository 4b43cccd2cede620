package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mergegate/mergegate/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func record(id string, status models.Status) RunRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return RunRecord{
		ID:       id,
		Workflow: "ci",
		Status:   status,
		Jobs: map[string]JobRecord{
			"build": {Status: status, StartedAt: now, FinishedAt: now.Add(time.Minute)},
		},
		StartedAt:  now,
		FinishedAt: now.Add(time.Minute),
	}
}

func TestAppendAndList(t *testing.T) {
	s := newStore(t)

	if err := s.Append(record("run-1", models.StatusSuccess)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(record("run-2", models.StatusFailure)); err != nil {
		t.Fatal(err)
	}

	records, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "run-1" || records[1].ID != "run-2" {
		t.Fatalf("records out of order: %v", records)
	}
	if records[1].Jobs["build"].Status != models.StatusFailure {
		t.Fatalf("job record not preserved: %+v", records[1].Jobs)
	}
}

func TestListEmptyStore(t *testing.T) {
	records, err := newStore(t).List()
	if err != nil {
		t.Fatalf("missing journal must not be an error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty history, got %v", records)
	}
}

func TestListSkipsTornLine(t *testing.T) {
	s := newStore(t)
	if err := s.Append(record("run-1", models.StatusSuccess)); err != nil {
		t.Fatal(err)
	}

	// Simulate a partial write at the tail
	f, err := os.OpenFile(s.journalPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id":"run-2","work`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "run-1" {
		t.Fatalf("torn line must be skipped, got %v", records)
	}
}

func TestGet(t *testing.T) {
	s := newStore(t)
	if err := s.Append(record("run-1", models.StatusSuccess)); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Get("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Workflow != "ci" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := s.Get("nope"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestJobLogs(t *testing.T) {
	s := newStore(t)

	w, err := s.OpenJobLog("run-1", "build")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("--- step: compile\nok\n")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	data, err := s.ReadJobLog("run-1", "build")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "compile") {
		t.Fatalf("unexpected log content %q", data)
	}

	if _, err := os.Stat(filepath.Join(s.dir, "logs", "run-1", "build.log")); err != nil {
		t.Fatalf("log file not where expected: %v", err)
	}
}
