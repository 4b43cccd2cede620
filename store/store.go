// Package store persists run history and job logs on disk. Job workspaces
// themselves are ephemeral; this journal exists so outcomes and logs survive
// the run for the read API and the CLI.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mergegate/mergegate/models"
)

// JobRecord is the persisted outcome of one job
type JobRecord struct {
	Status     models.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// RunRecord is one line of the run journal
type RunRecord struct {
	ID         string               `json:"id"`
	Workflow   string               `json:"workflow"`
	Event      *models.Event        `json:"event,omitempty"`
	Status     models.Status        `json:"status"`
	Jobs       map[string]JobRecord `json:"jobs"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Store is an append-only JSONL journal plus per-job log files under dir
type Store struct {
	dir string
	mu  sync.Mutex
}

// New opens (creating if needed) a store rooted at dir
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) journalPath() string {
	return filepath.Join(s.dir, "runs.jsonl")
}

// Append writes a completed run record to the journal
func (s *Store) Append(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.journalPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	_, err = f.Write(line)
	return err
}

// List returns all run records, most recent last. A missing journal is an
// empty history, not an error.
func (s *Store) List() ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// A torn write at the tail should not hide the rest of the history
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// Get returns the record of a single run
func (s *Store) Get(runID string) (*RunRecord, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == runID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found", runID)
}

// OpenJobLog opens the log sink for one job of one run
func (s *Store) OpenJobLog(runID, jobID string) (io.WriteCloser, error) {
	dir := filepath.Join(s.dir, "logs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, jobID+".log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// ReadJobLog returns the stored combined output of a job
func (s *Store) ReadJobLog(runID, jobID string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, "logs", runID, jobID+".log"))
}
