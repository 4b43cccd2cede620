// Package mergegate executes workflow runs: a run instantiates the jobs of a
// workflow as a small DAG, runs independent jobs concurrently in isolated
// workspaces, and gates dependent jobs on the success of their needs.
package mergegate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/steps"
	"github.com/mergegate/mergegate/workflow"
)

// DefaultJobTimeout bounds a job that declares no timeout-minutes
const DefaultJobTimeout = 30 * time.Minute

// LogOpener opens the combined log sink for one job of one run
type LogOpener func(runID, jobID string) (io.WriteCloser, error)

// Options configures run execution
type Options struct {
	// Workdir is the root under which per-job workspaces are created.
	// Defaults to the system temp directory. Workspaces are discarded at
	// job completion, success or failure.
	Workdir string

	// OpenLog provides the per-job log sink; nil discards job output
	OpenLog LogOpener

	Logger  *logrus.Entry
	Env     map[string]string
	Secrets map[string]string
}

// JobResult is the terminal outcome of one job
type JobResult struct {
	Status     models.Status `json:"status"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// jobState tracks one job of a run. done is closed when the job reaches a
// terminal status; dependents block on it.
type jobState struct {
	id     string
	cfg    workflow.Job
	done   chan struct{}
	result JobResult
}

// Run is a workflow instantiated for a single trigger event
type Run struct {
	ID       string
	Workflow *workflow.Workflow
	Event    *models.Event

	jobs  map[string]*jobState
	mutex sync.RWMutex

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}

	bus  *bus
	opts Options
	log  *logrus.Entry

	startedAt  time.Time
	finishedAt time.Time
}

// NewRun creates a run for the given workflow and event
func NewRun(wf *workflow.Workflow, ev *models.Event, opts Options) *Run {
	if opts.Workdir == "" {
		opts.Workdir = os.TempDir()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	id := uuid.NewString()
	r := &Run{
		ID:       id,
		Workflow: wf,
		Event:    ev,
		jobs:     make(map[string]*jobState, len(wf.Jobs)),
		done:     make(chan struct{}),
		bus:      newBus(),
		opts:     opts,
		log:      log.WithFields(logrus.Fields{"run_id": id, "workflow": wf.Name}),
	}

	for jobID, cfg := range wf.Jobs {
		r.jobs[jobID] = &jobState{
			id:     jobID,
			cfg:    cfg,
			done:   make(chan struct{}),
			result: JobResult{Status: models.StatusQueued},
		}
	}
	return r
}

// AddListener adds a listener to receive run lifecycle notifications
func (r *Run) AddListener(l models.Listener) {
	r.bus.addListener(l)
}

// Start launches the run in the background (non blocking)
func (r *Run) Start(parentCtx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("run already started")
	}

	if err := r.Workflow.Validate(); err != nil {
		r.running.Store(false)
		return fmt.Errorf("workflow validation failed: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(parentCtx)
	r.startedAt = time.Now()
	r.bus.emitRunStarted(r.ID, r.Workflow.Name)
	r.log.Info("run started")

	go func() {
		defer func() {
			r.finishedAt = time.Now()
			r.running.Store(false)
			r.bus.emitRunCompleted(r.ID, r.Status(), time.Since(r.startedAt))

			// Let in-flight notifications drain before signalling done
			r.bus.wait()
			close(r.done)
		}()

		var wg sync.WaitGroup
		for id := range r.jobs {
			wg.Add(1)
			go func(jobID string) {
				defer wg.Done()
				r.runJob(jobID)
			}(id)
		}
		wg.Wait()
	}()

	return nil
}

// Cancel aborts the run: running jobs are killed, queued jobs end up skipped.
// Used when a newer event for the same pull request supersedes this run.
func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until the run has terminated
func (r *Run) Wait() {
	<-r.done
}

// IsRunning reports whether the run is currently executing
func (r *Run) IsRunning() bool {
	return r.running.Load()
}

// Execute runs the workflow and blocks until completion
func (r *Run) Execute(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	r.Wait()
	return nil
}

// Status derives the overall run outcome: failure if any job failed,
// success otherwise. Skipped jobs do not fail a run on their own; the
// failed dependency that caused the skip already does.
func (r *Run) Status() models.Status {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, js := range r.jobs {
		if !js.result.Status.Terminal() {
			return models.StatusRunning
		}
	}
	for _, js := range r.jobs {
		if js.result.Status == models.StatusFailure {
			return models.StatusFailure
		}
	}
	return models.StatusSuccess
}

// Results returns a snapshot of per-job outcomes
func (r *Run) Results() map[string]JobResult {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string]JobResult, len(r.jobs))
	for id, js := range r.jobs {
		out[id] = js.result
	}
	return out
}

// StartedAt returns when Start was called
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// runJob drives a single job from queued to a terminal status
func (r *Run) runJob(jobID string) {
	js := r.jobs[jobID]
	defer close(js.done)

	// Hold until every prerequisite reached a terminal outcome
	needs := make(map[string]models.Status, len(js.cfg.Needs))
	for _, need := range js.cfg.Needs {
		dep := r.jobs[need]
		select {
		case <-dep.done:
			needs[need] = r.jobStatus(need)
		case <-r.ctx.Done():
			r.finishJob(js, models.StatusSkipped, fmt.Errorf("run cancelled"))
			r.bus.emitJobSkipped(r.ID, jobID, "run cancelled")
			return
		}
	}

	// A job starts only if every need succeeded; otherwise it is skipped,
	// never attempted and never retried
	for need, status := range needs {
		if !status.Passed() {
			reason := fmt.Sprintf("dependency %q finished with status %s", need, status)
			r.log.WithField("job", jobID).Info("job skipped: " + reason)
			r.finishJob(js, models.StatusSkipped, nil)
			r.bus.emitJobSkipped(r.ID, jobID, reason)
			return
		}
	}

	env := r.jobEnv(js.cfg)
	ec := &workflow.ExprContext{
		Event:   r.Event,
		Needs:   needs,
		Vars:    env,
		Secrets: r.opts.Secrets,
	}

	if js.cfg.If != "" {
		ok, err := workflow.EvaluateBool(js.cfg.If, ec)
		if err != nil {
			r.finishJob(js, models.StatusFailure, err)
			r.bus.emitJobCompleted(r.ID, jobID, models.StatusFailure, 0)
			return
		}
		if !ok {
			r.finishJob(js, models.StatusSkipped, nil)
			r.bus.emitJobSkipped(r.ID, jobID, "condition evaluated to false")
			return
		}
	}

	r.setJobStatus(jobID, models.StatusRunning, nil)
	r.bus.emitJobStarted(r.ID, jobID)
	started := time.Now()

	err := r.executeSteps(js, env, needs)

	status := models.StatusSuccess
	if err != nil {
		status = models.StatusFailure
	}
	r.finishJob(js, status, err)
	r.bus.emitJobCompleted(r.ID, jobID, status, time.Since(started))

	entry := r.log.WithFields(logrus.Fields{"job": jobID, "status": status})
	if err != nil {
		entry.WithError(err).Warn("job finished")
	} else {
		entry.Info("job finished")
	}
}

// executeSteps runs the job's steps strictly in declared order inside a
// fresh workspace. The first failing step aborts the rest.
func (r *Run) executeSteps(js *jobState, env map[string]string, needs map[string]models.Status) error {
	workspace := filepath.Join(r.opts.Workdir, r.ID, js.id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	var logWriter io.WriteCloser
	if r.opts.OpenLog != nil {
		var err error
		logWriter, err = r.opts.OpenLog(r.ID, js.id)
		if err != nil {
			return fmt.Errorf("failed to open job log: %w", err)
		}
		defer logWriter.Close()
	}

	timeout := DefaultJobTimeout
	if js.cfg.TimeoutMinutes > 0 {
		timeout = time.Duration(js.cfg.TimeoutMinutes) * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	for i, stepCfg := range js.cfg.Steps {
		stepName := stepCfg.DisplayName()

		stepEnv := env
		if len(stepCfg.Env) > 0 {
			stepEnv = mergeEnv(env, stepCfg.Env)
		}

		sc := &models.StepContext{
			RunID:     r.ID,
			JobID:     js.id,
			Workspace: workspace,
			Event:     r.Event,
			Env:       stepEnv,
			Secrets:   r.opts.Secrets,
			Needs:     needs,
			Log:       r.log.WithFields(logrus.Fields{"job": js.id, "step": stepName}),
			LogWriter: logWriter,
		}
		if sc.LogWriter == nil {
			sc.LogWriter = io.Discard
		}

		if stepCfg.If != "" {
			ec := &workflow.ExprContext{Event: r.Event, Needs: needs, Vars: stepEnv, Secrets: r.opts.Secrets}
			ok, err := workflow.EvaluateBool(stepCfg.If, ec)
			if err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, stepName, err)
			}
			if !ok {
				fmt.Fprintf(sc.LogWriter, "--- step skipped: %s\n", stepName)
				continue
			}
		}

		step, err := steps.FromConfig(stepCfg)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, stepName, err)
		}

		r.bus.emitStepStarted(r.ID, js.id, stepName)
		fmt.Fprintf(sc.LogWriter, "--- step: %s\n", stepName)
		stepStarted := time.Now()

		if err := step.Execute(jobCtx, sc); err != nil {
			fmt.Fprintf(sc.LogWriter, "--- step failed: %v\n", err)
			r.bus.emitStepError(r.ID, js.id, stepName, err)
			return fmt.Errorf("step %d (%s): %w", i+1, stepName, err)
		}

		r.bus.emitStepCompleted(r.ID, js.id, stepName, time.Since(stepStarted))
	}

	return nil
}

func (r *Run) jobEnv(cfg workflow.Job) map[string]string {
	env := mergeEnv(r.opts.Env, r.Workflow.Env)
	return mergeEnv(env, cfg.Env)
}

func mergeEnv(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (r *Run) jobStatus(jobID string) models.Status {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.jobs[jobID].result.Status
}

func (r *Run) setJobStatus(jobID string, status models.Status, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	js := r.jobs[jobID]
	js.result.Status = status
	if status == models.StatusRunning {
		js.result.StartedAt = time.Now()
	}
	if err != nil {
		js.result.Err = err
		js.result.Error = err.Error()
	}
}

func (r *Run) finishJob(js *jobState, status models.Status, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	js.result.Status = status
	js.result.FinishedAt = time.Now()
	if js.result.StartedAt.IsZero() && status != models.StatusSkipped {
		js.result.StartedAt = js.result.FinishedAt
	}
	if err != nil {
		js.result.Err = err
		js.result.Error = err.Error()
	}
}
