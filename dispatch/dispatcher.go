// Package dispatch turns qualifying trigger events into runs: it matches
// events against the loaded workflows, starts one run per match, supersedes
// stale runs of the same pull request, and surfaces job outcomes as commit
// statuses on the PR head.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mergegate/mergegate"
	"github.com/mergegate/mergegate/forge"
	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/store"
	"github.com/mergegate/mergegate/workflow"
)

// Config configures a Dispatcher
type Config struct {
	Workdir string
	Env     map[string]string
	Secrets map[string]string

	Store *store.Store
	Forge *forge.Client // nil disables commit status reporting
	Log   *logrus.Entry
}

// Dispatcher owns the loaded workflow set and the in-flight runs
type Dispatcher struct {
	cfg Config
	log *logrus.Entry

	// baseCtx bounds run execution to the dispatcher lifetime, not to the
	// webhook request that delivered the event
	baseCtx context.Context

	mu        sync.Mutex
	workflows []*workflow.Workflow
	onChange  func()                    // invoked after the workflow set is replaced
	runs      map[string]*mergegate.Run // run ID -> in-flight run
	inflight  map[string]*mergegate.Run // supersede key -> newest run
}

// New creates a dispatcher. ctx bounds the lifetime of every run it starts.
func New(ctx context.Context, cfg Config) *Dispatcher {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      log,
		baseCtx:  ctx,
		runs:     make(map[string]*mergegate.Run),
		inflight: make(map[string]*mergegate.Run),
	}
}

// SetWorkflows replaces the loaded workflow set (startup and hot reload)
// and notifies the change callback, if any
func (d *Dispatcher) SetWorkflows(workflows []*workflow.Workflow) {
	d.mu.Lock()
	d.workflows = workflows
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// OnWorkflowsChanged registers a callback invoked after every SetWorkflows.
// The scheduler hangs its Rebuild off this so schedule triggers follow
// hot reloads.
func (d *Dispatcher) OnWorkflowsChanged(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// SetSecrets replaces the secret set injected into new runs. Runs already
// in flight keep the set they started with.
func (d *Dispatcher) SetSecrets(secrets map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Secrets = secrets
}

// Workflows returns the currently loaded workflow set
func (d *Dispatcher) Workflows() []*workflow.Workflow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*workflow.Workflow{}, d.workflows...)
}

// Run returns an in-flight run by ID
func (d *Dispatcher) Run(id string) (*mergegate.Run, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runs[id]
	return r, ok
}

// HandleEvent starts one run per workflow whose trigger matches the event.
// Non-qualifying events start nothing; there are no retries at this layer.
func (d *Dispatcher) HandleEvent(ev *models.Event) []string {
	var started []string
	for _, wf := range d.Workflows() {
		if !wf.On.Matches(ev) {
			continue
		}
		run, err := d.startRun(wf, ev)
		if err != nil {
			d.log.WithError(err).WithField("workflow", wf.Name).Error("failed to start run")
			continue
		}
		started = append(started, run.ID)
	}

	if len(started) == 0 {
		d.log.WithFields(logrus.Fields{
			"kind":   ev.Kind,
			"action": ev.Action,
			"branch": ev.BaseBranch,
		}).Debug("event matched no workflow")
	}
	return started
}

// Trigger starts a run of one specific workflow, bypassing trigger matching.
// Used by the scheduler and by manual re-runs.
func (d *Dispatcher) Trigger(wf *workflow.Workflow, ev *models.Event) (*mergegate.Run, error) {
	return d.startRun(wf, ev)
}

func (d *Dispatcher) startRun(wf *workflow.Workflow, ev *models.Event) (*mergegate.Run, error) {
	d.mu.Lock()
	secrets := d.cfg.Secrets
	d.mu.Unlock()

	opts := mergegate.Options{
		Workdir: d.cfg.Workdir,
		Env:     d.cfg.Env,
		Secrets: secrets,
		Logger:  d.log,
	}
	if d.cfg.Store != nil {
		opts.OpenLog = d.cfg.Store.OpenJobLog
	}

	run := mergegate.NewRun(wf, ev, opts)

	// A newer qualifying event for the same PR and workflow supersedes the
	// run still in flight
	key := supersedeKey(wf, ev)
	d.mu.Lock()
	if key != "" {
		if prev, ok := d.inflight[key]; ok && prev.IsRunning() {
			d.log.WithField("run_id", prev.ID).Info("superseding stale run")
			prev.Cancel()
		}
		d.inflight[key] = run
	}
	d.runs[run.ID] = run
	d.mu.Unlock()

	if err := run.Start(d.baseCtx); err != nil {
		d.mu.Lock()
		delete(d.runs, run.ID)
		d.mu.Unlock()
		return nil, err
	}

	d.reportPending(wf, ev)

	go d.finishRun(run, key)
	return run, nil
}

// finishRun waits for completion, persists the record and reports statuses
func (d *Dispatcher) finishRun(run *mergegate.Run, key string) {
	run.Wait()

	// A superseded run was replaced in the inflight map before it finished;
	// its commit statuses belong to the newer run now and must not be
	// overwritten with this run's cancelled outcome
	superseded := false
	d.mu.Lock()
	delete(d.runs, run.ID)
	if key != "" {
		if d.inflight[key] == run {
			delete(d.inflight, key)
		} else {
			superseded = true
		}
	}
	d.mu.Unlock()

	results := run.Results()

	if d.cfg.Store != nil {
		rec := store.RunRecord{
			ID:        run.ID,
			Workflow:  run.Workflow.Name,
			Event:     run.Event,
			Status:    run.Status(),
			Jobs:      make(map[string]store.JobRecord, len(results)),
			StartedAt: run.StartedAt(),
		}
		for id, res := range results {
			rec.Jobs[id] = store.JobRecord{
				Status:     res.Status,
				Error:      res.Error,
				StartedAt:  res.StartedAt,
				FinishedAt: res.FinishedAt,
			}
			if res.FinishedAt.After(rec.FinishedAt) {
				rec.FinishedAt = res.FinishedAt
			}
		}
		if err := d.cfg.Store.Append(rec); err != nil {
			d.log.WithError(err).Error("failed to persist run record")
		}
	}

	if !superseded {
		d.reportResults(run, results)
	}

	d.log.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"status":     run.Status(),
		"superseded": superseded,
	}).Info("run completed")
}

// reportPending marks every job pending on the PR head as soon as the run starts
func (d *Dispatcher) reportPending(wf *workflow.Workflow, ev *models.Event) {
	if d.cfg.Forge == nil || ev.Kind != models.EventPullRequest || ev.HeadSHA == "" {
		return
	}
	for _, jobID := range wf.JobIDs() {
		err := d.cfg.Forge.CreateStatus(d.baseCtx, ev.Owner, ev.Repo, ev.HeadSHA,
			forge.StatusPending, statusContext(wf.Name, jobID), "queued")
		if err != nil {
			d.log.WithError(err).Warn("failed to report pending status")
		}
	}
}

// reportResults posts each job's terminal outcome as a commit status
func (d *Dispatcher) reportResults(run *mergegate.Run, results map[string]mergegate.JobResult) {
	ev := run.Event
	if d.cfg.Forge == nil || ev == nil || ev.Kind != models.EventPullRequest || ev.HeadSHA == "" {
		return
	}

	ctx := context.Background()
	for jobID, res := range results {
		state, desc := statusFor(res)
		err := d.cfg.Forge.CreateStatus(ctx, ev.Owner, ev.Repo, ev.HeadSHA,
			state, statusContext(run.Workflow.Name, jobID), desc)
		if err != nil {
			d.log.WithError(err).WithField("job", jobID).Warn("failed to report status")
		}
	}
}

// statusFor maps a job outcome onto a commit status. A job skipped because
// its dependency failed is reported as "not run", never as passed; an auth
// or connectivity failure is an error, not a plain check failure.
func statusFor(res mergegate.JobResult) (forge.StatusState, string) {
	switch res.Status {
	case models.StatusSuccess:
		return forge.StatusSuccess, "all steps passed"
	case models.StatusSkipped:
		return forge.StatusError, "not run"
	case models.StatusFailure:
		var authErr *models.AuthError
		if errors.As(res.Err, &authErr) {
			return forge.StatusError, res.Error
		}
		return forge.StatusFailure, res.Error
	default:
		return forge.StatusPending, string(res.Status)
	}
}

func statusContext(workflowName, jobID string) string {
	return fmt.Sprintf("%s/%s", workflowName, jobID)
}

func supersedeKey(wf *workflow.Workflow, ev *models.Event) string {
	if ev.Kind != models.EventPullRequest || ev.Number == 0 {
		return ""
	}
	return fmt.Sprintf("%s/%s#%d:%s", ev.Owner, ev.Repo, ev.Number, wf.Name)
}
