package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mergegate/mergegate"
	"github.com/mergegate/mergegate/dispatch"
	"github.com/mergegate/mergegate/forge"
	"github.com/mergegate/mergegate/models"
	"github.com/mergegate/mergegate/steps"
	"github.com/mergegate/mergegate/store"
	"github.com/mergegate/mergegate/workflow"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := setupLogging(cfg)

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}

	workflows, errs := workflow.LoadDir(cfg.WorkflowsDir)
	for _, err := range errs {
		log.WithError(err).Warn("skipping invalid workflow definition")
	}
	if len(workflows) == 0 {
		log.Warnf("no valid workflows found in %s", cfg.WorkflowsDir)
	}

	var forgeClient *forge.Client
	if cfg.Forge.Token != "" {
		forgeClient = forge.NewClient(cfg.Forge.APIURL, cfg.Forge.Token)
		forgeClient.SetLogger(log)
	} else {
		log.Info("no forge token configured, commit status reporting disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := dispatch.New(ctx, dispatch.Config{
		Workdir: cfg.Workdir,
		Env:     cfg.Env,
		Secrets: collectSecrets(workflows, cfg.Forge.Token),
		Store:   st,
		Forge:   forgeClient,
		Log:     log,
	})
	scheduler := dispatch.NewScheduler(d)
	d.OnWorkflowsChanged(func() {
		d.SetSecrets(collectSecrets(d.Workflows(), cfg.Forge.Token))
		if err := scheduler.Rebuild(); err != nil {
			log.WithError(err).Error("schedule rebuild failed")
		}
	})
	d.SetWorkflows(workflows)

	if err := d.WatchWorkflows(ctx, cfg.WorkflowsDir); err != nil {
		log.WithError(err).Warn("workflow hot reload unavailable")
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: dispatch.NewServer(d, st, cfg.WebhookSecret, log).Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"listen":    cfg.Listen,
		"workflows": len(workflows),
	}).Info("mergegate listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("server stopped")
	return nil
}

func runLocal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := setupLogging(cfg)

	wf, err := workflow.Load(args[0])
	if err != nil {
		return err
	}

	ev, err := loadEvent(eventPath)
	if err != nil {
		return err
	}

	opts := mergegate.Options{
		Workdir: workdir,
		Logger:  log,
		Env:     cfg.Env,
		Secrets: collectSecrets([]*workflow.Workflow{wf}, cfg.Forge.Token),
	}
	if sourcePath != "" {
		// Let checkout steps resolve the local tree instead of cloning
		opts.Env = mergedEnv(opts.Env, map[string]string{"MERGEGATE_SOURCE": sourcePath})
	}
	if dataDir != "" {
		st, err := store.New(dataDir)
		if err != nil {
			return err
		}
		opts.OpenLog = st.OpenJobLog
	}

	run := mergegate.NewRun(wf, ev, opts)
	run.AddListener(models.ListenerFunc(func(n models.Notification) {
		switch n.Type {
		case models.NotifyJobCompleted:
			fmt.Printf("job %-20s %s\n", n.Data["job_id"], n.Data["status"])
		case models.NotifyJobSkipped:
			fmt.Printf("job %-20s skipped (%s)\n", n.Data["job_id"], n.Data["reason"])
		case models.NotifyStepError:
			fmt.Printf("  step %s failed: %s\n", n.Data["step"], n.Data["error"])
		}
	}))

	if err := run.Execute(cmd.Context()); err != nil {
		return err
	}

	status := run.Status()
	jobs := run.Results()
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("\nrun %s: %s\n", run.ID, status)
	for _, id := range ids {
		res := jobs[id]
		line := fmt.Sprintf("  %-20s %s", id, res.Status)
		if res.Error != "" {
			line += "  (" + res.Error + ")"
		}
		fmt.Println(line)
	}

	if status != models.StatusSuccess {
		os.Exit(1)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	failed := false
	for _, path := range args {
		paths := []string{path}

		if info, err := os.Stat(path); err == nil && info.IsDir() {
			paths, err = workflow.Discover(path)
			if err != nil {
				return err
			}
		}

		for _, p := range paths {
			if _, err := workflow.Load(p); err != nil {
				fmt.Printf("FAIL %s\n  %v\n", p, err)
				failed = true
				continue
			}
			fmt.Printf("ok   %s\n", p)
		}
	}

	if failed {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func runSteps(cmd *cobra.Command, args []string) error {
	types := steps.List()
	sort.Strings(types)
	for _, t := range types {
		fmt.Println(t)
	}
	return nil
}

// loadEvent reads a trigger event from a JSON file, or synthesizes a manual
// event when no file is given
func loadEvent(path string) (*models.Event, error) {
	if path == "" {
		return &models.Event{
			Kind:       models.EventManual,
			ReceivedAt: time.Now(),
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}

	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event file: %w", err)
	}
	if ev.Kind == "" {
		ev.Kind = models.EventPullRequest
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	return &ev, nil
}

// collectSecrets builds the secret set injected into runs: the forge token
// plus every secret name the workflows declare, taken from the environment
func collectSecrets(workflows []*workflow.Workflow, token string) map[string]string {
	secrets := make(map[string]string)
	if token != "" {
		secrets["GITHUB_TOKEN"] = token
	}
	for _, wf := range workflows {
		for _, name := range wf.Secrets {
			if v := os.Getenv(name); v != "" {
				secrets[name] = v
			}
		}
	}
	return secrets
}

func mergedEnv(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
