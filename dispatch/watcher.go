package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/mergegate/mergegate/workflow"
)

// WatchWorkflows hot-reloads the workflow set whenever a definition in dir
// changes. Reloads are debounced; a file that fails validation is reported
// and the previous set stays active for it.
func (d *Dispatcher) WatchWorkflows(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var (
			debounce  = time.NewTimer(0)
			reloading bool
		)
		if !debounce.Stop() {
			<-debounce.C
		}

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isWorkflowFile(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if reloading {
					debounce.Reset(250 * time.Millisecond)
					continue
				}
				reloading = true
				debounce.Reset(250 * time.Millisecond)

			case <-debounce.C:
				reloading = false
				d.reloadWorkflows(dir)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.WithError(err).Warn("workflow watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (d *Dispatcher) reloadWorkflows(dir string) {
	workflows, errs := workflow.LoadDir(dir)
	for _, err := range errs {
		d.log.WithError(err).Warn("skipping invalid workflow definition")
	}
	d.SetWorkflows(workflows)
	d.log.WithFields(logrus.Fields{"dir": dir, "count": len(workflows)}).Info("workflows reloaded")
}

func isWorkflowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}
