package mergegate

import (
	"sync"
	"time"

	"github.com/mergegate/mergegate/models"
)

// bus manages notification distribution to registered listeners (private)
type bus struct {
	listeners []models.Listener
	mutex     sync.RWMutex
	pendingWg sync.WaitGroup // tracks notifications being processed
}

func newBus() *bus {
	return &bus{
		listeners: make([]models.Listener, 0),
	}
}

func (b *bus) addListener(l models.Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.listeners = append(b.listeners, l)
}

// emit sends a notification to all registered listeners.
// Listeners are notified asynchronously to avoid blocking job execution.
func (b *bus) emit(typ models.NotificationType, data map[string]interface{}) {
	b.mutex.RLock()
	listeners := make([]models.Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mutex.RUnlock()

	n := models.Notification{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, l := range listeners {
		b.pendingWg.Add(1)
		go func(l models.Listener) {
			defer b.pendingWg.Done()
			l.OnNotification(n)
		}(l)
	}
}

// wait blocks until all pending notifications have been processed
func (b *bus) wait() {
	b.pendingWg.Wait()
}

func (b *bus) emitRunStarted(runID, workflow string) {
	b.emit(models.NotifyRunStarted, map[string]interface{}{
		"run_id":   runID,
		"workflow": workflow,
	})
}

func (b *bus) emitRunCompleted(runID string, status models.Status, duration time.Duration) {
	b.emit(models.NotifyRunCompleted, map[string]interface{}{
		"run_id":   runID,
		"status":   string(status),
		"duration": duration,
	})
}

func (b *bus) emitJobStarted(runID, jobID string) {
	b.emit(models.NotifyJobStarted, map[string]interface{}{
		"run_id": runID,
		"job_id": jobID,
	})
}

func (b *bus) emitJobCompleted(runID, jobID string, status models.Status, duration time.Duration) {
	b.emit(models.NotifyJobCompleted, map[string]interface{}{
		"run_id":   runID,
		"job_id":   jobID,
		"status":   string(status),
		"duration": duration,
	})
}

func (b *bus) emitJobSkipped(runID, jobID, reason string) {
	b.emit(models.NotifyJobSkipped, map[string]interface{}{
		"run_id": runID,
		"job_id": jobID,
		"reason": reason,
	})
}

func (b *bus) emitStepStarted(runID, jobID, step string) {
	b.emit(models.NotifyStepStarted, map[string]interface{}{
		"run_id": runID,
		"job_id": jobID,
		"step":   step,
	})
}

func (b *bus) emitStepCompleted(runID, jobID, step string, duration time.Duration) {
	b.emit(models.NotifyStepCompleted, map[string]interface{}{
		"run_id":   runID,
		"job_id":   jobID,
		"step":     step,
		"duration": duration,
	})
}

func (b *bus) emitStepError(runID, jobID, step string, err error) {
	b.emit(models.NotifyStepError, map[string]interface{}{
		"run_id": runID,
		"job_id": jobID,
		"step":   step,
		"error":  err.Error(),
	})
}
