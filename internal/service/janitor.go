package service

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Janitor removes spooled export archives after a fixed delay, whether or
// not they were downloaded. It is a leaked-resource safety net, not a
// precise lifecycle.
type Janitor struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewJanitor creates a new Janitor.
func NewJanitor() *Janitor {
	return &Janitor{timers: make(map[string]*time.Timer)}
}

// Schedule arranges for path to be deleted after delay. Scheduling the same
// path again resets its timer.
func (j *Janitor) Schedule(path string, delay time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return
	}

	if t, ok := j.timers[path]; ok {
		t.Stop()
	}
	j.timers[path] = time.AfterFunc(delay, func() {
		j.remove(path)
	})
}

func (j *Janitor) remove(path string) {
	j.mu.Lock()
	delete(j.timers, path)
	j.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return
		}
		slog.Error("remove expired export archive", "path", path, "error", err)
		return
	}
	slog.Info("removed expired export archive", "path", path)
}

// Stop cancels all pending deletions. Files already spooled stay on disk.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
	for path, t := range j.timers {
		t.Stop()
		delete(j.timers, path)
	}
}
