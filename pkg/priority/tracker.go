// Package priority tracks the scheduling priority of connected workers.
//
// The Tracker records which workers are protected from being reclaimed and
// whether the embedding application is in the foreground. It applies no
// policy of its own; callers read the state through Protected and Snapshot.
package priority

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
)

// WorkerState is the tracked priority state of one worker
type WorkerState struct {
	PID                  int
	ConnectionID         string
	Class                isolation.Class
	AlwaysForeground     bool
	InForeground         bool
	VisibilityDetermined bool
}

// Tracker is an in-memory priority manager
type Tracker struct {
	logger *slog.Logger

	mu                    sync.RWMutex
	workers               map[int]*WorkerState
	applicationForeground bool
}

// NewTracker creates a tracker. The application starts in the foreground.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:                logger.With("component", "priority_tracker"),
		workers:               make(map[int]*WorkerState),
		applicationForeground: true,
	}
}

// RegisterWorker starts tracking a connected worker
func (t *Tracker) RegisterWorker(pid int, conn *procmgr.WorkerConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[pid] = &WorkerState{
		PID:              pid,
		ConnectionID:     conn.ID(),
		Class:            conn.Class(),
		AlwaysForeground: conn.AlwaysForeground(),
	}
}

// SetPriority marks pid as foreground (high) or background
func (t *Tracker) SetPriority(pid int, high bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.workers[pid]
	if !ok {
		t.logger.Debug("priority change for untracked worker", "pid", pid)
		return
	}
	w.InForeground = high
}

// DeterminedVisibility records that the embedder settled pid's visibility
func (t *Tracker) DeterminedVisibility(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.workers[pid]; ok {
		w.VisibilityDetermined = true
	}
}

// Release stops tracking pid
func (t *Tracker) Release(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, pid)
}

// OnSentToBackground records that the application left the foreground
func (t *Tracker) OnSentToBackground() {
	t.mu.Lock()
	t.applicationForeground = false
	t.mu.Unlock()
	t.logger.Debug("application sent to background")
}

// OnBroughtToForeground records that the application returned
func (t *Tracker) OnBroughtToForeground() {
	t.mu.Lock()
	t.applicationForeground = true
	t.mu.Unlock()
	t.logger.Debug("application brought to foreground")
}

// ApplicationInForeground reports the last application signal
func (t *Tracker) ApplicationInForeground() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.applicationForeground
}

// Protected reports whether pid should be kept alive under memory pressure.
// Always-foreground workers are protected regardless of application state.
func (t *Tracker) Protected(pid int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.workers[pid]
	if !ok {
		return false
	}
	if w.AlwaysForeground {
		return true
	}
	return w.InForeground && t.applicationForeground
}

// Snapshot returns the tracked workers ordered by pid
func (t *Tracker) Snapshot() []WorkerState {
	t.mu.RLock()
	out := make([]WorkerState, 0, len(t.workers))
	for _, w := range t.workers {
		out = append(out, *w)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Noop ignores every signal
type Noop struct{}

func (Noop) RegisterWorker(pid int, conn *procmgr.WorkerConnection) {}
func (Noop) SetPriority(pid int, high bool)                         {}
func (Noop) DeterminedVisibility(pid int)                           {}
func (Noop) Release(pid int)                                        {}
func (Noop) OnSentToBackground()                                    {}
func (Noop) OnBroughtToForeground()                                 {}
