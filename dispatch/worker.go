package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"missiond/mission"
	"missiond/tree"
)

// Worker owns one mission run: the mission, its tree, and the flags
// that say whether the run is over or merely paused.
type Worker struct {
	mu      sync.Mutex
	m       *mission.Mission
	options mission.RuntimeOptions
	shared  *mission.SharedMemory
	root    tree.Node

	finished bool
	paused   bool

	// lastState is the most recent snapshot, refreshed by whoever
	// legally walked the tree. Readers use it while the run goroutine
	// owns the tree.
	lastState *mission.WorkerState

	pauseRequested atomic.Bool
}

func NewWorker(m *mission.Mission, options mission.RuntimeOptions, shared *mission.SharedMemory, root tree.Node) *Worker {
	return &Worker{
		m:       m,
		options: options,
		shared:  shared,
		root:    root,
	}
}

func (w *Worker) MissionID() string { return w.m.ID }
func (w *Worker) RobotID() string   { return w.m.RobotID }
func (w *Worker) Mission() *mission.Mission {
	return w.m
}

func (w *Worker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// RequestPause marks the next cancellation as a pause.
func (w *Worker) RequestPause() {
	w.pauseRequested.Store(true)
}

// PrepareResume clears the pause flags and resets the tree's handler
// branches so the resumed run can pause or fail again. Nodes that
// already succeeded stay succeeded and will be skipped.
func (w *Worker) PrepareResume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.pauseRequested.Store(false)
	tree.ResetHandlers(w.root)
}

// Execute runs the tree to an outcome and settles the worker's flags.
// A pause leaves the worker resumable; everything else finishes it.
func (w *Worker) Execute(ctx context.Context, rc *tree.Context) error {
	err := tree.Run(ctx, rc, w.root)

	w.mu.Lock()
	if errors.Is(err, tree.ErrPaused) {
		w.paused = true
		w.finished = false
	} else {
		w.finished = true
		w.paused = false
	}
	w.mu.Unlock()
	return err
}

// State serializes the worker for persistence. Only the run goroutine
// (or a caller that knows the worker is idle) may use it: it walks the
// tree. Concurrent readers take CachedState.
func (w *Worker) State() *mission.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := &mission.WorkerState{
		MissionID:    w.m.ID,
		RobotID:      w.m.RobotID,
		Mission:      w.m.Clone(),
		Options:      w.options,
		SharedMemory: w.shared.Snapshot(),
		TreeState:    tree.Snapshot(w.root),
		Finished:     w.finished,
		Paused:       w.paused,
	}
	w.lastState = state
	return state
}

// CachedState returns the snapshot from the last persist, safe to read
// while the run goroutine owns the tree.
func (w *Worker) CachedState() *mission.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastState
}

// markPaused forces the paused flag, used when loading persisted
// paused missions that are not executing.
func (w *Worker) markPaused() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}
