package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"missiond/mission"
	"missiond/store"
	"missiond/tree"
)

var (
	// ErrRobotBusy means the robot already has an unfinished mission.
	ErrRobotBusy = errors.New("robot already has an active mission")
	// ErrMissionNotFound means no live worker holds the mission.
	ErrMissionNotFound = errors.New("mission not found")
	// ErrInvalidMissionState means the mission cannot take the
	// requested transition (resuming a running mission, pausing a
	// paused one).
	ErrInvalidMissionState = errors.New("invalid mission state for operation")
)

// Translator renders generic mission steps for the fleet backend.
type Translator interface {
	Translate(m *mission.Mission) ([]mission.Step, error)
}

// TreeBuilder assembles the behavior tree for a translated mission.
type TreeBuilder interface {
	Build(m *mission.Mission, steps []mission.Step, opts mission.RuntimeOptions) (tree.Node, error)
}

// Config wires a Pool.
type Config struct {
	DB         *store.DB
	Translator Translator
	Builder    TreeBuilder
	Emitter    tree.Emitter
	Locker     tree.Locker
	Navigator  tree.Navigator
}

type poolEntry struct {
	worker  *Worker
	cancel  context.CancelFunc
	running bool
}

// Pool runs at most one mission per robot. Submitted missions are
// translated, built into a tree, persisted, and executed on their own
// goroutine; pause, resume, and abort act on the live worker.
type Pool struct {
	mu      sync.Mutex
	db      *store.DB
	trans   Translator
	builder TreeBuilder
	emitter tree.Emitter
	locker  tree.Locker
	nav     tree.Navigator

	entries map[string]*poolEntry // mission id -> entry
	byRobot map[string]string     // robot id -> mission id
	wg      sync.WaitGroup
}

func NewPool(cfg Config) *Pool {
	return &Pool{
		db:      cfg.DB,
		trans:   cfg.Translator,
		builder: cfg.Builder,
		emitter: cfg.Emitter,
		locker:  cfg.Locker,
		nav:     cfg.Navigator,
		entries: make(map[string]*poolEntry),
		byRobot: make(map[string]string),
	}
}

// Start recovers persisted missions: finished rows are purged,
// unfinished unpaused missions resume executing, and paused missions
// are loaded idle, waiting for an operator to resume them.
func (p *Pool) Start() error {
	if n, err := p.db.DeleteFinishedMissions(); err != nil {
		return fmt.Errorf("purge finished missions: %w", err)
	} else if n > 0 {
		log.Printf("dispatch: purged %d finished missions", n)
	}

	active, err := p.db.FetchAllMissions(false, false)
	if err != nil {
		return fmt.Errorf("load active missions: %w", err)
	}
	for _, rec := range active {
		w, err := p.restoreWorker(rec)
		if err != nil {
			log.Printf("dispatch: restore mission %s: %v", rec.MissionID, err)
			continue
		}
		p.launch(w)
		log.Printf("dispatch: resumed mission %s on robot %s", rec.MissionID, rec.RobotID)
	}

	paused, err := p.db.FetchAllMissions(false, true)
	if err != nil {
		return fmt.Errorf("load paused missions: %w", err)
	}
	for _, rec := range paused {
		w, err := p.restoreWorker(rec)
		if err != nil {
			log.Printf("dispatch: restore paused mission %s: %v", rec.MissionID, err)
			continue
		}
		w.markPaused()
		log.Printf("dispatch: loaded paused mission %s on robot %s", rec.MissionID, rec.RobotID)
	}
	return nil
}

// restoreWorker rebuilds a worker from its persisted state: the
// mission is re-translated, the tree rebuilt, and the recorded node
// states applied, so nodes that already succeeded are skipped when
// execution restarts.
func (p *Pool) restoreWorker(rec *store.MissionRecord) (*Worker, error) {
	m := rec.State.Mission
	if m == nil {
		return nil, fmt.Errorf("state has no mission")
	}
	steps, err := p.trans.Translate(m)
	if err != nil {
		return nil, fmt.Errorf("re-translate: %w", err)
	}
	root, err := p.builder.Build(m, steps, rec.State.Options)
	if err != nil {
		return nil, fmt.Errorf("rebuild tree: %w", err)
	}
	if len(rec.State.TreeState) > 0 {
		if err := tree.Restore(root, rec.State.TreeState); err != nil {
			return nil, err
		}
	}
	shared := mission.RestoreSharedMemory(rec.State.SharedMemory)
	w := NewWorker(m, rec.State.Options, shared, root)
	w.State() // prime the cached snapshot before any run goroutine exists

	p.mu.Lock()
	p.entries[m.ID] = &poolEntry{worker: w}
	p.byRobot[m.RobotID] = m.ID
	p.mu.Unlock()
	return w, nil
}

// Submit translates, builds, persists, and starts a mission. The
// translation error surfaces before anything is stored; a robot with
// an unfinished mission rejects the submission.
func (p *Pool) Submit(m *mission.Mission, opts mission.RuntimeOptions) error {
	steps, err := p.trans.Translate(m)
	if err != nil {
		return err
	}

	// The robot may still be reserved by a persisted mission no live
	// worker holds.
	if rec, err := p.db.FetchRobotActiveMission(m.RobotID); err != nil {
		return fmt.Errorf("check robot %s: %w", m.RobotID, err)
	} else if rec != nil {
		return ErrRobotBusy
	}

	root, err := p.builder.Build(m, steps, opts)
	if err != nil {
		return err
	}
	w := NewWorker(m, opts, mission.NewSharedMemory(), root)

	p.mu.Lock()
	if _, busy := p.byRobot[m.RobotID]; busy {
		p.mu.Unlock()
		return ErrRobotBusy
	}
	p.entries[m.ID] = &poolEntry{worker: w}
	p.byRobot[m.RobotID] = m.ID
	p.mu.Unlock()

	if err := p.db.SaveMission(w.State()); err != nil {
		p.mu.Lock()
		delete(p.entries, m.ID)
		delete(p.byRobot, m.RobotID)
		p.mu.Unlock()
		return fmt.Errorf("persist mission %s: %w", m.ID, err)
	}

	p.launch(w)
	return nil
}

// launch runs the worker on its own goroutine with a fresh cancelable
// context.
func (p *Pool) launch(w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	entry := p.entries[w.MissionID()]
	entry.cancel = cancel
	entry.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.run(ctx, w)
	}()
}

func (p *Pool) run(ctx context.Context, w *Worker) {
	rc := &tree.Context{
		Mission:        w.Mission(),
		Shared:         w.shared,
		Options:        w.options,
		Emitter:        p.emitter,
		Locker:         p.locker,
		Navigator:      p.nav,
		PauseRequested: w.pauseRequested.Load,
		Persist:        func() { p.persist(w) },
	}

	err := w.Execute(ctx, rc)
	switch {
	case err == nil:
		log.Printf("dispatch: mission %s completed", w.MissionID())
	case errors.Is(err, tree.ErrPaused):
		log.Printf("dispatch: mission %s paused", w.MissionID())
	case errors.Is(err, tree.ErrCancelled):
		log.Printf("dispatch: mission %s cancelled", w.MissionID())
	default:
		log.Printf("dispatch: mission %s failed: %v", w.MissionID(), err)
	}

	p.persist(w)

	p.mu.Lock()
	entry := p.entries[w.MissionID()]
	if entry != nil {
		entry.running = false
	}
	if w.Finished() {
		delete(p.entries, w.MissionID())
		delete(p.byRobot, w.RobotID())
	}
	p.mu.Unlock()
}

func (p *Pool) persist(w *Worker) {
	if err := p.db.SaveMission(w.State()); err != nil {
		log.Printf("dispatch: persist mission %s: %v", w.MissionID(), err)
	}
}

// Pause requests a cooperative stop of a running mission. The tree's
// pause branch runs before the worker settles as paused.
func (p *Pool) Pause(missionID string) error {
	p.mu.Lock()
	entry, ok := p.entries[missionID]
	if !ok {
		p.mu.Unlock()
		return ErrMissionNotFound
	}
	if !entry.running || entry.worker.Paused() {
		p.mu.Unlock()
		return ErrInvalidMissionState
	}
	cancel := entry.cancel
	entry.worker.RequestPause()
	p.mu.Unlock()

	cancel()
	return nil
}

// Resume restarts a paused mission. Already-succeeded nodes are
// skipped; handler branches are reset so the run can pause again.
func (p *Pool) Resume(missionID string) error {
	p.mu.Lock()
	entry, ok := p.entries[missionID]
	if !ok {
		p.mu.Unlock()
		return ErrMissionNotFound
	}
	if entry.running || !entry.worker.Paused() {
		p.mu.Unlock()
		return ErrInvalidMissionState
	}
	p.mu.Unlock()

	entry.worker.PrepareResume()
	p.persist(entry.worker)
	p.launch(entry.worker)
	return nil
}

// Abort stops a mission for good. A running worker is cancelled; a
// paused one is re-run under an already-cancelled context so its
// cancel branch still cleans up.
func (p *Pool) Abort(missionID string) error {
	p.mu.Lock()
	entry, ok := p.entries[missionID]
	if !ok {
		p.mu.Unlock()
		return ErrMissionNotFound
	}
	if entry.running {
		cancel := entry.cancel
		p.mu.Unlock()
		cancel()
		return nil
	}
	if !entry.worker.Paused() {
		p.mu.Unlock()
		return ErrInvalidMissionState
	}
	p.mu.Unlock()

	entry.worker.PrepareResume()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.mu.Lock()
	entry.cancel = cancel
	entry.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, entry.worker)
	}()
	return nil
}

// Get returns the live state of one mission, falling back to the
// database for missions no worker holds.
func (p *Pool) Get(missionID string) (*mission.WorkerState, error) {
	p.mu.Lock()
	entry, ok := p.entries[missionID]
	if ok {
		state := p.entryState(entry)
		p.mu.Unlock()
		return state, nil
	}
	p.mu.Unlock()
	rec, err := p.db.FetchMission(missionID)
	if errors.Is(err, store.ErrMissionNotFound) {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.State, nil
}

// entryState reads a worker's state without touching a tree a run
// goroutine may be ticking. Callers hold p.mu.
func (p *Pool) entryState(entry *poolEntry) *mission.WorkerState {
	if entry.running {
		return entry.worker.CachedState()
	}
	return entry.worker.State()
}

// List returns the states of all live workers.
func (p *Pool) List() []*mission.WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*mission.WorkerState, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, p.entryState(e))
	}
	return out
}

// ActiveCount reports how many workers are live (running or paused).
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stop waits for running workers to settle after their contexts are
// cancelled.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, entry := range p.entries {
		if entry.running && entry.cancel != nil {
			entry.cancel()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}
