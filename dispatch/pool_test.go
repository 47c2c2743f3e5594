package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"missiond/config"
	"missiond/mission"
	"missiond/store"
	"missiond/tree"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

// --- Fakes ---

type identityTranslator struct {
	err error
}

func (tr *identityTranslator) Translate(m *mission.Mission) ([]mission.Step, error) {
	if tr.err != nil {
		return nil, tr.err
	}
	return m.Definition.Steps, nil
}

// testNode is a leaf driven by the test.
type testNode struct {
	tree.Base
	tick func(ctx context.Context, rc *tree.Context) error
}

func newTestNode(name string, tick func(ctx context.Context, rc *tree.Context) error) *testNode {
	return &testNode{Base: tree.NewBase(name), tick: tick}
}

func (n *testNode) Tick(ctx context.Context, rc *tree.Context) error {
	if n.tick == nil {
		return nil
	}
	return n.tick(ctx, rc)
}

// nodeBuilder hands every mission the same tree shape, built fresh on
// each call the way a real builder would.
type nodeBuilder struct {
	make func(m *mission.Mission) tree.Node
}

func (b *nodeBuilder) Build(m *mission.Mission, steps []mission.Step, opts mission.RuntimeOptions) (tree.Node, error) {
	return b.make(m), nil
}

func testMission(id, robotID string) *mission.Mission {
	return mission.New(id, robotID, mission.Definition{}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// blockingTree builds trees whose single leaf blocks until the run
// context ends or the gate closes.
func blockingTree(gate <-chan struct{}) *nodeBuilder {
	return &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		leaf := newTestNode("work", func(ctx context.Context, rc *tree.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-gate:
				return nil
			}
		})
		return tree.NewSequence("mission_steps", leaf)
	}}
}

// --- Tests ---

func TestSubmitRunsToCompletion(t *testing.T) {
	db := testDB(t)
	gate := make(chan struct{})
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: blockingTree(gate)})

	m := testMission("m1", "robot-1")
	if err := p.Submit(m, mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", p.ActiveCount())
	}

	close(gate)
	waitFor(t, "mission to finish", func() bool { return p.ActiveCount() == 0 })
	p.Stop()

	rec, err := db.FetchMission("m1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rec.Finished || rec.Paused {
		t.Errorf("flags = finished:%v paused:%v", rec.Finished, rec.Paused)
	}
}

func TestSubmitRobotBusy(t *testing.T) {
	db := testDB(t)
	gate := make(chan struct{})
	defer close(gate)
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: blockingTree(gate)})
	defer p.Stop()

	if err := p.Submit(testMission("m1", "robot-1"), mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := p.Submit(testMission("m2", "robot-1"), mission.RuntimeOptions{})
	if !errors.Is(err, ErrRobotBusy) {
		t.Fatalf("err = %v, want ErrRobotBusy", err)
	}
	// A different robot is fine.
	if err := p.Submit(testMission("m3", "robot-2"), mission.RuntimeOptions{}); err != nil {
		t.Errorf("second robot: %v", err)
	}
}

func TestSubmitTranslationErrorPersistsNothing(t *testing.T) {
	db := testDB(t)
	boom := errors.New("unsupported action")
	p := NewPool(Config{DB: db, Translator: &identityTranslator{err: boom}, Builder: blockingTree(nil)})

	err := p.Submit(testMission("m1", "robot-1"), mission.RuntimeOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want translation error", err)
	}
	if p.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", p.ActiveCount())
	}
	if _, err := db.FetchMission("m1"); !errors.Is(err, store.ErrMissionNotFound) {
		t.Errorf("mission was persisted: %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	db := testDB(t)
	var mu sync.Mutex
	ticks := 0
	gate := make(chan struct{})
	builder := &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		leaf := newTestNode("work", func(ctx context.Context, rc *tree.Context) error {
			mu.Lock()
			ticks++
			mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-gate:
				return nil
			}
		})
		return tree.NewSequence("mission_steps", leaf)
	}}
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: builder})

	if err := p.Submit(testMission("m1", "robot-1"), mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Pause("m1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitFor(t, "worker to pause", func() bool {
		state, err := p.Get("m1")
		return err == nil && state.Paused
	})

	// The paused mission stays persisted resumable and keeps the robot.
	rec, err := db.FetchMission("m1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rec.Finished || !rec.Paused {
		t.Errorf("flags = finished:%v paused:%v, want paused only", rec.Finished, rec.Paused)
	}
	if err := p.Submit(testMission("m2", "robot-1"), mission.RuntimeOptions{}); !errors.Is(err, ErrRobotBusy) {
		t.Errorf("err = %v, paused mission must reserve the robot", err)
	}

	// Double pause is rejected.
	if err := p.Pause("m1"); !errors.Is(err, ErrInvalidMissionState) {
		t.Errorf("second pause = %v, want ErrInvalidMissionState", err)
	}

	waitFor(t, "resume to be accepted", func() bool { return p.Resume("m1") == nil })
	close(gate)
	waitFor(t, "mission to finish", func() bool { return p.ActiveCount() == 0 })
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if ticks != 2 {
		t.Errorf("ticks = %d, want the leaf re-entered exactly once", ticks)
	}
	rec, _ = db.FetchMission("m1")
	if !rec.Finished {
		t.Error("mission should finish after resume")
	}
}

func TestAbortRunning(t *testing.T) {
	db := testDB(t)
	cancelled := make(chan struct{})
	builder := &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		leaf := newTestNode("work", func(ctx context.Context, rc *tree.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		onCancel := newTestNode("cleanup", func(ctx context.Context, rc *tree.Context) error {
			close(cancelled)
			return nil
		})
		return tree.NewErrorHandler("mission",
			tree.NewSequence("mission_steps", leaf),
			nil, []tree.Node{onCancel}, nil)
	}}
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: builder})

	if err := p.Submit(testMission("m1", "robot-1"), mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Abort("m1"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel branch never ran")
	}
	waitFor(t, "worker to settle", func() bool { return p.ActiveCount() == 0 })
	p.Stop()

	rec, err := db.FetchMission("m1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rec.Finished {
		t.Error("aborted missions are finished")
	}

	// The robot is free again.
	if err := p.Submit(testMission("m2", "robot-1"), mission.RuntimeOptions{}); err != nil {
		t.Errorf("robot should be free after abort: %v", err)
	}
}

func TestAbortPausedRunsCleanup(t *testing.T) {
	db := testDB(t)
	cancelled := make(chan struct{})
	builder := &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		leaf := newTestNode("work", func(ctx context.Context, rc *tree.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		onCancel := newTestNode("cleanup", func(ctx context.Context, rc *tree.Context) error {
			select {
			case <-cancelled:
			default:
				close(cancelled)
			}
			return nil
		})
		return tree.NewErrorHandler("mission",
			tree.NewSequence("mission_steps", leaf),
			nil, []tree.Node{onCancel}, nil)
	}}
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: builder})

	if err := p.Submit(testMission("m1", "robot-1"), mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Pause("m1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitFor(t, "worker to pause", func() bool {
		state, err := p.Get("m1")
		return err == nil && state.Paused
	})

	waitFor(t, "abort to be accepted", func() bool { return p.Abort("m1") == nil })
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel branch never ran for the paused mission")
	}
	waitFor(t, "worker to settle", func() bool { return p.ActiveCount() == 0 })
	p.Stop()

	rec, _ := db.FetchMission("m1")
	if !rec.Finished || rec.Paused {
		t.Errorf("flags = finished:%v paused:%v", rec.Finished, rec.Paused)
	}
}

func TestStartRecovery(t *testing.T) {
	db := testDB(t)

	save := func(id, robot string, finished, paused bool) {
		state := &mission.WorkerState{
			MissionID: id,
			RobotID:   robot,
			Mission:   testMission(id, robot),
			Finished:  finished,
			Paused:    paused,
		}
		if err := db.SaveMission(state); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	save("m-done", "robot-1", true, false)
	save("m-active", "robot-2", false, false)
	save("m-paused", "robot-3", false, true)

	builder := &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		return tree.NewSequence("mission_steps", newTestNode("work", nil))
	}}
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: builder})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Finished rows are purged outright.
	if _, err := db.FetchMission("m-done"); !errors.Is(err, store.ErrMissionNotFound) {
		t.Errorf("m-done should be purged: %v", err)
	}

	// The active mission resumes and runs to completion.
	waitFor(t, "recovered mission to finish", func() bool {
		rec, err := db.FetchMission("m-active")
		return err == nil && rec.Finished
	})

	// The paused mission is held idle until an operator resumes it.
	state, err := p.Get("m-paused")
	if err != nil {
		t.Fatalf("get paused: %v", err)
	}
	if !state.Paused {
		t.Error("recovered paused mission should stay paused")
	}
	if err := p.Submit(testMission("m-new", "robot-3"), mission.RuntimeOptions{}); !errors.Is(err, ErrRobotBusy) {
		t.Errorf("err = %v, paused mission must reserve its robot", err)
	}

	waitFor(t, "resume to be accepted", func() bool { return p.Resume("m-paused") == nil })
	waitFor(t, "resumed mission to finish", func() bool { return p.ActiveCount() == 0 })
	p.Stop()
}

func TestGetFallsBackToDatabase(t *testing.T) {
	db := testDB(t)
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: blockingTree(nil)})

	state := &mission.WorkerState{
		MissionID: "m-db",
		RobotID:   "robot-1",
		Mission:   testMission("m-db", "robot-1"),
		Finished:  true,
	}
	if err := db.SaveMission(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := p.Get("m-db")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MissionID != "m-db" || !got.Finished {
		t.Errorf("state = %+v", got)
	}

	if _, err := p.Get("m-nope"); !errors.Is(err, ErrMissionNotFound) {
		t.Errorf("err = %v, want ErrMissionNotFound", err)
	}
}

// Listing missions must stay safe while the run goroutine is mutating
// task progress: snapshots carry a detached mission copy.
func TestListDetachedFromRunningMission(t *testing.T) {
	db := testDB(t)
	gate := make(chan struct{})
	builder := &nodeBuilder{make: func(m *mission.Mission) tree.Node {
		leaf := newTestNode("work", func(ctx context.Context, rc *tree.Context) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-gate:
					return nil
				default:
					rc.Mission.SetTaskInProgress("0")
					rc.Mission.SetTaskCompleted("0")
				}
			}
		})
		return tree.NewSequence("mission_steps", leaf)
	}}
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: builder})

	def := mission.Definition{Steps: []mission.Step{
		&mission.WaitStep{StepMeta: mission.StepMeta{Label: "hold", CompleteTask: true}},
	}}
	m := mission.New("m-live", "robot-1", def, nil)
	if err := p.Submit(m, mission.RuntimeOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 0; i < 200; i++ {
		for _, state := range p.List() {
			if _, err := json.Marshal(state.Mission); err != nil {
				t.Fatalf("marshal listed mission: %v", err)
			}
		}
	}

	close(gate)
	waitFor(t, "mission to finish", func() bool { return p.ActiveCount() == 0 })
	p.Stop()
}

// --- Executor ---

func TestExecutorValidation(t *testing.T) {
	db := testDB(t)
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: blockingTree(nil)})
	ex := NewExecutor(p)

	if _, err := ex.ExecuteMission(&ExecuteRequest{Definition: oneStepDef()}); err == nil {
		t.Error("missing robotId should be rejected")
	}
	if _, err := ex.ExecuteMission(&ExecuteRequest{RobotID: "robot-1"}); err == nil {
		t.Error("empty step list should be rejected")
	}
}

func TestExecutorLifecycle(t *testing.T) {
	db := testDB(t)
	gate := make(chan struct{})
	p := NewPool(Config{DB: db, Translator: &identityTranslator{}, Builder: blockingTree(gate)})
	ex := NewExecutor(p)

	id, err := ex.ExecuteMission(&ExecuteRequest{RobotID: "robot-1", Definition: oneStepDef()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if id == "" {
		t.Fatal("mission id should be assigned")
	}

	if err := ex.UpdateMission(id, UpdatePause); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitFor(t, "worker to pause", func() bool {
		state, err := ex.GetMission(id)
		return err == nil && state.Paused
	})
	if err := ex.UpdateMission(id, "rewind"); err == nil {
		t.Error("unknown updates should be rejected")
	}
	waitFor(t, "resume to be accepted", func() bool { return ex.UpdateMission(id, UpdateResume) == nil })

	if err := ex.CancelMission(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, "worker to settle", func() bool { return p.ActiveCount() == 0 })
	p.Stop()

	if err := ex.CancelMission("m-unknown"); err == nil {
		t.Error("cancelling an unknown mission should fail")
	}
}

func oneStepDef() mission.Definition {
	return mission.Definition{Steps: []mission.Step{
		&mission.WaitStep{StepMeta: mission.StepMeta{Type: mission.StepTypeWait}, DurationSecs: 0},
	}}
}
