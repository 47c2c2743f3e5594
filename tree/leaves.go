package tree

import (
	"context"
	"fmt"
	"time"

	"missiond/mission"
)

// MissionStart flips the mission to executing and announces it.
type MissionStart struct {
	Base
}

func NewMissionStart() *MissionStart {
	return &MissionStart{Base: NewBase("mission_start")}
}

func (n *MissionStart) Tick(_ context.Context, rc *Context) error {
	rc.Mission.Status = mission.StatusExecuting
	if rc.Emitter != nil {
		rc.Emitter.MissionStarted(rc.Mission)
	}
	return nil
}

// MissionCompleted marks the mission finished successfully.
type MissionCompleted struct {
	Base
}

func NewMissionCompleted() *MissionCompleted {
	return &MissionCompleted{Base: NewBase("mission_completed")}
}

func (n *MissionCompleted) Tick(_ context.Context, rc *Context) error {
	rc.Mission.Status = mission.StatusCompleted
	if rc.Emitter != nil {
		rc.Emitter.MissionCompleted(rc.Mission)
	}
	return nil
}

// MissionAborted marks the mission aborted and freezes shared memory.
// OK distinguishes an operator cancel from a failure.
type MissionAborted struct {
	Base
	OK bool
}

func NewMissionAborted(ok bool) *MissionAborted {
	name := "mission_aborted"
	if ok {
		name = "mission_cancelled"
	}
	return &MissionAborted{Base: NewBase(name), OK: ok}
}

func (n *MissionAborted) Tick(_ context.Context, rc *Context) error {
	rc.Mission.Status = mission.StatusAborted
	if rc.Emitter != nil {
		rc.Emitter.MissionAborted(rc.Mission, n.OK)
	}
	rc.Shared.Freeze()
	return nil
}

// MissionPaused marks the mission paused. The worker stays resumable.
type MissionPaused struct {
	Base
}

func NewMissionPaused() *MissionPaused {
	return &MissionPaused{Base: NewBase("mission_paused")}
}

func (n *MissionPaused) Tick(_ context.Context, rc *Context) error {
	rc.Mission.Status = mission.StatusPaused
	if rc.Emitter != nil {
		rc.Emitter.MissionPaused(rc.Mission)
	}
	return nil
}

// TaskStarted flags a mission task in progress.
type TaskStarted struct {
	Base
	TaskID string
}

func NewTaskStarted(taskID string) *TaskStarted {
	return &TaskStarted{Base: NewBase("task_started_" + taskID), TaskID: taskID}
}

func (n *TaskStarted) Tick(_ context.Context, rc *Context) error {
	rc.Mission.SetTaskInProgress(n.TaskID)
	if rc.Emitter != nil {
		rc.Emitter.TaskStarted(rc.Mission, n.TaskID)
	}
	return nil
}

// TaskCompleted flags a mission task done.
type TaskCompleted struct {
	Base
	TaskID string
}

func NewTaskCompleted(taskID string) *TaskCompleted {
	return &TaskCompleted{Base: NewBase("task_completed_" + taskID), TaskID: taskID}
}

func (n *TaskCompleted) Tick(_ context.Context, rc *Context) error {
	rc.Mission.SetTaskCompleted(n.TaskID)
	if rc.Emitter != nil {
		rc.Emitter.TaskCompleted(rc.Mission, n.TaskID)
	}
	return nil
}

// LockRobot reserves the robot. A no-op unless the run opted into locks.
type LockRobot struct {
	Base
}

func NewLockRobot(name string) *LockRobot {
	return &LockRobot{Base: NewBase(name)}
}

func (n *LockRobot) Tick(ctx context.Context, rc *Context) error {
	if !rc.Options.UseLocks || rc.Locker == nil {
		return nil
	}
	return rc.Locker.Lock(ctx, rc.Mission.RobotID)
}

// UnlockRobot releases the robot. A no-op unless the run opted into locks.
type UnlockRobot struct {
	Base
}

func NewUnlockRobot(name string) *UnlockRobot {
	return &UnlockRobot{Base: NewBase(name)}
}

func (n *UnlockRobot) Tick(ctx context.Context, rc *Context) error {
	if !rc.Options.UseLocks || rc.Locker == nil {
		return nil
	}
	return rc.Locker.Unlock(ctx, rc.Mission.RobotID)
}

// Wait sleeps for a fixed duration.
type Wait struct {
	Base
	DurationSecs float64
}

func NewWait(name string, durationSecs float64) *Wait {
	return &Wait{Base: NewBase(name), DurationSecs: durationSecs}
}

func (n *Wait) Tick(ctx context.Context, rc *Context) error {
	return rc.SleepFor(ctx, time.Duration(n.DurationSecs*float64(time.Second)))
}

// WaitUntil sleeps until an absolute RFC 3339 timestamp. Timestamps in
// the past succeed immediately.
type WaitUntil struct {
	Base
	Timestamp string
}

func NewWaitUntil(name, timestamp string) *WaitUntil {
	return &WaitUntil{Base: NewBase(name), Timestamp: timestamp}
}

func (n *WaitUntil) Tick(ctx context.Context, rc *Context) error {
	target, err := time.Parse(time.RFC3339, n.Timestamp)
	if err != nil {
		return fmt.Errorf("waitUntil timestamp %q: %w", n.Timestamp, err)
	}
	return rc.SleepFor(ctx, target.Sub(rc.Time()))
}

// SetData writes values into the run's shared memory.
type SetData struct {
	Base
	Data map[string]any
}

func NewSetData(name string, data map[string]any) *SetData {
	return &SetData{Base: NewBase(name), Data: data}
}

func (n *SetData) Tick(_ context.Context, rc *Context) error {
	for k, v := range n.Data {
		if err := rc.Shared.Set(k, v); err != nil {
			return fmt.Errorf("set %q: %w", k, err)
		}
	}
	return nil
}

// GotoPose drives the robot to a pose through the backend navigator.
type GotoPose struct {
	Base
	Pose mission.Pose
}

func NewGotoPose(name string, p mission.Pose) *GotoPose {
	return &GotoPose{Base: NewBase(name), Pose: p}
}

func (n *GotoPose) Tick(ctx context.Context, rc *Context) error {
	if rc.Navigator == nil {
		return fmt.Errorf("gotoPose is not supported by this fleet backend")
	}
	return rc.Navigator.GotoPose(ctx, rc.Mission.RobotID, n.Pose, rc.Options)
}
