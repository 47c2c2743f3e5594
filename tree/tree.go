package tree

import (
	"context"
	"errors"
	"time"

	"missiond/mission"
)

// Status is a node's execution state. The zero value means the node
// has not run yet.
type Status string

const (
	StatusPending   Status = ""
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Sentinel outcomes a run can end with besides a plain error.
var (
	ErrCancelled = errors.New("mission cancelled")
	ErrPaused    = errors.New("mission paused")
)

// Node is one vertex of a mission behavior tree.
type Node interface {
	Name() string
	Status() Status
	SetStatus(Status)
	StartedAt() float64
	SetStartedAt(float64)
	Children() []Node
	Reset()
	Tick(ctx context.Context, rc *Context) error
}

// Emitter receives mission lifecycle events as the tree executes.
type Emitter interface {
	MissionStarted(m *mission.Mission)
	MissionCompleted(m *mission.Mission)
	MissionAborted(m *mission.Mission, ok bool)
	MissionPaused(m *mission.Mission)
	TaskStarted(m *mission.Mission, taskID string)
	TaskCompleted(m *mission.Mission, taskID string)
	JobCreated(m *mission.Mission, jobID string)
}

// Locker reserves a robot for exclusive use during a mission step.
type Locker interface {
	Lock(ctx context.Context, robotID string) error
	Unlock(ctx context.Context, robotID string) error
}

// Navigator sends a robot to a pose. Backends that only understand
// named goals leave this nil and reject gotoPose missions at runtime.
type Navigator interface {
	GotoPose(ctx context.Context, robotID string, p mission.Pose, opts mission.RuntimeOptions) error
}

// Context carries everything nodes need during a run.
type Context struct {
	Mission   *mission.Mission
	Shared    *mission.SharedMemory
	Options   mission.RuntimeOptions
	Emitter   Emitter
	Locker    Locker
	Navigator Navigator

	// PauseRequested reports whether the current cancellation is a
	// pause rather than an abort.
	PauseRequested func() bool

	// Persist, when set, is called after every node settles so the
	// run can be resumed from its last step after a crash.
	Persist func()

	// Now and Sleep are swappable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Time returns the current time through the run's clock.
func (rc *Context) Time() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

// SleepFor blocks for d or until the context ends.
func (rc *Context) SleepFor(ctx context.Context, d time.Duration) error {
	if rc.Sleep != nil {
		return rc.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (rc *Context) pauseRequested() bool {
	return rc.PauseRequested != nil && rc.PauseRequested()
}

// Run executes a node through the common state machine: skip if it
// already ran to completion, stamp the start time, tick, then classify
// the outcome. The start time persists across restarts so timeout
// deadlines keep counting from the original attempt.
func Run(ctx context.Context, rc *Context, n Node) error {
	switch n.Status() {
	case StatusSuccess, StatusError:
		return nil
	}
	if n.StartedAt() == 0 {
		n.SetStartedAt(float64(rc.Time().UnixNano()) / 1e9)
	}
	n.SetStatus(StatusRunning)
	if rc.Persist != nil {
		defer rc.Persist()
	}

	err := n.Tick(ctx, rc)
	switch {
	case err == nil:
		n.SetStatus(StatusSuccess)
		return nil
	case errors.Is(err, ErrPaused):
		n.SetStatus(StatusPaused)
		return ErrPaused
	case errors.Is(err, ErrCancelled):
		n.SetStatus(StatusCancelled)
		return ErrCancelled
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if rc.pauseRequested() {
			n.SetStatus(StatusPaused)
			return ErrPaused
		}
		n.SetStatus(StatusCancelled)
		return ErrCancelled
	default:
		n.SetStatus(StatusError)
		return err
	}
}

// Base provides the bookkeeping shared by all nodes.
type Base struct {
	name      string
	status    Status
	startedAt float64
}

func NewBase(name string) Base { return Base{name: name} }

func (b *Base) Name() string            { return b.name }
func (b *Base) Status() Status          { return b.status }
func (b *Base) SetStatus(s Status)      { b.status = s }
func (b *Base) StartedAt() float64      { return b.startedAt }
func (b *Base) SetStartedAt(ts float64) { b.startedAt = ts }
func (b *Base) Children() []Node        { return nil }

func (b *Base) Reset() {
	b.status = StatusPending
	b.startedAt = 0
}
