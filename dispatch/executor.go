package dispatch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"missiond/flowcore"
	"missiond/mission"
)

// Mission update verbs.
const (
	UpdatePause  = "pause"
	UpdateResume = "resume"
)

// ExecuteRequest is an inbound request to run a mission.
type ExecuteRequest struct {
	MissionID  string                 `json:"missionId,omitempty"`
	RobotID    string                 `json:"robotId"`
	Definition mission.Definition     `json:"definition"`
	Options    mission.RuntimeOptions `json:"options,omitempty"`
}

// Executor is the command surface over the pool. It owns request
// validation and maps pool errors to operator-facing messages.
type Executor struct {
	pool *Pool
}

func NewExecutor(pool *Pool) *Executor {
	return &Executor{pool: pool}
}

// ExecuteMission validates and submits a mission, returning its id.
func (e *Executor) ExecuteMission(req *ExecuteRequest) (string, error) {
	if req.RobotID == "" {
		return "", fmt.Errorf("mission needs a robotId")
	}
	if len(req.Definition.Steps) == 0 {
		return "", fmt.Errorf("mission definition has no steps")
	}
	id := req.MissionID
	if id == "" {
		id = uuid.NewString()
	}
	m := mission.New(id, req.RobotID, req.Definition, nil)
	if err := e.pool.Submit(m, req.Options); err != nil {
		return "", e.describe(id, err)
	}
	return id, nil
}

// CancelMission aborts a running or paused mission.
func (e *Executor) CancelMission(missionID string) error {
	if err := e.pool.Abort(missionID); err != nil {
		return e.describe(missionID, err)
	}
	return nil
}

// UpdateMission applies a pause or resume to a mission.
func (e *Executor) UpdateMission(missionID, update string) error {
	var err error
	switch update {
	case UpdatePause:
		err = e.pool.Pause(missionID)
	case UpdateResume:
		err = e.pool.Resume(missionID)
	default:
		return fmt.Errorf("unknown mission update %q", update)
	}
	if err != nil {
		return e.describe(missionID, err)
	}
	return nil
}

// GetMission returns the current worker state for a mission.
func (e *Executor) GetMission(missionID string) (*mission.WorkerState, error) {
	state, err := e.pool.Get(missionID)
	if err != nil {
		return nil, e.describe(missionID, err)
	}
	return state, nil
}

// ListMissions returns the states of all live missions.
func (e *Executor) ListMissions() []*mission.WorkerState {
	return e.pool.List()
}

func (e *Executor) describe(missionID string, err error) error {
	var te *flowcore.TranslationError
	switch {
	case errors.As(err, &te):
		return fmt.Errorf("mission cannot run on this fleet: %w", te)
	case errors.Is(err, ErrRobotBusy):
		return fmt.Errorf("mission %s rejected: %w", missionID, err)
	case errors.Is(err, ErrMissionNotFound):
		return fmt.Errorf("mission %s: %w", missionID, err)
	case errors.Is(err, ErrInvalidMissionState):
		return fmt.Errorf("mission %s: %w", missionID, err)
	default:
		return err
	}
}
