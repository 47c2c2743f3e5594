package mission

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
)

// Mission status lifecycle.
const (
	StatusCreated   = "created"
	StatusStarting  = "starting"
	StatusExecuting = "executing"
	StatusPaused    = "paused"
	StatusAborted   = "aborted"
	StatusCompleted = "completed"
)

// Definition is the client-supplied mission: an ordered list of steps
// plus a selector describing which robot(s) may run it.
type Definition struct {
	Label    string            `json:"label,omitempty"`
	Selector map[string]string `json:"selector,omitempty"`
	Steps    []Step            `json:"steps"`
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Label    string            `json:"label"`
		Selector map[string]string `json:"selector"`
		Steps    []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Label = raw.Label
	d.Selector = raw.Selector
	d.Steps = make([]Step, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		step, err := DecodeStep(rs)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		d.Steps = append(d.Steps, step)
	}
	return nil
}

// Task tracks one completable unit of work within a mission.
type Task struct {
	TaskID     string `json:"taskId"`
	Label      string `json:"label,omitempty"`
	InProgress bool   `json:"inProgress"`
	Completed  bool   `json:"completed"`
}

// RuntimeOptions tune how a mission run behaves.
type RuntimeOptions struct {
	StartMode                 string   `json:"startMode,omitempty"`
	EndMode                   string   `json:"endMode,omitempty"`
	UseLocks                  bool     `json:"useLocks,omitempty"`
	WaypointDistanceTolerance *float64 `json:"waypointDistanceTolerance,omitempty"`
	WaypointAngleTolerance    *float64 `json:"waypointAngleTolerance,omitempty"`
}

// Mission binds a definition to a robot and tracks task progress.
type Mission struct {
	ID         string     `json:"missionId"`
	RobotID    string     `json:"robotId"`
	Definition Definition `json:"definition"`
	Tasks      []*Task    `json:"tasksList,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// New builds a mission, deriving the task list from steps flagged
// completeTask. A non-nil tasks slice is taken as-is so rehydrated
// missions keep their recorded progress.
func New(id, robotID string, def Definition, tasks []*Task) *Mission {
	m := &Mission{
		ID:         id,
		RobotID:    robotID,
		Definition: def,
		Tasks:      tasks,
		Status:     StatusCreated,
	}
	derive := m.Tasks == nil
	for i, step := range def.Steps {
		meta := step.Meta()
		if !meta.CompleteTask {
			continue
		}
		if meta.TaskID == "" {
			meta.TaskID = strconv.Itoa(i)
		}
		if derive {
			label := meta.Label
			if label == "" {
				label = meta.TaskID
			}
			m.Tasks = append(m.Tasks, &Task{TaskID: meta.TaskID, Label: label})
		}
	}
	return m
}

// Clone returns a deep copy safe to hand to readers while the
// original keeps mutating. Definition steps are immutable after
// decode, so the definition is shared.
func (m *Mission) Clone() *Mission {
	c := *m
	c.Tasks = make([]*Task, len(m.Tasks))
	for i, t := range m.Tasks {
		tc := *t
		c.Tasks[i] = &tc
	}
	return &c
}

// ActiveTaskID returns the in-progress task, or "".
func (m *Mission) ActiveTaskID() string {
	for _, t := range m.Tasks {
		if t.InProgress {
			return t.TaskID
		}
	}
	return ""
}

func (m *Mission) task(taskID string) *Task {
	for _, t := range m.Tasks {
		if t.TaskID == taskID {
			return t
		}
	}
	return nil
}

func (m *Mission) SetTaskInProgress(taskID string) {
	t := m.task(taskID)
	if t == nil {
		log.Printf("mission: %s has no task %q to start", m.ID, taskID)
		return
	}
	t.InProgress = true
}

func (m *Mission) SetTaskCompleted(taskID string) {
	t := m.task(taskID)
	if t == nil {
		log.Printf("mission: %s has no task %q to complete", m.ID, taskID)
		return
	}
	t.InProgress = false
	t.Completed = true
}
