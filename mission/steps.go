package mission

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Step type tags as they appear on the wire.
const (
	StepTypeWait      = "wait"
	StepTypeSetData   = "setData"
	StepTypeGotoPose  = "gotoPose"
	StepTypeWaitUntil = "waitUntil"
	StepTypeRunAction = "runAction"
	StepTypeIf        = "if"
)

// Condition operators for if steps.
const (
	CondEq     = "eq"
	CondNe     = "ne"
	CondExists = "exists"
)

// Pose is a target position in a named frame.
type Pose struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Theta      float64 `json:"theta"`
	FrameID    string  `json:"frameId,omitempty"`
	WaypointID string  `json:"waypointId,omitempty"`
}

// StepMeta carries the fields every step kind shares. TaskID is
// assigned when the mission derives its task list; clients may also
// supply their own.
type StepMeta struct {
	Type         string   `json:"type"`
	Label        string   `json:"label,omitempty"`
	TimeoutSecs  *float64 `json:"timeoutSecs,omitempty"`
	CompleteTask bool     `json:"completeTask,omitempty"`
	TaskID       string   `json:"taskId,omitempty"`
}

// Step is one entry in a mission definition. The concrete type is
// selected by the "type" tag; the set of kinds is closed.
type Step interface {
	Meta() *StepMeta
}

type WaitStep struct {
	StepMeta
	DurationSecs float64 `json:"durationSecs"`
}

type SetDataStep struct {
	StepMeta
	Data map[string]any `json:"data"`
}

type GotoPoseStep struct {
	StepMeta
	Waypoint Pose `json:"waypoint"`
}

type WaitUntilStep struct {
	StepMeta
	Timestamp string `json:"timestamp"`
}

type ActionStep struct {
	StepMeta
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// Condition tests a shared-memory value. Op defaults to eq.
type Condition struct {
	Key   string `json:"key"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

func (c *Condition) validate() error {
	if c.Key == "" {
		return fmt.Errorf("if step condition missing key")
	}
	switch c.Op {
	case "", CondEq, CondNe, CondExists:
		return nil
	}
	return fmt.Errorf("unknown condition op %q", c.Op)
}

// Eval tests the condition against the run's shared memory. Values are
// compared by their string forms so JSON numeric types match.
func (c *Condition) Eval(sm *SharedMemory) bool {
	v, ok := sm.Get(c.Key)
	switch c.Op {
	case CondExists:
		return ok
	case CondNe:
		return !ok || fmt.Sprint(v) != fmt.Sprint(c.Value)
	default:
		return ok && fmt.Sprint(v) == fmt.Sprint(c.Value)
	}
}

// IfStep branches on a condition: the then steps run when it holds,
// the else steps otherwise.
type IfStep struct {
	StepMeta
	Condition Condition `json:"condition"`
	Then      []Step    `json:"then"`
	Else      []Step    `json:"else,omitempty"`
}

func (s *IfStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		StepMeta
		Condition Condition         `json:"condition"`
		Then      []json.RawMessage `json:"then"`
		Else      []json.RawMessage `json:"else"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if err := raw.Condition.validate(); err != nil {
		return err
	}
	if len(raw.Then) == 0 {
		return fmt.Errorf("if step must have at least one then step")
	}
	s.StepMeta = raw.StepMeta
	s.Condition = raw.Condition
	s.Then = make([]Step, 0, len(raw.Then))
	for i, rs := range raw.Then {
		step, err := DecodeStep(rs)
		if err != nil {
			return fmt.Errorf("then step %d: %w", i, err)
		}
		s.Then = append(s.Then, step)
	}
	for i, rs := range raw.Else {
		step, err := DecodeStep(rs)
		if err != nil {
			return fmt.Errorf("else step %d: %w", i, err)
		}
		s.Else = append(s.Else, step)
	}
	return nil
}

func (s *WaitStep) Meta() *StepMeta      { return &s.StepMeta }
func (s *SetDataStep) Meta() *StepMeta   { return &s.StepMeta }
func (s *GotoPoseStep) Meta() *StepMeta  { return &s.StepMeta }
func (s *WaitUntilStep) Meta() *StepMeta { return &s.StepMeta }
func (s *ActionStep) Meta() *StepMeta    { return &s.StepMeta }
func (s *IfStep) Meta() *StepMeta        { return &s.StepMeta }

// DecodeStep unmarshals one step, dispatching on the "type" tag.
// Unknown tags and unknown fields are rejected.
func DecodeStep(data []byte) (Step, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode step: %w", err)
	}

	var step Step
	switch tag.Type {
	case StepTypeWait:
		step = &WaitStep{}
	case StepTypeSetData:
		step = &SetDataStep{}
	case StepTypeGotoPose:
		step = &GotoPoseStep{}
	case StepTypeWaitUntil:
		step = &WaitUntilStep{}
	case StepTypeRunAction:
		step = &ActionStep{}
	case StepTypeIf:
		step = &IfStep{}
	case "":
		return nil, fmt.Errorf("step missing type tag")
	default:
		return nil, fmt.Errorf("unknown step type %q", tag.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(step); err != nil {
		return nil, fmt.Errorf("decode %s step: %w", tag.Type, err)
	}
	return step, nil
}
