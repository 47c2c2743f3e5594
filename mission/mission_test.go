package mission

import (
	"encoding/json"
	"strings"
	"testing"
)

// --- Step decoding ---

func TestDecodeStepKinds(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"wait", `{"type":"wait","durationSecs":2.5}`, StepTypeWait},
		{"setData", `{"type":"setData","data":{"k":"v"}}`, StepTypeSetData},
		{"gotoPose", `{"type":"gotoPose","waypoint":{"x":1,"y":2,"theta":0.5}}`, StepTypeGotoPose},
		{"waitUntil", `{"type":"waitUntil","timestamp":"2026-01-02T15:04:05Z"}`, StepTypeWaitUntil},
		{"runAction", `{"type":"runAction","action":"gotoGoals","args":{"goals":"A,B"}}`, StepTypeRunAction},
		{"if", `{"type":"if","condition":{"key":"mode","value":"fast"},"then":[{"type":"wait","durationSecs":1}]}`, StepTypeIf},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, err := DecodeStep([]byte(tc.json))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if step.Meta().Type != tc.want {
				t.Errorf("Type = %q, want %q", step.Meta().Type, tc.want)
			}
		})
	}
}

func TestDecodeStepFields(t *testing.T) {
	step, err := DecodeStep([]byte(`{"type":"wait","durationSecs":3,"label":"cool down","timeoutSecs":10,"completeTask":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, ok := step.(*WaitStep)
	if !ok {
		t.Fatalf("step is %T, want *WaitStep", step)
	}
	if w.DurationSecs != 3 {
		t.Errorf("DurationSecs = %v, want 3", w.DurationSecs)
	}
	if w.Label != "cool down" {
		t.Errorf("Label = %q", w.Label)
	}
	if w.TimeoutSecs == nil || *w.TimeoutSecs != 10 {
		t.Errorf("TimeoutSecs = %v, want 10", w.TimeoutSecs)
	}
	if !w.CompleteTask {
		t.Error("CompleteTask should be true")
	}
}

func TestDecodeStepMissingType(t *testing.T) {
	_, err := DecodeStep([]byte(`{"durationSecs":1}`))
	if err == nil || !strings.Contains(err.Error(), "missing type tag") {
		t.Fatalf("err = %v, want missing type tag", err)
	}
}

func TestDecodeStepUnknownType(t *testing.T) {
	_, err := DecodeStep([]byte(`{"type":"teleport"}`))
	if err == nil || !strings.Contains(err.Error(), `unknown step type "teleport"`) {
		t.Fatalf("err = %v, want unknown step type", err)
	}
}

func TestDecodeStepUnknownField(t *testing.T) {
	_, err := DecodeStep([]byte(`{"type":"wait","durationSecs":1,"bogus":true}`))
	if err == nil {
		t.Fatal("unknown fields should be rejected")
	}
}

func TestDecodeIfStep(t *testing.T) {
	raw := `{"type":"if","label":"branch","condition":{"key":"mode","op":"eq","value":"fast"},
		"then":[{"type":"wait","durationSecs":1},{"type":"setData","data":{"k":"v"}}],
		"else":[{"type":"wait","durationSecs":5}]}`
	step, err := DecodeStep([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s, ok := step.(*IfStep)
	if !ok {
		t.Fatalf("step is %T, want *IfStep", step)
	}
	if s.Condition.Key != "mode" || s.Condition.Value != "fast" {
		t.Errorf("Condition = %+v", s.Condition)
	}
	if len(s.Then) != 2 || len(s.Else) != 1 {
		t.Fatalf("Then/Else = %d/%d, want 2/1", len(s.Then), len(s.Else))
	}
	if _, ok := s.Then[1].(*SetDataStep); !ok {
		t.Errorf("Then[1] is %T, want *SetDataStep", s.Then[1])
	}
}

func TestDecodeIfStepValidation(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"missing key", `{"type":"if","condition":{"value":1},"then":[{"type":"wait","durationSecs":1}]}`, "condition missing key"},
		{"unknown op", `{"type":"if","condition":{"key":"k","op":"gt","value":1},"then":[{"type":"wait","durationSecs":1}]}`, `unknown condition op "gt"`},
		{"empty then", `{"type":"if","condition":{"key":"k"},"then":[]}`, "at least one then step"},
		{"bad nested step", `{"type":"if","condition":{"key":"k"},"then":[{"type":"teleport"}]}`, "then step 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeStep([]byte(tc.json))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	sm := NewSharedMemory()
	sm.Set("mode", "fast")
	sm.Set("count", float64(3))

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq match", Condition{Key: "mode", Op: CondEq, Value: "fast"}, true},
		{"eq default op", Condition{Key: "mode", Value: "fast"}, true},
		{"eq miss", Condition{Key: "mode", Value: "slow"}, false},
		{"eq absent key", Condition{Key: "nope", Value: "x"}, false},
		{"numeric forms match", Condition{Key: "count", Value: 3}, true},
		{"ne", Condition{Key: "mode", Op: CondNe, Value: "slow"}, true},
		{"ne absent key", Condition{Key: "nope", Op: CondNe, Value: "x"}, true},
		{"exists", Condition{Key: "count", Op: CondExists}, true},
		{"exists absent", Condition{Key: "nope", Op: CondExists}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Eval(sm); got != tc.want {
				t.Errorf("Eval = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDefinitionUnmarshal(t *testing.T) {
	raw := `{
		"label": "delivery run",
		"selector": {"fleet": "amr"},
		"steps": [
			{"type":"setData","data":{"flowcore_priority":20}},
			{"type":"runAction","action":"gotoGoals","args":{"goals":"Pickup,Dropoff"},"completeTask":true},
			{"type":"wait","durationSecs":1}
		]
	}`
	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if def.Label != "delivery run" {
		t.Errorf("Label = %q", def.Label)
	}
	if def.Selector["fleet"] != "amr" {
		t.Errorf("Selector = %v", def.Selector)
	}
	if len(def.Steps) != 3 {
		t.Fatalf("Steps = %d, want 3", len(def.Steps))
	}
	if _, ok := def.Steps[1].(*ActionStep); !ok {
		t.Errorf("step 1 is %T, want *ActionStep", def.Steps[1])
	}
}

func TestDefinitionUnmarshalBadStep(t *testing.T) {
	raw := `{"steps":[{"type":"wait","durationSecs":1},{"durationSecs":2}]}`
	var def Definition
	err := json.Unmarshal([]byte(raw), &def)
	if err == nil || !strings.Contains(err.Error(), "step 1:") {
		t.Fatalf("err = %v, want step index in error", err)
	}
}

// --- Mission tasks ---

func defWithTaskSteps(t *testing.T) Definition {
	t.Helper()
	raw := `{"steps":[
		{"type":"wait","durationSecs":1},
		{"type":"runAction","action":"gotoGoals","args":{"goals":"A"},"completeTask":true,"label":"go to A"},
		{"type":"runAction","action":"gotoGoals","args":{"goals":"B"},"completeTask":true}
	]}`
	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return def
}

func TestNewDerivesTasks(t *testing.T) {
	m := New("m1", "robot-1", defWithTaskSteps(t), nil)

	if len(m.Tasks) != 2 {
		t.Fatalf("Tasks = %d, want 2", len(m.Tasks))
	}
	if m.Tasks[0].TaskID != "1" || m.Tasks[1].TaskID != "2" {
		t.Errorf("TaskIDs = %q, %q, want step indices", m.Tasks[0].TaskID, m.Tasks[1].TaskID)
	}
	if m.Tasks[0].Label != "go to A" {
		t.Errorf("Label = %q, want step label", m.Tasks[0].Label)
	}
	if m.Tasks[1].Label != "2" {
		t.Errorf("Label = %q, want task id fallback", m.Tasks[1].Label)
	}
	if m.Status != StatusCreated {
		t.Errorf("Status = %q, want %q", m.Status, StatusCreated)
	}
	// Step metadata carries the assigned task ids for later rebuilds.
	if m.Definition.Steps[1].Meta().TaskID != "1" {
		t.Errorf("step TaskID = %q, want 1", m.Definition.Steps[1].Meta().TaskID)
	}
}

func TestNewKeepsSuppliedTasks(t *testing.T) {
	tasks := []*Task{{TaskID: "1", Completed: true}, {TaskID: "2"}}
	m := New("m1", "robot-1", defWithTaskSteps(t), tasks)
	if len(m.Tasks) != 2 {
		t.Fatalf("Tasks = %d, want 2", len(m.Tasks))
	}
	if !m.Tasks[0].Completed {
		t.Error("supplied task progress should be kept")
	}
}

func TestTaskProgress(t *testing.T) {
	m := New("m1", "robot-1", defWithTaskSteps(t), nil)

	if got := m.ActiveTaskID(); got != "" {
		t.Errorf("ActiveTaskID = %q, want empty", got)
	}
	m.SetTaskInProgress("1")
	if got := m.ActiveTaskID(); got != "1" {
		t.Errorf("ActiveTaskID = %q, want 1", got)
	}
	m.SetTaskCompleted("1")
	if m.Tasks[0].InProgress {
		t.Error("completed task should not still be in progress")
	}
	if !m.Tasks[0].Completed {
		t.Error("task should be completed")
	}

	// Unknown ids are a logged no-op.
	m.SetTaskInProgress("99")
	m.SetTaskCompleted("99")
}

func TestCloneDetachesTasks(t *testing.T) {
	m := New("m1", "robot-1", defWithTaskSteps(t), nil)
	c := m.Clone()

	m.SetTaskInProgress("1")
	m.Status = StatusExecuting

	if c.Tasks[0].InProgress {
		t.Error("clone task progressed with the original")
	}
	if c.Status != StatusCreated {
		t.Errorf("clone status = %q, want created", c.Status)
	}
	if len(c.Tasks) != len(m.Tasks) {
		t.Errorf("clone has %d tasks, want %d", len(c.Tasks), len(m.Tasks))
	}
}

// --- Shared memory ---

func TestSharedMemory(t *testing.T) {
	sm := NewSharedMemory()
	if err := sm.Set("job", "j-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := sm.GetString("job"); got != "j-1" {
		t.Errorf("GetString = %q", got)
	}
	if got := sm.GetString("absent"); got != "" {
		t.Errorf("GetString(absent) = %q", got)
	}

	snap := sm.Snapshot()
	if snap["job"] != "j-1" {
		t.Errorf("Snapshot = %v", snap)
	}
	snap["job"] = "mutated"
	if got := sm.GetString("job"); got != "j-1" {
		t.Error("snapshot must be a copy")
	}

	sm.Freeze()
	if err := sm.Set("late", 1); err != ErrFrozen {
		t.Errorf("Set after freeze = %v, want ErrFrozen", err)
	}
	if got := sm.GetString("job"); got != "j-1" {
		t.Error("reads still work after freeze")
	}

	restored := RestoreSharedMemory(sm.Snapshot())
	if got := restored.GetString("job"); got != "j-1" {
		t.Errorf("restored = %q", got)
	}
	if err := restored.Set("more", 2); err != nil {
		t.Errorf("restored memory should be writable: %v", err)
	}
}
