package flowcore

import (
	"fmt"
	"strconv"
	"strings"

	"missiond/mission"
)

// ActionGotoGoals is the only generic action this backend understands.
const ActionGotoGoals = "gotoGoals"

// PriorityParam is the setData key that overrides job priority for the
// remainder of the mission.
const PriorityParam = "flowcore_priority"

// TranslationError reports a mission that cannot be rendered for this
// backend. It reaches the caller before anything starts executing.
type TranslationError struct {
	Reason string
}

func (e *TranslationError) Error() string { return e.Reason }

// Translator rewrites generic mission steps into backend job steps.
// gotoGoals actions become ExecuteJobSteps; runs of adjacent job steps
// are batched into a single job so the robot keeps moving between
// goals. Everything else passes through for generic execution.
type Translator struct {
	defaultPriority int
}

func NewTranslator(defaultPriority int) *Translator {
	if defaultPriority == 0 {
		defaultPriority = DefaultPriority
	}
	return &Translator{defaultPriority: defaultPriority}
}

func (t *Translator) Translate(m *mission.Mission) ([]mission.Step, error) {
	return t.translate(m.ID, "", m.Definition.Steps, t.defaultPriority, make(map[string]any))
}

// translate renders one step list. Branches recurse with their own
// copies of priority and params, so a setData inside an if cannot leak
// into steps after it. The tag keeps nested job ids unique.
func (t *Translator) translate(missionID, tag string, steps []mission.Step, priority int, params map[string]any) ([]mission.Step, error) {
	var out []mission.Step
	var batch *ExecuteJobStep
	var batchFirstLabel string

	flush := func() {
		if batch == nil {
			return
		}
		if batch.Label != batchFirstLabel {
			batch.StepMeta.Label = batchFirstLabel + " → " + batch.Label
		}
		out = append(out, batch)
		batch = nil
	}

	for i, step := range steps {
		switch s := step.(type) {
		case *mission.SetDataStep:
			flush()
			for k, v := range s.Data {
				params[k] = v
			}
			if p, ok := priorityValue(params[PriorityParam]); ok {
				priority = p
			}
			out = append(out, s)

		case *mission.ActionStep:
			if s.Action != ActionGotoGoals {
				return nil, &TranslationError{Reason: fmt.Sprintf("unsupported action %q", s.Action)}
			}
			goals, err := parseGoals(s.Args)
			if err != nil {
				return nil, err
			}
			job := t.jobStep(missionID, tag, i, s, goals, priority)
			if batch == nil {
				batch = job
				batchFirstLabel = job.Label
				continue
			}
			mergeJobStep(batch, job)

		case *mission.IfStep:
			flush()
			cp := *s
			var err error
			cp.Then, err = t.translate(missionID, fmt.Sprintf("%s%dt", tag, i), s.Then, priority, copyParams(params))
			if err != nil {
				return nil, err
			}
			cp.Else, err = t.translate(missionID, fmt.Sprintf("%s%de", tag, i), s.Else, priority, copyParams(params))
			if err != nil {
				return nil, err
			}
			out = append(out, &cp)

		default:
			flush()
			out = append(out, step)
		}
	}
	flush()
	return out, nil
}

func (t *Translator) jobStep(missionID, tag string, index int, src *mission.ActionStep, goals []string, priority int) *ExecuteJobStep {
	label := goals[0]
	if len(goals) > 1 {
		label = fmt.Sprintf("Navigate through %d goals", len(goals))
	}
	taskID := src.TaskID
	return &ExecuteJobStep{
		StepMeta: mission.StepMeta{
			Type:         StepTypeExecuteJob,
			Label:        label,
			TimeoutSecs:  src.TimeoutSecs,
			CompleteTask: src.CompleteTask,
			TaskID:       taskID,
		},
		JobID:       fmt.Sprintf("%s_%s%d", missionID, tag, index),
		Goals:       goals,
		Priority:    priority,
		FirstTaskID: taskID,
		LastTaskID:  taskID,
	}
}

// mergeJobStep folds the next job step into the running batch. The
// batch keeps the first step's job id and priority; timeouts are
// summed only when every merged step carried one.
func mergeJobStep(batch, next *ExecuteJobStep) {
	batch.Goals = append(batch.Goals, next.Goals...)
	if batch.TimeoutSecs != nil && next.TimeoutSecs != nil {
		sum := *batch.TimeoutSecs + *next.TimeoutSecs
		batch.TimeoutSecs = &sum
	} else {
		batch.TimeoutSecs = nil
	}
	if next.CompleteTask {
		batch.CompleteTask = true
		if batch.FirstTaskID == "" {
			batch.FirstTaskID = next.FirstTaskID
			batch.TaskID = next.FirstTaskID
		}
		batch.LastTaskID = next.LastTaskID
	}
	batch.StepMeta.Label = next.Label
}

func parseGoals(args map[string]any) ([]string, error) {
	raw, ok := args["goals"].(string)
	if !ok {
		return nil, &TranslationError{Reason: "gotoGoals action must have argument 'goals' as a comma-separated string of goal names"}
	}
	var goals []string
	for _, g := range strings.Split(raw, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			goals = append(goals, g)
		}
	}
	if len(goals) == 0 {
		return nil, &TranslationError{Reason: "gotoGoals action must have at least one non-empty goal name"}
	}
	return goals, nil
}

func copyParams(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func priorityValue(v any) (int, bool) {
	switch p := v.(type) {
	case int:
		return p, true
	case float64:
		return int(p), true
	case string:
		if n, err := strconv.Atoi(p); err == nil {
			return n, true
		}
	}
	return 0, false
}
