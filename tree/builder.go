package tree

import (
	"fmt"
	"strconv"

	"missiond/mission"
)

// Builder assembles the standard mission tree: start, per-step nodes,
// completion and unlock, all wrapped in an error handler whose
// branches abort or pause the mission and release the robot.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Build(m *mission.Mission, steps []mission.Step, opts mission.RuntimeOptions) (Node, error) {
	seq := []Node{NewMissionStart()}
	for i, step := range steps {
		nodes, err := b.StepNodes(i, step, opts)
		if err != nil {
			return nil, err
		}
		seq = append(seq, nodes...)
	}
	seq = append(seq,
		NewMissionCompleted(),
		NewUnlockRobot("unlock_final"),
	)

	return NewErrorHandler("mission",
		NewSequence("mission_steps", seq...),
		[]Node{NewMissionAborted(false), NewUnlockRobot("unlock_on_error")},
		[]Node{NewMissionAborted(true), NewUnlockRobot("unlock_on_cancel")},
		[]Node{NewMissionPaused()},
	), nil
}

// StepNodes renders one step into its node sequence: lock, task start,
// the step itself (timeout-wrapped when bounded), task completion.
func (b *Builder) StepNodes(index int, step mission.Step, opts mission.RuntimeOptions) ([]Node, error) {
	meta := step.Meta()
	taskID := meta.TaskID
	if taskID == "" {
		taskID = strconv.Itoa(index)
	}

	var nodes []Node
	if opts.UseLocks {
		nodes = append(nodes, NewLockRobot(fmt.Sprintf("lock_%d", index)))
	}
	if meta.CompleteTask {
		nodes = append(nodes, NewTaskStarted(taskID))
	}

	leaf, err := b.StepNode(index, step)
	if err != nil {
		return nil, err
	}
	// Wait nodes bound themselves; everything else gets the timeout wrapper.
	if meta.TimeoutSecs != nil && !isWait(step) {
		leaf = NewTimeout(fmt.Sprintf("timeout_%d", index), leaf, *meta.TimeoutSecs)
	}
	nodes = append(nodes, leaf)

	if meta.CompleteTask {
		nodes = append(nodes, NewTaskCompleted(taskID))
	}
	return nodes, nil
}

// StepNode builds the leaf for one step kind.
func (b *Builder) StepNode(index int, step mission.Step) (Node, error) {
	return b.stepNode(strconv.Itoa(index), step)
}

func (b *Builder) stepNode(tag string, step mission.Step) (Node, error) {
	switch s := step.(type) {
	case *mission.WaitStep:
		return NewWait("wait_"+tag, s.DurationSecs), nil
	case *mission.WaitUntilStep:
		return NewWaitUntil("wait_until_"+tag, s.Timestamp), nil
	case *mission.SetDataStep:
		return NewSetData("set_data_"+tag, s.Data), nil
	case *mission.GotoPoseStep:
		return NewGotoPose("goto_pose_"+tag, s.Waypoint), nil
	case *mission.IfStep:
		return b.ifNode(tag, s)
	case *mission.ActionStep:
		return nil, fmt.Errorf("step %s: action %q was not translated", tag, s.Action)
	default:
		return nil, fmt.Errorf("step %s: no node for step type %q", tag, step.Meta().Type)
	}
}

func (b *Builder) ifNode(tag string, s *mission.IfStep) (Node, error) {
	thenNodes, err := b.branchNodes(tag+"_then", s.Then)
	if err != nil {
		return nil, err
	}
	elseNodes, err := b.branchNodes(tag+"_else", s.Else)
	if err != nil {
		return nil, err
	}
	cond := s.Condition
	return NewIf("if_"+tag, func(rc *Context) bool { return cond.Eval(rc.Shared) }, thenNodes, elseNodes), nil
}

func (b *Builder) branchNodes(tag string, steps []mission.Step) ([]Node, error) {
	var nodes []Node
	for j, step := range steps {
		jt := fmt.Sprintf("%s_%d", tag, j)
		leaf, err := b.stepNode(jt, step)
		if err != nil {
			return nil, err
		}
		if meta := step.Meta(); meta.TimeoutSecs != nil && !isWait(step) {
			leaf = NewTimeout("timeout_"+jt, leaf, *meta.TimeoutSecs)
		}
		nodes = append(nodes, leaf)
	}
	return nodes, nil
}

func isWait(step mission.Step) bool {
	switch step.(type) {
	case *mission.WaitStep, *mission.WaitUntilStep:
		return true
	}
	return false
}
