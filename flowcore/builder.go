package flowcore

import (
	"fmt"
	"strconv"
	"time"

	"missiond/mission"
	"missiond/tree"
)

// TreeBuilder assembles mission trees for this backend. Job steps get
// the create/wait pair; every other step is delegated to the generic
// builder. All cleanup branches cancel the in-flight job first.
type TreeBuilder struct {
	generic      *tree.Builder
	client       *Client
	tracker      *Tracker
	namekey      string
	pollInterval time.Duration
}

func NewTreeBuilder(client *Client, tracker *Tracker, namekey string, pollInterval time.Duration) *TreeBuilder {
	return &TreeBuilder{
		generic:      tree.NewBuilder(),
		client:       client,
		tracker:      tracker,
		namekey:      namekey,
		pollInterval: pollInterval,
	}
}

func (b *TreeBuilder) Build(m *mission.Mission, steps []mission.Step, opts mission.RuntimeOptions) (tree.Node, error) {
	seq := []tree.Node{tree.NewMissionStart()}
	for i, step := range steps {
		var nodes []tree.Node
		var err error
		switch s := step.(type) {
		case *ExecuteJobStep:
			nodes = b.jobNodes(i, s, opts)
		case *mission.IfStep:
			nodes, err = b.ifNodes(i, s, opts)
			if err != nil {
				return nil, err
			}
		default:
			nodes, err = b.generic.StepNodes(i, step, opts)
			if err != nil {
				return nil, err
			}
		}
		seq = append(seq, nodes...)
	}
	seq = append(seq,
		tree.NewMissionCompleted(),
		tree.NewUnlockRobot("unlock_final"),
	)

	return tree.NewErrorHandler("mission",
		tree.NewSequence("mission_steps", seq...),
		[]tree.Node{
			NewCleanupJobNode("cleanup_on_error", b.client, "mission error"),
			tree.NewMissionAborted(false),
			tree.NewUnlockRobot("unlock_on_error"),
		},
		[]tree.Node{
			NewCleanupJobNode("cleanup_on_cancel", b.client, "mission cancelled"),
			tree.NewMissionAborted(true),
			tree.NewUnlockRobot("unlock_on_cancel"),
		},
		[]tree.Node{
			NewCleanupJobNode("cleanup_on_pause", b.client, "mission paused"),
			tree.NewMissionPaused(),
		},
	), nil
}

// ifNodes renders a conditional step. Branch steps build through the
// backend dispatch so translated job steps inside a branch still get
// the create/wait pair.
func (b *TreeBuilder) ifNodes(index int, s *mission.IfStep, opts mission.RuntimeOptions) ([]tree.Node, error) {
	tag := strconv.Itoa(index)
	thenNodes, err := b.branchNodes(tag+"_then", s.Then)
	if err != nil {
		return nil, err
	}
	elseNodes, err := b.branchNodes(tag+"_else", s.Else)
	if err != nil {
		return nil, err
	}
	cond := s.Condition
	var node tree.Node = tree.NewIf("if_"+tag,
		func(rc *tree.Context) bool { return cond.Eval(rc.Shared) }, thenNodes, elseNodes)
	if s.TimeoutSecs != nil {
		node = tree.NewTimeout("timeout_"+tag, node, *s.TimeoutSecs)
	}

	taskID := s.TaskID
	if taskID == "" {
		taskID = tag
	}
	var nodes []tree.Node
	if opts.UseLocks {
		nodes = append(nodes, tree.NewLockRobot("lock_"+tag))
	}
	if s.CompleteTask {
		nodes = append(nodes, tree.NewTaskStarted(taskID))
	}
	nodes = append(nodes, node)
	if s.CompleteTask {
		nodes = append(nodes, tree.NewTaskCompleted(taskID))
	}
	return nodes, nil
}

func (b *TreeBuilder) branchNodes(tag string, steps []mission.Step) ([]tree.Node, error) {
	var nodes []tree.Node
	for j, step := range steps {
		jt := fmt.Sprintf("%s_%d", tag, j)
		var n tree.Node
		var err error
		switch s := step.(type) {
		case *ExecuteJobStep:
			n = tree.NewSequence("job_"+jt,
				NewCreateJobNode("create_job_"+jt, b.client, b.namekey, s),
				NewWaitForJobCompletionNode("wait_job_"+jt, b.tracker, s.JobID, b.pollInterval),
			)
		case *mission.IfStep:
			thenNodes, terr := b.branchNodes(jt+"_then", s.Then)
			if terr != nil {
				return nil, terr
			}
			elseNodes, eerr := b.branchNodes(jt+"_else", s.Else)
			if eerr != nil {
				return nil, eerr
			}
			cond := s.Condition
			n = tree.NewIf("if_"+jt,
				func(rc *tree.Context) bool { return cond.Eval(rc.Shared) }, thenNodes, elseNodes)
		default:
			n, err = b.generic.StepNode(j, step)
			if err != nil {
				return nil, err
			}
		}
		switch step.(type) {
		case *mission.WaitStep, *mission.WaitUntilStep:
		default:
			if meta := step.Meta(); meta.TimeoutSecs != nil {
				n = tree.NewTimeout("timeout_"+jt, n, *meta.TimeoutSecs)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (b *TreeBuilder) jobNodes(index int, step *ExecuteJobStep, opts mission.RuntimeOptions) []tree.Node {
	firstTask := step.FirstTaskID
	if firstTask == "" {
		firstTask = strconv.Itoa(index)
	}
	lastTask := step.LastTaskID
	if lastTask == "" {
		lastTask = firstTask
	}

	var nodes []tree.Node
	if opts.UseLocks {
		nodes = append(nodes, tree.NewLockRobot(fmt.Sprintf("lock_%d", index)))
	}
	if step.CompleteTask {
		nodes = append(nodes, tree.NewTaskStarted(firstTask))
	}

	var job tree.Node = tree.NewSequence(fmt.Sprintf("job_%d", index),
		NewCreateJobNode(fmt.Sprintf("create_job_%d", index), b.client, b.namekey, step),
		NewWaitForJobCompletionNode(fmt.Sprintf("wait_job_%d", index), b.tracker, step.JobID, b.pollInterval),
	)
	if step.TimeoutSecs != nil {
		job = tree.NewTimeout(fmt.Sprintf("timeout_%d", index), job, *step.TimeoutSecs)
	}
	nodes = append(nodes, job)

	if step.CompleteTask {
		nodes = append(nodes, tree.NewTaskCompleted(lastTask))
	}
	return nodes
}
