package flowcore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"missiond/tree"
)

// Shared memory keys the job nodes publish for each other and for
// cleanup after a restart.
const (
	KeyJobID        = "flowcore_job_id"
	KeyNamekey      = "flowcore_namekey"
	KeyJobStatus    = "flowcore_job_status"
	KeyErrorMessage = "flowcore_error_message"
)

// DefaultPollInterval paces the job completion poll loop.
const DefaultPollInterval = 1 * time.Second

// CreateJobNode submits the job for one translated step and records
// its identifiers in shared memory so later nodes (and cleanup after a
// restart) can find it.
type CreateJobNode struct {
	tree.Base
	client  *Client
	namekey string
	step    *ExecuteJobStep
}

func NewCreateJobNode(name string, client *Client, namekeyBase string, step *ExecuteJobStep) *CreateJobNode {
	return &CreateJobNode{
		Base:    tree.NewBase(name),
		client:  client,
		namekey: fmt.Sprintf("%s_%s", namekeyBase, uuid.NewString()),
		step:    step,
	}
}

func (n *CreateJobNode) Tick(_ context.Context, rc *tree.Context) error {
	req := NewJobRequest(n.namekey, n.step)
	details, err := n.client.CreateJob(req)
	if err != nil {
		return fmt.Errorf("create job %s: %w", n.step.JobID, err)
	}
	if err := rc.Shared.Set(KeyJobID, n.step.JobID); err != nil {
		return err
	}
	if err := rc.Shared.Set(KeyNamekey, n.namekey); err != nil {
		return err
	}
	if rc.Emitter != nil {
		rc.Emitter.JobCreated(rc.Mission, n.step.JobID)
	}
	log.Printf("flowcore: job %s created for robot %s (%d goals, status %s)",
		n.step.JobID, rc.Mission.RobotID, len(n.step.Goals), details.Status)
	return nil
}

// WaitForJobCompletionNode polls the tracker until the job reaches a
// terminal status. Transient fetch errors keep the loop going; the
// surrounding timeout bounds how long that can last.
type WaitForJobCompletionNode struct {
	tree.Base
	tracker      *Tracker
	jobID        string
	pollInterval time.Duration
}

func NewWaitForJobCompletionNode(name string, tracker *Tracker, jobID string, pollInterval time.Duration) *WaitForJobCompletionNode {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &WaitForJobCompletionNode{
		Base:         tree.NewBase(name),
		tracker:      tracker,
		jobID:        jobID,
		pollInterval: pollInterval,
	}
}

func (n *WaitForJobCompletionNode) Tick(ctx context.Context, rc *tree.Context) error {
	for {
		state, err := n.tracker.GetJobState(n.jobID)
		if err != nil {
			log.Printf("flowcore: job %s status poll: %v", n.jobID, err)
		} else {
			if err := rc.Shared.Set(KeyJobStatus, state.Status); err != nil {
				return err
			}
			switch state.Status {
			case StatusCompleted:
				n.tracker.Forget(n.jobID)
				return nil
			case StatusFailed, StatusCancelled, StatusCanceled, StatusInterrupted:
				n.tracker.Forget(n.jobID)
				// The job failure below outranks a frozen store.
				if err := rc.Shared.Set(KeyErrorMessage, state.ErrorMessage); err != nil {
					log.Printf("flowcore: job %s record error message: %v", n.jobID, err)
				}
				if state.ErrorMessage != "" {
					return fmt.Errorf("job %s %s: %s", n.jobID, strings.ToLower(state.Status), state.ErrorMessage)
				}
				return fmt.Errorf("job %s %s", n.jobID, strings.ToLower(state.Status))
			}
		}
		if err := rc.SleepFor(ctx, n.pollInterval); err != nil {
			return err
		}
	}
}

// CleanupJobNode cancels the in-flight job when a mission ends early.
// Cancellation goes by robot name when the mission is bound to one,
// otherwise by the namekey recorded at job creation. Runs on handler
// branches, so it must succeed when there is nothing to cancel.
type CleanupJobNode struct {
	tree.Base
	client *Client
	reason string
}

func NewCleanupJobNode(name string, client *Client, reason string) *CleanupJobNode {
	return &CleanupJobNode{Base: tree.NewBase(name), client: client, reason: reason}
}

func (n *CleanupJobNode) Tick(_ context.Context, rc *tree.Context) error {
	jobID := rc.Shared.GetString(KeyJobID)
	if jobID == "" {
		return nil
	}
	if status := rc.Shared.GetString(KeyJobStatus); IsTerminalStatus(status) {
		return nil
	}
	if robot := rc.Mission.RobotID; robot != "" {
		if err := n.client.CancelJobByRobot(robot, n.reason); err == nil {
			log.Printf("flowcore: cancelled job %s via robot %s (%s)", jobID, robot, n.reason)
			return nil
		} else {
			log.Printf("flowcore: cancel job %s via robot %s failed: %v", jobID, robot, err)
		}
	}
	namekey := rc.Shared.GetString(KeyNamekey)
	if namekey == "" {
		return nil
	}
	if err := n.client.CancelJobByNamekey(namekey, jobID, n.reason); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	log.Printf("flowcore: cancelled job %s via namekey (%s)", jobID, n.reason)
	return nil
}
