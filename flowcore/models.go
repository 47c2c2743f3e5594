package flowcore

import (
	"strings"

	"missiond/mission"
)

// Canonical job statuses reported by the fleet manager. Anything the
// API sends outside this set is passed through verbatim.
const (
	StatusQueued      = "Queued"
	StatusPending     = "Pending"
	StatusInProgress  = "InProgress"
	StatusWaiting     = "Waiting"
	StatusCompleted   = "Completed"
	StatusFailed      = "Failed"
	StatusCancelled   = "Cancelled"
	StatusCanceled    = "Canceled"
	StatusInterrupted = "Interrupted"
	StatusUnknown     = "Unknown"
)

var canonicalStatuses = []string{
	StatusQueued,
	StatusPending,
	StatusInProgress,
	StatusWaiting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusCanceled,
	StatusInterrupted,
	StatusUnknown,
}

// NormalizeStatus maps a raw API status onto the canonical spelling,
// case-insensitively. Unrecognized values come back unchanged.
func NormalizeStatus(raw string) string {
	for _, s := range canonicalStatuses {
		if strings.EqualFold(raw, s) {
			return s
		}
	}
	return raw
}

// IsTerminalStatus reports whether a job status will never change again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCanceled, StatusInterrupted:
		return true
	}
	return false
}

const DefaultPriority = 10

// JobRequestDetail is one pickup or dropoff segment of a job.
type JobRequestDetail struct {
	PickupGoal  string `json:"pickupGoal,omitempty"`
	DropoffGoal string `json:"dropoffGoal,omitempty"`
	Priority    int    `json:"priority"`
}

// JobRequest creates a transport job in the fleet manager.
type JobRequest struct {
	Namekey         string             `json:"namekey"`
	JobID           string             `json:"jobId"`
	DefaultPriority int                `json:"defaultPriority"`
	Details         []JobRequestDetail `json:"details"`
}

// NewJobRequest renders a translated job step into the wire request:
// the first goal is the pickup, each remaining goal a dropoff.
func NewJobRequest(namekey string, step *ExecuteJobStep) JobRequest {
	priority := step.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	req := JobRequest{
		Namekey:         namekey,
		JobID:           step.JobID,
		DefaultPriority: priority,
		Details:         []JobRequestDetail{{PickupGoal: step.Goals[0], Priority: priority}},
	}
	for _, goal := range step.Goals[1:] {
		req.Details = append(req.Details, JobRequestDetail{DropoffGoal: goal, Priority: priority})
	}
	return req
}

// JobDetails is the fleet manager's view of a job.
type JobDetails struct {
	JobID        string `json:"jobId"`
	Namekey      string `json:"namekey"`
	Status       string `json:"status"`
	RobotName    string `json:"robotName,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type JobCancelByRobotName struct {
	RobotName    string `json:"robotName"`
	CancelReason string `json:"cancelReason,omitempty"`
}

type JobCancelByNamekey struct {
	Namekey      string `json:"namekey"`
	JobID        string `json:"jobId,omitempty"`
	CancelReason string `json:"cancelReason,omitempty"`
}

// Step type tag for translated job steps. Never parsed from client
// JSON; only the translator produces these.
const StepTypeExecuteJob = "executeFlowcoreJob"

// ExecuteJobStep is the vendor step a gotoGoals action translates to.
type ExecuteJobStep struct {
	mission.StepMeta
	JobID       string   `json:"jobId"`
	Goals       []string `json:"goals"`
	Priority    int      `json:"priority"`
	FirstTaskID string   `json:"firstTaskId,omitempty"`
	LastTaskID  string   `json:"lastTaskId,omitempty"`
}

func (s *ExecuteJobStep) Meta() *mission.StepMeta { return &s.StepMeta }
