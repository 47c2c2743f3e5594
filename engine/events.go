package engine

const (
	EventMissionSubmitted EventType = iota + 1
	EventMissionStarted
	EventMissionCompleted
	EventMissionAborted
	EventMissionPaused
	EventMissionResumed
	EventTaskStarted
	EventTaskCompleted
	EventJobCreated
	EventFleetConnected
	EventFleetDisconnected
	EventMessagingConnected
	EventMessagingDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventMissionSubmitted:
		return "mission_submitted"
	case EventMissionStarted:
		return "mission_started"
	case EventMissionCompleted:
		return "mission_completed"
	case EventMissionAborted:
		return "mission_aborted"
	case EventMissionPaused:
		return "mission_paused"
	case EventMissionResumed:
		return "mission_resumed"
	case EventTaskStarted:
		return "task_started"
	case EventTaskCompleted:
		return "task_completed"
	case EventJobCreated:
		return "job_created"
	case EventFleetConnected:
		return "fleet_connected"
	case EventFleetDisconnected:
		return "fleet_disconnected"
	case EventMessagingConnected:
		return "messaging_connected"
	case EventMessagingDisconnected:
		return "messaging_disconnected"
	}
	return "unknown"
}

// --- Event payloads ---

type MissionEvent struct {
	MissionID string `json:"missionId"`
	RobotID   string `json:"robotId"`
	Status    string `json:"status"`
	// OK distinguishes an operator cancel from a failure on aborts.
	OK bool `json:"ok,omitempty"`
}

type TaskEvent struct {
	MissionID string `json:"missionId"`
	RobotID   string `json:"robotId"`
	TaskID    string `json:"taskId"`
}

type JobEvent struct {
	MissionID string `json:"missionId"`
	RobotID   string `json:"robotId"`
	JobID     string `json:"jobId"`
}

type ConnectionEvent struct {
	Detail string `json:"detail"`
}
