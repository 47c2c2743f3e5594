package robotstate

import "time"

// RobotState is the cached execution snapshot for one robot.
type RobotState struct {
	RobotID    string    `json:"robotId"`
	MissionID  string    `json:"missionId,omitempty"`
	Status     string    `json:"status,omitempty"`
	ActiveTask string    `json:"activeTask,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
