package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"missiond/dispatch"
	"missiond/mission"
)

// Command verbs accepted on the commands topic.
const (
	CommandExecuteMission = "executeMissionAction"
	CommandCancelMission  = "cancelMissionAction"
	CommandUpdateMission  = "updateMissionAction"
)

// CommandEnvelope is an inbound mission command.
type CommandEnvelope struct {
	Command   string                  `json:"command"`
	CommandID string                  `json:"commandId,omitempty"`
	MissionID string                  `json:"missionId,omitempty"`
	RobotID   string                  `json:"robotId,omitempty"`
	Update    string                  `json:"update,omitempty"`
	Mission   *mission.Definition     `json:"mission,omitempty"`
	Options   *mission.RuntimeOptions `json:"options,omitempty"`
	Timestamp time.Time               `json:"timestamp,omitempty"`
}

// DecodeCommand unmarshals and validates a command envelope.
func DecodeCommand(data []byte) (*CommandEnvelope, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	switch env.Command {
	case CommandExecuteMission:
		if env.Mission == nil {
			return nil, fmt.Errorf("%s needs a mission definition", env.Command)
		}
	case CommandCancelMission, CommandUpdateMission:
		if env.MissionID == "" {
			return nil, fmt.Errorf("%s needs a missionId", env.Command)
		}
	case "":
		return nil, fmt.Errorf("command envelope missing command")
	default:
		return nil, fmt.Errorf("unknown command %q", env.Command)
	}
	if env.CommandID == "" {
		env.CommandID = uuid.NewString()
	}
	return &env, nil
}

// ExecuteRequest renders the envelope for the executor.
func (env *CommandEnvelope) ExecuteRequest() *dispatch.ExecuteRequest {
	req := &dispatch.ExecuteRequest{
		MissionID:  env.MissionID,
		RobotID:    env.RobotID,
		Definition: *env.Mission,
	}
	if env.Options != nil {
		req.Options = *env.Options
	}
	return req
}

// ResultEnvelope reports a command's outcome on the results topic.
type ResultEnvelope struct {
	CommandID string    `json:"commandId"`
	Command   string    `json:"command"`
	MissionID string    `json:"missionId,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewResult(env *CommandEnvelope, missionID string, err error) *ResultEnvelope {
	res := &ResultEnvelope{
		CommandID: env.CommandID,
		Command:   env.Command,
		MissionID: missionID,
		Success:   err == nil,
		Timestamp: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
