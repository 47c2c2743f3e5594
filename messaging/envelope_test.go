package messaging

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeExecuteCommand(t *testing.T) {
	raw := `{
		"command": "executeMissionAction",
		"commandId": "cmd-1",
		"robotId": "robot-1",
		"mission": {
			"label": "delivery",
			"steps": [
				{"type":"runAction","action":"gotoGoals","args":{"goals":"A,B"},"completeTask":true}
			]
		},
		"options": {"useLocks": true}
	}`
	env, err := DecodeCommand([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Command != CommandExecuteMission || env.CommandID != "cmd-1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Mission == nil || len(env.Mission.Steps) != 1 {
		t.Fatalf("mission = %+v", env.Mission)
	}

	req := env.ExecuteRequest()
	if req.RobotID != "robot-1" {
		t.Errorf("RobotID = %q", req.RobotID)
	}
	if !req.Options.UseLocks {
		t.Error("options should carry through")
	}
}

func TestDecodeCommandAssignsID(t *testing.T) {
	env, err := DecodeCommand([]byte(`{"command":"cancelMissionAction","missionId":"m1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.CommandID == "" {
		t.Error("CommandID should be assigned when absent")
	}
}

func TestDecodeCommandValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"missing command", `{"missionId":"m1"}`, "missing command"},
		{"unknown command", `{"command":"danceAction"}`, `unknown command "danceAction"`},
		{"execute without mission", `{"command":"executeMissionAction","robotId":"r1"}`, "needs a mission definition"},
		{"cancel without id", `{"command":"cancelMissionAction"}`, "needs a missionId"},
		{"update without id", `{"command":"updateMissionAction","update":"pause"}`, "needs a missionId"},
		{"bad mission step", `{"command":"executeMissionAction","mission":{"steps":[{"durationSecs":1}]}}`, "missing type tag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestNewResult(t *testing.T) {
	env := &CommandEnvelope{Command: CommandExecuteMission, CommandID: "cmd-1"}

	res := NewResult(env, "m1", nil)
	if !res.Success || res.MissionID != "m1" || res.CommandID != "cmd-1" {
		t.Errorf("result = %+v", res)
	}
	if res.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	res = NewResult(env, "", errors.New("robot busy"))
	if res.Success || res.Error != "robot busy" {
		t.Errorf("result = %+v", res)
	}
}
