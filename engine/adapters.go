package engine

import (
	"missiond/mission"
)

// treeEmitter bridges the behavior tree's emitter interface to the EventBus.
type treeEmitter struct {
	bus *EventBus
}

func (e *treeEmitter) MissionStarted(m *mission.Mission) {
	e.bus.Emit(EventMissionStarted, MissionEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		Status:    m.Status,
	})
}

func (e *treeEmitter) MissionCompleted(m *mission.Mission) {
	e.bus.Emit(EventMissionCompleted, MissionEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		Status:    m.Status,
	})
}

func (e *treeEmitter) MissionAborted(m *mission.Mission, ok bool) {
	e.bus.Emit(EventMissionAborted, MissionEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		Status:    m.Status,
		OK:        ok,
	})
}

func (e *treeEmitter) MissionPaused(m *mission.Mission) {
	e.bus.Emit(EventMissionPaused, MissionEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		Status:    m.Status,
	})
}

func (e *treeEmitter) TaskStarted(m *mission.Mission, taskID string) {
	e.bus.Emit(EventTaskStarted, TaskEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		TaskID:    taskID,
	})
}

func (e *treeEmitter) TaskCompleted(m *mission.Mission, taskID string) {
	e.bus.Emit(EventTaskCompleted, TaskEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		TaskID:    taskID,
	})
}

func (e *treeEmitter) JobCreated(m *mission.Mission, jobID string) {
	e.bus.Emit(EventJobCreated, JobEvent{
		MissionID: m.ID,
		RobotID:   m.RobotID,
		JobID:     jobID,
	})
}
