package engine

import (
	"encoding/json"
	"time"
)

// busMessage is the envelope lifecycle events travel in on the events
// topic.
type busMessage struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func (e *Engine) wireEventHandlers() {
	missionTypes := []EventType{
		EventMissionStarted,
		EventMissionCompleted,
		EventMissionAborted,
		EventMissionPaused,
		EventMissionResumed,
		EventTaskStarted,
		EventTaskCompleted,
		EventJobCreated,
	}

	// Every lifecycle event is queued for publication. The outbox
	// drainer gets it onto the wire; losing the broker only delays
	// delivery.
	e.Events.SubscribeTypes(func(evt Event) {
		data, err := json.Marshal(busMessage{
			Event:     evt.Type.String(),
			Timestamp: evt.Timestamp,
			Payload:   evt.Payload,
		})
		if err != nil {
			e.logFn("engine: marshal %s event: %v", evt.Type, err)
			return
		}
		if err := e.db.EnqueueOutbox(e.cfg.Messaging.EventsTopic, data, evt.Type.String(), e.cfg.Messaging.ClientID); err != nil {
			e.logFn("engine: enqueue %s event: %v", evt.Type, err)
		}
	}, missionTypes...)

	// Keep the robot state cache current.
	e.Events.SubscribeTypes(func(evt Event) {
		if e.robotState == nil {
			return
		}
		switch ev := evt.Payload.(type) {
		case MissionEvent:
			e.robotState.SetMission(ev.RobotID, ev.MissionID, ev.Status)
		case TaskEvent:
			if evt.Type == EventTaskStarted {
				e.robotState.SetActiveTask(ev.RobotID, ev.TaskID)
			} else {
				e.robotState.SetActiveTask(ev.RobotID, "")
			}
		}
	}, missionTypes...)

	// Log mission milestones.
	e.Events.SubscribeTypes(func(evt Event) {
		if ev, ok := evt.Payload.(MissionEvent); ok {
			e.logFn("engine: mission %s on %s: %s", ev.MissionID, ev.RobotID, evt.Type)
		}
	}, EventMissionStarted, EventMissionCompleted, EventMissionAborted, EventMissionPaused, EventMissionResumed)
}
