package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"missiond/engine"
)

// StreamEvent is one server-sent event: a name and a JSON body.
type StreamEvent struct {
	Name string
	Data string
}

// EventHub fans engine events out to connected SSE clients. Slow
// clients lose events rather than stall the hub.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[chan StreamEvent]struct{}
	inbox       chan StreamEvent
	done        chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[chan StreamEvent]struct{}),
		inbox:       make(chan StreamEvent, 256),
		done:        make(chan struct{}),
	}
}

func (h *EventHub) Start() { go h.loop() }

func (h *EventHub) Stop() {
	select {
	case h.done <- struct{}{}:
	default:
	}
}

func (h *EventHub) loop() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.done:
			return
		case evt := <-h.inbox:
			h.fanout(evt)
		case <-keepalive.C:
			h.fanout(StreamEvent{Name: "keepalive", Data: `"ping"`})
		}
	}
}

func (h *EventHub) fanout(evt StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			// subscriber buffer full, drop
		}
	}
}

// Broadcast queues an event for delivery. Non-blocking: when the hub
// itself is backed up the event is dropped.
func (h *EventHub) Broadcast(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("www: marshal %s event: %v", name, err)
		return
	}
	select {
	case h.inbox <- StreamEvent{Name: name, Data: string(data)}:
	default:
	}
}

func (h *EventHub) Subscribe() chan StreamEvent {
	ch := make(chan StreamEvent, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan StreamEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

type missionUpdate struct {
	Type      string `json:"type"`
	MissionID string `json:"missionId"`
	RobotID   string `json:"robotId"`
	Status    string `json:"status,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

// SetupEngineListeners bridges engine events onto the SSE stream.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.MissionEvent)
		h.Broadcast("mission-update", missionUpdate{
			Type:      evt.Type.String(),
			MissionID: ev.MissionID,
			RobotID:   ev.RobotID,
			Status:    ev.Status,
		})
	}, engine.EventMissionSubmitted, engine.EventMissionStarted, engine.EventMissionCompleted,
		engine.EventMissionAborted, engine.EventMissionPaused, engine.EventMissionResumed)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.TaskEvent)
		h.Broadcast("task-update", missionUpdate{
			Type:      evt.Type.String(),
			MissionID: ev.MissionID,
			RobotID:   ev.RobotID,
			TaskID:    ev.TaskID,
		})
	}, engine.EventTaskStarted, engine.EventTaskCompleted)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		ev := evt.Payload.(engine.JobEvent)
		h.Broadcast("task-update", missionUpdate{
			Type:      evt.Type.String(),
			MissionID: ev.MissionID,
			RobotID:   ev.RobotID,
			JobID:     ev.JobID,
		})
	}, engine.EventJobCreated)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"fleet": "connected"})
	}, engine.EventFleetConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"fleet": "disconnected"})
	}, engine.EventFleetDisconnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"messaging": "connected"})
	}, engine.EventMessagingConnected)

	eng.Events.SubscribeTypes(func(evt engine.Event) {
		h.Broadcast("system-status", map[string]string{"messaging": "disconnected"})
	}, engine.EventMessagingDisconnected)
}

// SSEHandler streams events to one client until it disconnects.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, evt.Data); err != nil {
				log.Printf("www: sse write: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
