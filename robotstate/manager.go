package robotstate

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager keeps a per-robot execution snapshot: local map first, then
// write-through to Redis so other processes can read fleet state. A
// missing Redis only costs the shared view.
type Manager struct {
	mu    sync.RWMutex
	local map[string]*RobotState
	redis *RedisStore
	now   func() time.Time
}

func NewManager(redis *RedisStore) *Manager {
	return &Manager{
		local: make(map[string]*RobotState),
		redis: redis,
		now:   time.Now,
	}
}

func (m *Manager) upsert(robotID string, update func(*RobotState)) {
	m.mu.Lock()
	state, ok := m.local[robotID]
	if !ok {
		state = &RobotState{RobotID: robotID}
		m.local[robotID] = state
	}
	update(state)
	state.UpdatedAt = m.now()
	copied := *state
	m.mu.Unlock()

	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.redis.SetRobot(ctx, &copied); err != nil {
		log.Printf("robotstate: redis write for %s: %v", robotID, err)
	}
}

// SetMission records the robot's current mission and status.
func (m *Manager) SetMission(robotID, missionID, status string) {
	if robotID == "" {
		return
	}
	m.upsert(robotID, func(s *RobotState) {
		s.MissionID = missionID
		s.Status = status
	})
}

// SetActiveTask records which task the robot is working on.
func (m *Manager) SetActiveTask(robotID, taskID string) {
	if robotID == "" {
		return
	}
	m.upsert(robotID, func(s *RobotState) {
		s.ActiveTask = taskID
	})
}

// Get reads one robot's state, falling back to Redis for robots this
// process has not seen.
func (m *Manager) Get(robotID string) *RobotState {
	m.mu.RLock()
	state, ok := m.local[robotID]
	if ok {
		copied := *state
		m.mu.RUnlock()
		return &copied
	}
	m.mu.RUnlock()

	if m.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	remote, err := m.redis.GetRobot(ctx, robotID)
	if err != nil {
		log.Printf("robotstate: redis read for %s: %v", robotID, err)
		return nil
	}
	return remote
}

// All lists every robot this process knows, merged with Redis.
func (m *Manager) All() []*RobotState {
	seen := make(map[string]bool)
	var out []*RobotState

	m.mu.RLock()
	for id, state := range m.local {
		copied := *state
		out = append(out, &copied)
		seen[id] = true
	}
	m.mu.RUnlock()

	if m.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		remote, err := m.redis.AllRobots(ctx)
		if err != nil {
			log.Printf("robotstate: redis list: %v", err)
		}
		for _, state := range remote {
			if !seen[state.RobotID] {
				out = append(out, state)
			}
		}
	}
	return out
}
