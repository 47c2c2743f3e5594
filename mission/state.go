package mission

// NodeSnapshot is the persisted state of one behavior tree node,
// recorded in pre-order so the tree can be rebuilt and restored
// deterministically.
type NodeSnapshot struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	StartedAt float64 `json:"startedAt,omitempty"`
}

// WorkerState is the blob persisted per mission. It holds everything
// needed to rebuild a worker after a restart: the original mission,
// its runtime options, shared memory, and the tree's node states.
type WorkerState struct {
	MissionID    string         `json:"missionId"`
	RobotID      string         `json:"robotId"`
	Mission      *Mission       `json:"mission"`
	Options      RuntimeOptions `json:"options"`
	SharedMemory map[string]any `json:"sharedMemory,omitempty"`
	TreeState    []NodeSnapshot `json:"treeState,omitempty"`
	Finished     bool           `json:"finished"`
	Paused       bool           `json:"paused"`
}
