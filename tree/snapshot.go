package tree

import (
	"fmt"

	"missiond/mission"
)

// Walk visits every node in pre-order.
func Walk(n Node, fn func(Node)) {
	fn(n)
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// Snapshot records node states in pre-order for persistence.
func Snapshot(root Node) []mission.NodeSnapshot {
	var snaps []mission.NodeSnapshot
	Walk(root, func(n Node) {
		snaps = append(snaps, mission.NodeSnapshot{
			Name:      n.Name(),
			Status:    string(n.Status()),
			StartedAt: n.StartedAt(),
		})
	})
	return snaps
}

// Restore applies a snapshot to a freshly rebuilt tree. The tree must
// have the same shape as the one the snapshot was taken from; the
// node names are checked to catch drift.
func Restore(root Node, snaps []mission.NodeSnapshot) error {
	var nodes []Node
	Walk(root, func(n Node) { nodes = append(nodes, n) })
	if len(nodes) != len(snaps) {
		return fmt.Errorf("tree shape changed: %d nodes, %d snapshots", len(nodes), len(snaps))
	}
	for i, n := range nodes {
		if n.Name() != snaps[i].Name {
			return fmt.Errorf("tree shape changed at %d: node %q, snapshot %q", i, n.Name(), snaps[i].Name)
		}
		n.SetStatus(Status(snaps[i].Status))
		n.SetStartedAt(snaps[i].StartedAt)
	}
	return nil
}

// ResetHandlers clears the cleanup branches of every error handler so
// a resumed run can pause or fail again.
func ResetHandlers(root Node) {
	Walk(root, func(n Node) {
		if h, ok := n.(*ErrorHandler); ok {
			h.ResetBranches()
		}
	})
}
