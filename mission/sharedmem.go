package mission

import (
	"errors"
	"sync"
)

// ErrFrozen is returned when writing to shared memory after the run has
// been torn down. Late writers fail loudly instead of mutating state
// nobody will read.
var ErrFrozen = errors.New("shared memory is frozen")

// SharedMemory is the per-run key/value store behavior tree nodes use
// to pass data forward (job ids, accumulated params).
type SharedMemory struct {
	mu     sync.RWMutex
	frozen bool
	vals   map[string]any
}

func NewSharedMemory() *SharedMemory {
	return &SharedMemory{vals: make(map[string]any)}
}

// RestoreSharedMemory rebuilds shared memory from a persisted snapshot.
func RestoreSharedMemory(vals map[string]any) *SharedMemory {
	sm := NewSharedMemory()
	for k, v := range vals {
		sm.vals[k] = v
	}
	return sm
}

func (sm *SharedMemory) Set(key string, val any) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.frozen {
		return ErrFrozen
	}
	sm.vals[key] = val
	return nil
}

func (sm *SharedMemory) Get(key string) (any, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	v, ok := sm.vals[key]
	return v, ok
}

// GetString is Get with a string assertion, "" when absent or not a string.
func (sm *SharedMemory) GetString(key string) string {
	v, ok := sm.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (sm *SharedMemory) Freeze() {
	sm.mu.Lock()
	sm.frozen = true
	sm.mu.Unlock()
}

// Snapshot copies the current contents for persistence.
func (sm *SharedMemory) Snapshot() map[string]any {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[string]any, len(sm.vals))
	for k, v := range sm.vals {
		out[k] = v
	}
	return out
}
