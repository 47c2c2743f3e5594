package flowcore

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultStatusTTL is how long a cached job status stays authoritative.
const DefaultStatusTTL = 5 * time.Second

// JobState is one cache entry: the last normalized status and when we
// learned it.
type JobState struct {
	Status       string
	ErrorMessage string
	RobotName    string
	LastUpdate   time.Time
}

// JobAPI is the slice of the client the tracker needs.
type JobAPI interface {
	GetJobDetails(jobID string) (*JobDetails, error)
}

// Tracker caches job statuses so the poll loops of many concurrent
// missions do not hammer the fleet manager. A fresh entry is served
// without touching the API; a stale one is refreshed in place, and if
// the refresh fails the stale value is returned as a backup.
type Tracker struct {
	mu     sync.Mutex
	client JobAPI
	ttl    time.Duration
	jobs   map[string]JobState
	now    func() time.Time
}

func NewTracker(client JobAPI, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &Tracker{
		client: client,
		ttl:    ttl,
		jobs:   make(map[string]JobState),
		now:    time.Now,
	}
}

// GetJobState returns the job's current state, from cache when fresh.
// The fetch runs outside the map lock so one slow vendor call cannot
// stall fresh hits for other jobs.
func (t *Tracker) GetJobState(jobID string) (JobState, error) {
	t.mu.Lock()
	entry, cached := t.jobs[jobID]
	if cached && t.now().Sub(entry.LastUpdate) < t.ttl {
		t.mu.Unlock()
		return entry, nil
	}
	t.mu.Unlock()

	details, err := t.client.GetJobDetails(jobID)
	if err != nil {
		if cached {
			log.Printf("flowcore: job %s status fetch failed, serving cached %q: %v", jobID, entry.Status, err)
			return entry, nil
		}
		return JobState{}, fmt.Errorf("job %s status: %w", jobID, err)
	}

	state := JobState{
		Status:       NormalizeStatus(details.Status),
		ErrorMessage: details.ErrorMessage,
		RobotName:    details.RobotName,
		LastUpdate:   t.now(),
	}
	t.mu.Lock()
	t.jobs[jobID] = state
	t.mu.Unlock()
	return state, nil
}

// Forget drops a job from the cache once its mission is done.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
}

// ActiveCount reports how many jobs the tracker is holding.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
