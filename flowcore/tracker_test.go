package flowcore

import (
	"fmt"
	"testing"
	"time"
)

type fakeJobAPI struct {
	calls   int
	details *JobDetails
	err     error
}

func (f *fakeJobAPI) GetJobDetails(jobID string) (*JobDetails, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	d := *f.details
	d.JobID = jobID
	return &d, nil
}

func testTracker(api *fakeJobAPI) (*Tracker, *time.Time) {
	tr := NewTracker(api, 5*time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTrackerFreshHitSkipsFetch(t *testing.T) {
	api := &fakeJobAPI{details: &JobDetails{Status: "inProgress", RobotName: "robot-1"}}
	tr, now := testTracker(api)

	state, err := tr.GetJobState("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Status != StatusInProgress {
		t.Errorf("Status = %q, want normalized %q", state.Status, StatusInProgress)
	}
	if api.calls != 1 {
		t.Fatalf("calls = %d, want 1", api.calls)
	}

	// Within TTL: served from cache, no fetch.
	*now = now.Add(3 * time.Second)
	state, err = tr.GetJobState("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if api.calls != 1 {
		t.Errorf("calls = %d, fresh entries must not fetch", api.calls)
	}
	if state.RobotName != "robot-1" {
		t.Errorf("RobotName = %q", state.RobotName)
	}
}

func TestTrackerStaleRefetch(t *testing.T) {
	api := &fakeJobAPI{details: &JobDetails{Status: "queued"}}
	tr, now := testTracker(api)

	tr.GetJobState("j1")
	api.details.Status = "COMPLETED"
	*now = now.Add(6 * time.Second)

	state, err := tr.GetJobState("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if api.calls != 2 {
		t.Errorf("calls = %d, want refetch after TTL", api.calls)
	}
	if state.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", state.Status, StatusCompleted)
	}
	if !state.LastUpdate.Equal(*now) {
		t.Errorf("LastUpdate = %v, want refresh time", state.LastUpdate)
	}
}

func TestTrackerServesStaleOnError(t *testing.T) {
	api := &fakeJobAPI{details: &JobDetails{Status: "inProgress", ErrorMessage: ""}}
	tr, now := testTracker(api)

	tr.GetJobState("j1")
	api.err = fmt.Errorf("connection refused")
	*now = now.Add(10 * time.Second)

	state, err := tr.GetJobState("j1")
	if err != nil {
		t.Fatalf("stale cache should mask the failure: %v", err)
	}
	if state.Status != StatusInProgress {
		t.Errorf("Status = %q, want stale value", state.Status)
	}
}

func TestTrackerErrorWithoutCache(t *testing.T) {
	api := &fakeJobAPI{err: fmt.Errorf("connection refused")}
	tr, _ := testTracker(api)

	_, err := tr.GetJobState("j1")
	if err == nil {
		t.Fatal("no cache to fall back to, want error")
	}
}

func TestTrackerForget(t *testing.T) {
	api := &fakeJobAPI{details: &JobDetails{Status: "completed"}}
	tr, _ := testTracker(api)

	tr.GetJobState("j1")
	tr.GetJobState("j2")
	if tr.ActiveCount() != 2 {
		t.Fatalf("ActiveCount = %d, want 2", tr.ActiveCount())
	}
	tr.Forget("j1")
	if tr.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", tr.ActiveCount())
	}
	// Forgotten jobs fetch again.
	tr.GetJobState("j1")
	if api.calls != 3 {
		t.Errorf("calls = %d, want 3", api.calls)
	}
}

// blockingJobAPI parks fetches for one job until released; all other
// jobs answer immediately.
type blockingJobAPI struct {
	slowJob string
	release chan struct{}
}

func (f *blockingJobAPI) GetJobDetails(jobID string) (*JobDetails, error) {
	if jobID == f.slowJob {
		<-f.release
	}
	return &JobDetails{JobID: jobID, Status: "inProgress"}, nil
}

func TestTrackerSlowFetchDoesNotBlockFreshHits(t *testing.T) {
	api := &blockingJobAPI{slowJob: "j-slow", release: make(chan struct{})}
	tr := NewTracker(api, 5*time.Second)

	// Prime j-fast so the next read is a fresh hit.
	if _, err := tr.GetJobState("j-fast"); err != nil {
		t.Fatalf("prime: %v", err)
	}

	slowDone := make(chan struct{})
	go func() {
		tr.GetJobState("j-slow")
		close(slowDone)
	}()

	// The fresh hit must be served while the slow fetch is in flight.
	fastDone := make(chan struct{})
	go func() {
		if _, err := tr.GetJobState("j-fast"); err != nil {
			t.Errorf("fresh hit: %v", err)
		}
		close(fastDone)
	}()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fresh cache hit stalled behind an in-flight fetch")
	}

	close(api.release)
	<-slowDone
}
