package core

import "testing"

func newTestRegistry(max int) *JobRegistry {
	return &JobRegistry{activeJobs: make(map[string]*JobInfo), maxConcurrentJobs: max}
}

func TestJobRegistryCapacity(t *testing.T) {
	r := newTestRegistry(2)

	if err := r.Acquire("j1", "u1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := r.Acquire("j2", "u2"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := r.Acquire("j3", "u3"); err == nil {
		t.Fatal("Expected acquire to fail at capacity")
	}

	r.Release("j1", true)
	if err := r.Acquire("j3", "u3"); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
}

func TestJobRegistrySetStepAndSnapshot(t *testing.T) {
	r := newTestRegistry(3)
	if err := r.Acquire("j1", "u1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	r.SetStep("j1", StateSaving)
	r.SetStep("unknown", StateSaving) // no-op

	jobs := r.Snapshot()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 active job, got %d", len(jobs))
	}
	if jobs[0].CurrentStep != StateSaving {
		t.Errorf("Expected step saving, got %s", jobs[0].CurrentStep)
	}
}

func TestJobRegistryStats(t *testing.T) {
	r := newTestRegistry(3)

	for _, c := range []struct {
		id      string
		success bool
	}{{"j1", true}, {"j2", true}, {"j3", false}} {
		if err := r.Acquire(c.id, "u1"); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		r.Release(c.id, c.success)
	}
	r.Release("never-acquired", true) // no-op

	s := r.Stats()
	if s.ActiveJobs != 0 {
		t.Errorf("Expected 0 active jobs, got %d", s.ActiveJobs)
	}
	if s.TotalProcessed != 3 {
		t.Errorf("Expected 3 processed, got %d", s.TotalProcessed)
	}
	if s.SuccessRate < 0.66 || s.SuccessRate > 0.67 {
		t.Errorf("Expected success rate ~0.667, got %f", s.SuccessRate)
	}
}
