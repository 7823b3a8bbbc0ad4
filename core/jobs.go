package core

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// JobRegistry bounds how many pipeline runs execute at once and keeps a
// snapshot of the active ones for the /jobs endpoint. Runs themselves stay
// sequential internally; only independent submissions overlap.
type JobRegistry struct {
	mu                sync.RWMutex
	activeJobs        map[string]*JobInfo
	maxConcurrentJobs int

	totalRuns    int
	failedRuns   int
	totalRunMS   int64
	lastFinished time.Time
}

// JobInfo describes one in-flight pipeline run.
type JobInfo struct {
	JobID       string        `json:"job_id"`
	UserID      string        `json:"user_id"`
	StartTime   time.Time     `json:"start_time"`
	CurrentStep PipelineState `json:"current_step"`
}

// ProcessingStats summarizes finished runs.
type ProcessingStats struct {
	ActiveJobs        int     `json:"active_jobs"`
	MaxConcurrentJobs int     `json:"max_concurrent_jobs"`
	TotalProcessed    int     `json:"total_processed"`
	SuccessRate       float64 `json:"success_rate"`
	AverageTimeMS     float64 `json:"average_time_ms"`
	LastProcessedTime string  `json:"last_processed_time,omitempty"`
}

var (
	jobRegistry *JobRegistry
	jobOnce     sync.Once
)

// GetJobRegistry returns the process-wide registry singleton.
func GetJobRegistry() *JobRegistry {
	jobOnce.Do(func() {
		jobRegistry = &JobRegistry{
			activeJobs:        make(map[string]*JobInfo),
			maxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 3),
		}
	})
	return jobRegistry
}

// Acquire registers a run, failing when the registry is at capacity.
func (r *JobRegistry) Acquire(jobID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.activeJobs) >= r.maxConcurrentJobs {
		return fmt.Errorf("too many concurrent jobs (max %d)", r.maxConcurrentJobs)
	}
	r.activeJobs[jobID] = &JobInfo{
		JobID:       jobID,
		UserID:      userID,
		StartTime:   time.Now(),
		CurrentStep: StateUpload,
	}
	return nil
}

// SetStep records the run's current pipeline state.
func (r *JobRegistry) SetStep(jobID string, state PipelineState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.activeJobs[jobID]; ok {
		job.CurrentStep = state
	}
}

// Release removes the run and folds it into the stats.
func (r *JobRegistry) Release(jobID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.activeJobs[jobID]
	if !ok {
		return
	}
	delete(r.activeJobs, jobID)
	r.totalRuns++
	if !success {
		r.failedRuns++
	}
	r.totalRunMS += time.Since(job.StartTime).Milliseconds()
	r.lastFinished = time.Now()
}

// Snapshot lists active runs, oldest first.
func (r *JobRegistry) Snapshot() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]JobInfo, 0, len(r.activeJobs))
	for _, j := range r.activeJobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartTime.Before(jobs[k].StartTime) })
	return jobs
}

// Stats reports aggregate processing statistics.
func (r *JobRegistry) Stats() ProcessingStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := ProcessingStats{
		ActiveJobs:        len(r.activeJobs),
		MaxConcurrentJobs: r.maxConcurrentJobs,
		TotalProcessed:    r.totalRuns,
	}
	if r.totalRuns > 0 {
		s.SuccessRate = float64(r.totalRuns-r.failedRuns) / float64(r.totalRuns)
		s.AverageTimeMS = float64(r.totalRunMS) / float64(r.totalRuns)
	}
	if !r.lastFinished.IsZero() {
		s.LastProcessedTime = r.lastFinished.Format(time.RFC3339)
	}
	return s
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
