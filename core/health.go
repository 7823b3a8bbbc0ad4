package core

import (
	"context"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// HealthCheck is a single collaborator probe result.
type HealthCheck struct {
	Status  string `json:"status"` // "ok", "error"
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

type SystemInfo struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

// ProbeTimeout is the liveness ceiling per collaborator check.
const ProbeTimeout = 5 * time.Second

// RunCheck runs probe under the liveness timeout and records latency.
func RunCheck(probe func(ctx context.Context) error) HealthCheck {
	ctx, cancel := context.WithTimeout(context.Background(), ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	check := HealthCheck{Status: "ok", Latency: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = "error"
		check.Message = err.Error()
	}
	return check
}

// CheckFFmpeg verifies the transcoding tool is installed. The short-audio
// path for M4A/MP4 containers hard-depends on it.
func CheckFFmpeg() HealthCheck {
	return RunCheck(func(ctx context.Context) error {
		return exec.CommandContext(ctx, "ffmpeg", "-version").Run()
	})
}

// CheckEndpoint probes a remote base URL for liveness.
func CheckEndpoint(url string) HealthCheck {
	return RunCheck(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// CollectSystemInfo snapshots runtime information for /health.
func CollectSystemInfo() SystemInfo {
	return SystemInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
}

// OverallStatus folds individual checks into one status string.
func OverallStatus(checks map[string]HealthCheck) string {
	failed := 0
	for _, c := range checks {
		if c.Status != "ok" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "healthy"
	case failed < len(checks):
		return "degraded"
	default:
		return "unhealthy"
	}
}
