package httpapi

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	app "github.com/R3E-Network/marketpulse/internal/app"
)

type processStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes,omitempty"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads,omitempty"`
	Goroutines int     `json:"goroutines"`
}

type healthResponse struct {
	Status           string       `json:"status"`
	Uptime           float64      `json:"uptime"`
	APIKeyConfigured bool         `json:"apiKeyConfigured"`
	CacheTTLSeconds  float64      `json:"cacheTtlSeconds"`
	Services         []string     `json:"services"`
	Process          processStats `json:"process"`
}

// healthReporter samples process statistics for /healthz.
type healthReporter struct {
	started time.Time
	proc    *process.Process
}

func newHealthReporter() *healthReporter {
	h := &healthReporter{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	}
	return h
}

func (h *healthReporter) report(application *app.Application) healthResponse {
	resp := healthResponse{
		Status:           "ok",
		Uptime:           time.Since(h.started).Seconds(),
		APIKeyConfigured: application.Market.Configured(),
		CacheTTLSeconds:  application.Market.TTL().Seconds(),
		Services:         application.Services(),
		Process: processStats{
			PID:        int32(os.Getpid()),
			Goroutines: runtime.NumGoroutine(),
		},
	}
	if h.proc == nil {
		return resp
	}
	if mem, err := h.proc.MemoryInfo(); err == nil && mem != nil {
		resp.Process.RSSBytes = mem.RSS
	}
	if cpu, err := h.proc.CPUPercent(); err == nil {
		resp.Process.CPUPercent = cpu
	}
	if threads, err := h.proc.NumThreads(); err == nil {
		resp.Process.Threads = threads
	}
	return resp
}
