// Package diag reports process health for the daemon's health endpoint.
package diag

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	clog "github.com/hf1860/console/internal/log"
)

type Health struct {
	Status        string  `json:"status"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	Threads       int32   `json:"threads,omitempty"`
	CPUPercent    float64 `json:"cpuPercent"`
	RSSBytes      uint64  `json:"rssBytes,omitempty"`
	GoVersion     string  `json:"goVersion"`
}

// Reporter samples the current process. Process stats that cannot be read
// on this platform are left zero.
type Reporter struct {
	started time.Time
	logger  zerolog.Logger

	mu   sync.Mutex
	proc *process.Process
}

func NewReporter() *Reporter {
	r := &Reporter{
		started: time.Now(),
		logger:  clog.WithComponent("diag"),
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		r.logger.Warn().Err(err).Msg("process stats unavailable")
	} else {
		r.proc = p
	}
	return r
}

func (r *Reporter) Health() Health {
	h := Health{
		Status:        "ok",
		PID:           os.Getpid(),
		UptimeSeconds: time.Since(r.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return h
	}
	if cpu, err := r.proc.Percent(0); err == nil {
		h.CPUPercent = cpu
	}
	if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
		h.RSSBytes = mem.RSS
	}
	if n, err := r.proc.NumThreads(); err == nil {
		h.Threads = n
	}
	return h
}
