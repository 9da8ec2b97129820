package kernel

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a best-effort sample of the current process's resource
// usage, folded into Status for observability. Sampling failures are logged
// and simply omit the field rather than failing the status call.
type ProcessStats struct {
	CPUPercent    float64
	RSSBytes      uint64
	NumGoroutine  int
}

// sampleProcessStats reads current-process CPU and memory usage via
// gopsutil. Returns nil if the process handle or any reading cannot be
// obtained — this is diagnostic sugar, never load-bearing.
func sampleProcessStats(log zerolog.Logger) *ProcessStats {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug().Err(err).Msg("process stats unavailable")
		return nil
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		log.Debug().Err(err).Msg("cpu percent unavailable")
		return nil
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		log.Debug().Err(err).Msg("memory info unavailable")
		return nil
	}

	return &ProcessStats{
		CPUPercent:   cpuPct,
		RSSBytes:     memInfo.RSS,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
