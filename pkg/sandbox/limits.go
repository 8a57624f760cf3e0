package sandbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/rhuss/flowgen/pkg/debug"
)

// DefaultMemoryPollInterval is how often the memory watchdog samples.
const DefaultMemoryPollInterval = 100 * time.Millisecond

// memoryWatch kills a process tree whose resident memory exceeds a limit.
type memoryWatch struct {
	limit    uint64
	interval time.Duration
	exceeded atomic.Bool
	peak     atomic.Uint64
}

func newMemoryWatch(limitMB int, interval time.Duration) *memoryWatch {
	if interval <= 0 {
		interval = DefaultMemoryPollInterval
	}
	return &memoryWatch{limit: uint64(limitMB) << 20, interval: interval}
}

// run samples pid and its descendants until ctx is done or the limit is
// crossed, in which case kill is called once.
func (w *memoryWatch) run(ctx context.Context, pid int, kill func()) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		debug.Log("sandbox", "memory watchdog not started", "pid", pid, "error", err)
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss := treeRSS(ctx, proc, 0)
			if rss > w.peak.Load() {
				w.peak.Store(rss)
			}
			if rss > w.limit {
				w.exceeded.Store(true)
				debug.Log("sandbox", "memory limit exceeded", "pid", pid, "rss", rss, "limit", w.limit)
				kill()
				return
			}
		}
	}
}

// treeRSS sums the resident set size of p and its descendants. Processes
// that exit while being sampled count as zero.
func treeRSS(ctx context.Context, p *process.Process, depth int) uint64 {
	var total uint64
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		total = mem.RSS
	}
	if depth >= 8 {
		return total
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return total
	}
	for _, c := range children {
		total += treeRSS(ctx, c, depth+1)
	}
	return total
}
