package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Collector periodically samples process resource usage into the system
// gauges: the goroutine count from the runtime and the process RSS from
// gopsutil; when per-process stats are unavailable it falls back to
// system-wide used memory. CPU usage is not sampled.
type Collector struct {
	logger   zerolog.Logger
	interval time.Duration
	proc     *process.Process
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a collector sampling at the given interval.
func NewCollector(logger zerolog.Logger, interval time.Duration) *Collector {
	c := &Collector{
		logger:   logger.With().Str("component", "metrics_collector").Logger(),
		interval: interval,
		done:     make(chan struct{}),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to get process info, falling back to system memory")
	} else {
		c.proc = proc
	}

	return c
}

// Start launches the sampling loop. Stop must be called to release it.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Collector) collect() {
	goroutines.Set(float64(runtime.NumGoroutine()))

	if c.proc != nil {
		if memInfo, err := c.proc.MemoryInfo(); err == nil {
			memoryUsageBytes.Set(float64(memInfo.RSS))
			return
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		memoryUsageBytes.Set(float64(vmem.Used))
	}
}
