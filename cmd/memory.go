package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	rtdebug "runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Memory governor defaults. Thresholds are heap-in-use as a fraction of
// total system memory.
const (
	defaultSampleInterval = 1000 // documents between samples
	highWaterRatio        = 0.70
	criticalRatio         = 0.85
	highWaterPause        = 50 * time.Millisecond
	criticalPause         = 500 * time.Millisecond
)

// memoryGovernor applies advisory producer-side backpressure: it samples the
// process heap periodically during export and inserts GC cycles and pauses
// when usage crosses a high-water mark relative to total system memory. This
// is independent of sink-level backpressure.
type memoryGovernor struct {
	totalMemory    uint64
	sampleInterval int64
	logger         *slog.Logger
}

func newMemoryGovernor(logger *slog.Logger) *memoryGovernor {
	g := &memoryGovernor{
		sampleInterval: defaultSampleInterval,
		logger:         logger,
	}

	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		// Without a total to compare against the governor stays inert
		logger.Warn(fmt.Sprintf("⚠️  Unable to determine system memory, throttling disabled: %v", err))
		return g
	}
	g.totalMemory = vm.Total

	return g
}

// maybeThrottle is called after each record; it samples memory every
// sampleInterval documents. Pauses observe ctx so cancellation is not
// delayed by a throttle sleep.
func (g *memoryGovernor) maybeThrottle(ctx context.Context, docsSeen int64) error {
	if g.totalMemory == 0 || docsSeen%g.sampleInterval != 0 {
		return nil
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	ratio := float64(stats.HeapInuse) / float64(g.totalMemory)

	switch {
	case ratio >= criticalRatio:
		g.logger.Warn(fmt.Sprintf("⚠️  Critical memory pressure (%.0f%% of system), collecting and pausing", ratio*100))
		rtdebug.FreeOSMemory()
		return sleepContext(ctx, criticalPause)
	case ratio >= highWaterRatio:
		g.logger.Debug(fmt.Sprintf("Memory high-water mark reached (%.0f%% of system), requesting GC", ratio*100))
		runtime.GC()
		return sleepContext(ctx, highWaterPause)
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
