package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/conduit/engine/logger"
)

// Profiler tracks frame rate, draw throughput and memory statistics for performance
// monitoring. Outputs stats to the logger at a configurable interval.
type Profiler struct {
	frameCount     int
	drawCount      int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	now func() time.Time
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		memStats:       runtime.MemStats{},
		now:            time.Now,
	}
}

// SetInterval changes how often stats are logged.
//
// Parameters:
//   - interval: the time between two stats lines
func (p *Profiler) SetInterval(interval time.Duration) {
	p.updateInterval = interval
}

// Tick should be called once per presented frame with the number of draws the frame issued.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, draws per frame, heap usage, allocation rate, GC count/pause times,
// total memory.
//
// Parameters:
//   - draws: the draw count of the frame
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(draws int) bool {
	p.frameCount++
	p.drawCount += draws
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval || elapsed <= 0 {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()
	drawsPerFrame := float64(p.drawCount) / float64(p.frameCount)

	runtime.ReadMemStats(&p.memStats)
	// Alloc: Bytes of allocated heap objects (live memory)
	// Sys: Total bytes of memory obtained from the OS (actual process footprint)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	logger.Logger().Info("profiler",
		"fps", fps,
		"draws_per_frame", drawsPerFrame,
		"heap_mb", allocMB,
		"alloc_rate_mb_s", allocRateMB,
		"gc", gcCount,
		"gc_last_pause_us", lastPauseUs,
		"gc_max_pause_us", maxPauseUs,
		"sys_mb", sysMB,
	)

	p.frameCount = 0
	p.drawCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
