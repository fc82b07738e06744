package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks run statistics using lock-free atomic counters.
type Collector struct {
	tasksTotal     atomic.Int64
	bytesTotal     atomic.Int64
	tasksCompleted atomic.Int64
	tasksSkipped   atomic.Int64
	tasksFailed    atomic.Int64
	retries        atomic.Int64
	bytesMoved     atomic.Int64
	digests        atomic.Int64
	startTime      time.Time

	// Written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records the size of the run once tasks are known.
func (c *Collector) SetTotals(tasks, bytes int64) {
	c.tasksTotal.Store(tasks)
	c.bytesTotal.Store(bytes)
}

func (c *Collector) AddCompleted(n int64)  { c.tasksCompleted.Add(n) }
func (c *Collector) AddSkipped(n int64)    { c.tasksSkipped.Add(n) }
func (c *Collector) AddFailed(n int64)     { c.tasksFailed.Add(n) }
func (c *Collector) AddRetries(n int64)    { c.retries.Add(n) }
func (c *Collector) AddBytesMoved(n int64) { c.bytesMoved.Add(n) }
func (c *Collector) AddDigests(n int64)    { c.digests.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	TasksTotal     int64
	BytesTotal     int64
	TasksCompleted int64
	TasksSkipped   int64
	TasksFailed    int64
	Retries        int64
	BytesMoved     int64
	Digests        int64
	Elapsed        time.Duration
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TasksTotal:     c.tasksTotal.Load(),
		BytesTotal:     c.bytesTotal.Load(),
		TasksCompleted: c.tasksCompleted.Load(),
		TasksSkipped:   c.tasksSkipped.Load(),
		TasksFailed:    c.tasksFailed.Load(),
		Retries:        c.retries.Load(),
		BytesMoved:     c.bytesMoved.Load(),
		Digests:        c.digests.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Done is the number of tasks that reached a final state.
func (s Snapshot) Done() int64 { return s.TasksCompleted + s.TasksSkipped + s.TasksFailed }

// Tick records the bytes moved since the previous tick. The presenter calls
// it once a second.
func (c *Collector) Tick() {
	current := c.bytesMoved.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n ticks.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		sum += c.throughput[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time from the rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesMoved.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"tasks=%d completed=%d skipped=%d failed=%d retries=%d bytes=%d digests=%d",
		s.TasksTotal, s.TasksCompleted, s.TasksSkipped, s.TasksFailed,
		s.Retries, s.BytesMoved, s.Digests,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
