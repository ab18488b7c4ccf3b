// Package metrics tracks dispatcher and store activity in memory. The
// collector is constructed at the composition root and injected; there is no
// ambient global.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks engine-wide counters
type Collector struct {
	// Counters (atomic for thread-safety)
	ticks          atomic.Int64
	firesAttempted atomic.Int64
	firesSucceeded atomic.Int64
	firesFailed    atomic.Int64
	claimsLost     atomic.Int64
	triggersQueued atomic.Int64

	// Protected by mutex
	mu            sync.RWMutex
	totalDuration time.Duration
	startTime     time.Time
	activeWorkers int64
	totalWorkers  int64
}

// Snapshot is a point-in-time view of the collector
type Snapshot struct {
	Ticks           int64   `json:"ticks"`
	FiresAttempted  int64   `json:"fires_attempted"`
	FiresSucceeded  int64   `json:"fires_succeeded"`
	FiresFailed     int64   `json:"fires_failed"`
	ClaimsLost      int64   `json:"claims_lost"`
	TriggersQueued  int64   `json:"triggers_queued"`
	AvgFireDuration float64 `json:"avg_fire_duration_ms"`
	ActiveWorkers   int64   `json:"active_workers"`
	TotalWorkers    int64   `json:"total_workers"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewCollector creates a collector; pass it to every component that records
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordTick counts one dispatcher poll
func (c *Collector) RecordTick() {
	c.ticks.Add(1)
}

// RecordQueued counts a due trigger handed to the fire pool
func (c *Collector) RecordQueued() {
	c.triggersQueued.Add(1)
}

// RecordClaimLost counts a claim lost to a concurrent dispatcher
func (c *Collector) RecordClaimLost() {
	c.claimsLost.Add(1)
}

// RecordFireSuccess counts a successful fire and its duration
func (c *Collector) RecordFireSuccess(duration time.Duration) {
	c.firesAttempted.Add(1)
	c.firesSucceeded.Add(1)
	c.addDuration(duration)
}

// RecordFireFailure counts a failed fire and its duration
func (c *Collector) RecordFireFailure(duration time.Duration) {
	c.firesAttempted.Add(1)
	c.firesFailed.Add(1)
	c.addDuration(duration)
}

// RecordWorkerActivity updates worker pool utilization
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

func (c *Collector) addDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += d
}

// Snapshot returns current values
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attempted := c.firesAttempted.Load()
	var avg float64
	if attempted > 0 {
		avg = float64(c.totalDuration.Milliseconds()) / float64(attempted)
	}

	return Snapshot{
		Ticks:           c.ticks.Load(),
		FiresAttempted:  attempted,
		FiresSucceeded:  c.firesSucceeded.Load(),
		FiresFailed:     c.firesFailed.Load(),
		ClaimsLost:      c.claimsLost.Load(),
		TriggersQueued:  c.triggersQueued.Load(),
		AvgFireDuration: avg,
		ActiveWorkers:   c.activeWorkers,
		TotalWorkers:    c.totalWorkers,
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
	}
}
