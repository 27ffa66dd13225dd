package metrics

import (
	"sync"
	"time"
)

// StatsProvider is implemented by anything that can report a point-in-time
// snapshot of server occupancy. A server wires itself in at construction
// time; the collector never reaches back into store/workqueue internals
// directly.
type StatsProvider interface {
	// DatumCount returns the number of datums currently live in the store.
	DatumCount() int
	// PendingCount returns the number of tasks blocked in the dependency engine.
	PendingCount() int
	// WorkQueueDepths returns queued work unit counts keyed by lane group
	// (untargeted, rank, host, parallel).
	WorkQueueDepths() map[string]int
	// BlockedRequests returns the number of workers parked on a get request.
	BlockedRequests() int
}

// Collector periodically samples a StatsProvider and publishes the result
// as Prometheus gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCollector builds a Collector sampling provider every interval.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		provider: provider,
		interval: interval,
	}
}

// Start begins the sampling loop in a background goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run()
}

// Stop halts the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	doneCh := c.doneCh
	c.mu.Unlock()
	<-doneCh
}

func (c *Collector) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect() {
	DatumsLive.Set(float64(c.provider.DatumCount()))
	PendingTasksTotal.Set(float64(c.provider.PendingCount()))
	RequestQueueBlocked.Set(float64(c.provider.BlockedRequests()))

	for workType, depth := range c.provider.WorkQueueDepths() {
		WorkQueueDepth.WithLabelValues(workType).Set(float64(depth))
	}
}
