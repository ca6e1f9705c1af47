package telemetry

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of engine state exported as gauges
type Snapshot struct {
	Connections  int
	Tunnels      int
	ActiveTasks  int
	CacheBytes   int64
	CacheEntries int
}

// StatsProvider is implemented by the engine
type StatsProvider interface {
	Snapshot() Snapshot
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector. Safe to call more than once.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	s := mc.provider.Snapshot()
	ConnectionsActive.Set(float64(s.Connections))
	TunnelsActive.Set(float64(s.Tunnels))
	AsyncTasksActive.Set(float64(s.ActiveTasks))
	CacheBytes.Set(float64(s.CacheBytes))
	CacheEntries.Set(float64(s.CacheEntries))
}
