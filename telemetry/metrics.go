package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// QueryBuckets span interactive lookups up to the default five minute statement timeout
	QueryBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300}

	// RowBuckets for result set sizes
	RowBuckets = []float64{0, 1, 10, 100, 1000, 10000, 100000, 1000000}
)

// Query Execution Metrics
var (
	// QueriesTotal counts statements by mode (sync, async, paginated, metadata) and result (success, failed, cancelled, cached)
	QueriesTotal CounterVec = noopCounterVec{}

	// QueryDurationSeconds measures statement latency by mode
	QueryDurationSeconds HistogramVec = noopHistogramVec{}

	// RowsReturned measures rows per row-returning statement
	RowsReturned Histogram = NoopStat{}
)

// Async Task Metrics
var (
	// AsyncTasksActive tracks tasks not yet in a terminal state. Only the
	// MetricsCollector writes it.
	AsyncTasksActive Gauge = NoopStat{}

	// AsyncTasksTotal counts tasks by terminal status
	AsyncTasksTotal CounterVec = noopCounterVec{}

	// AsyncTasksEvictedTotal counts terminal tasks dropped by age
	AsyncTasksEvictedTotal Counter = NoopStat{}
)

// Result Cache Metrics
var (
	// CacheRequestsTotal counts lookups by result (hit, miss)
	CacheRequestsTotal CounterVec = noopCounterVec{}

	// CacheBytes tracks resident bytes
	CacheBytes Gauge = NoopStat{}

	// CacheEntries tracks resident entries
	CacheEntries Gauge = NoopStat{}

	// CacheEvictionsTotal counts entries evicted to stay under budget
	CacheEvictionsTotal Counter = NoopStat{}
)

// Connection Metrics
var (
	// ConnectionsActive tracks registered connections
	ConnectionsActive Gauge = NoopStat{}

	// ConnectAttemptsTotal counts connect attempts by result (success, failed)
	ConnectAttemptsTotal CounterVec = noopCounterVec{}

	// TunnelsActive tracks registered connections routed through SSH
	TunnelsActive Gauge = NoopStat{}

	// TransactionsTotal counts transaction operations by op (begin, commit, rollback) and result
	TransactionsTotal CounterVec = noopCounterVec{}

	// HistoryDroppedTotal counts history entries dropped by slow subscribers
	HistoryDroppedTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	QueriesTotal = NewCounterVec(
		"queries_total",
		"Total statements by mode and result",
		[]string{"mode", "result"},
	)
	QueryDurationSeconds = NewHistogramVec(
		"query_duration_seconds",
		"Statement duration in seconds",
		[]string{"mode"},
		QueryBuckets,
	)
	RowsReturned = NewHistogramWithBuckets(
		"rows_returned",
		"Number of rows returned per row-returning statement",
		RowBuckets,
	)

	AsyncTasksActive = NewGauge(
		"async_tasks_active",
		"Number of async tasks still running",
	)
	AsyncTasksTotal = NewCounterVec(
		"async_tasks_total",
		"Async tasks by terminal status",
		[]string{"status"},
	)
	AsyncTasksEvictedTotal = NewCounter(
		"async_tasks_evicted_total",
		"Terminal async tasks dropped by age",
	)

	CacheRequestsTotal = NewCounterVec(
		"cache_requests_total",
		"Result cache lookups by result",
		[]string{"result"},
	)
	CacheBytes = NewGauge(
		"cache_bytes",
		"Estimated bytes resident in the result cache",
	)
	CacheEntries = NewGauge(
		"cache_entries",
		"Entries resident in the result cache",
	)
	CacheEvictionsTotal = NewCounter(
		"cache_evictions_total",
		"Result cache entries evicted to stay under budget",
	)

	ConnectionsActive = NewGauge(
		"connections_active",
		"Number of registered connections",
	)
	ConnectAttemptsTotal = NewCounterVec(
		"connect_attempts_total",
		"Connect attempts by result",
		[]string{"result"},
	)
	TunnelsActive = NewGauge(
		"tunnels_active",
		"Number of connections routed through an SSH tunnel",
	)
	TransactionsTotal = NewCounterVec(
		"transactions_total",
		"Transaction operations by op and result",
		[]string{"op", "result"},
	)
	HistoryDroppedTotal = NewCounter(
		"history_dropped_total",
		"History entries dropped because a subscriber was full",
	)
}

// Result label values shared by callers
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
	ResultCached    = "cached"
	ResultHit       = "hit"
	ResultMiss      = "miss"
)

// ResultLabel maps an error to the success/failed label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}
