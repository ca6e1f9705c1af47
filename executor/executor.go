// Package executor runs SQL in the background and lets callers poll for the
// outcome without blocking.
package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/id"
	"github.com/velocitydb/velocity/sqltext"
	"github.com/velocitydb/velocity/telemetry"
)

const modeAsync = "async"

// Options configure eviction and completion reporting.
type Options struct {
	// EvictInterval is the minimum time between two EvictStale scans.
	EvictInterval time.Duration

	// OnComplete, if set, is called once per task after it reaches a terminal
	// state through execution. It runs on the task goroutine and must not block.
	OnComplete func(Completion)
}

// DefaultOptions returns the [async] defaults.
func DefaultOptions() Options {
	return Options{EvictInterval: 60 * time.Second}
}

// Completion describes a finished task for OnComplete.
type Completion struct {
	QueryID      string
	Owner        string
	SQL          string
	Status       Status
	Elapsed      time.Duration
	AffectedRows int64
	Err          error

	// Result is the single-statement outcome of a Completed task, nil otherwise.
	Result *driver.ResultSet
	// Tag is the value given to SubmitTagged.
	Tag string
}

// QueryResult is a point-in-time view of a task.
type QueryResult struct {
	QueryID   string
	Status    Status
	Multiple  bool
	Result    *driver.ResultSet
	Results   []driver.StatementResult
	Error     string
	StartTime time.Time
	EndTime   time.Time
}

// Outcome is the value delivered by a task's promise.
type Outcome struct {
	Result  *driver.ResultSet
	Results []driver.StatementResult
}

type task struct {
	id         string
	owner      string
	sql        string
	statements []string
	multiple   bool
	driver     driver.Driver
	tag        string

	status atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	promise *future.Promise[*Outcome]
	fut     *future.Future[*Outcome]
	done    atomic.Bool

	mu      sync.Mutex
	start   time.Time
	end     time.Time
	outcome *Outcome
	err     error
}

func (t *task) loadStatus() Status {
	return Status(t.status.Load())
}

func (t *task) setEnd(at time.Time) {
	t.mu.Lock()
	if t.end.IsZero() {
		t.end = at
	}
	t.mu.Unlock()
}

// Executor owns the task table.
type Executor struct {
	mu        sync.Mutex
	tasks     map[string]*task
	ids       id.Generator
	opts      Options
	now       func() time.Time
	lastEvict time.Time
	wg        sync.WaitGroup
}

// New creates an executor.
func New(opts Options) *Executor {
	return &Executor{
		tasks: make(map[string]*task),
		ids:   id.NewSequence("query_"),
		opts:  opts,
		now:   time.Now,
	}
}

// Submit starts sql on d in the background and returns the query id.
func (e *Executor) Submit(d driver.Driver, sql string) string {
	return e.SubmitFor("", d, sql)
}

// SubmitFor is Submit with an owner label passed back through OnComplete,
// typically the connection id.
func (e *Executor) SubmitFor(owner string, d driver.Driver, sql string) string {
	return e.SubmitTagged(owner, "", d, sql)
}

// SubmitTagged is SubmitFor with an opaque tag handed back in the Completion.
func (e *Executor) SubmitTagged(owner, tag string, d driver.Driver, sql string) string {
	statements := sqltext.SplitStatements(sql)
	ctx, cancel := context.WithCancel(context.Background())
	promise := future.NewPromise[*Outcome]()

	t := &task{
		id:         e.ids.NextID(),
		owner:      owner,
		sql:        sql,
		statements: statements,
		multiple:   len(statements) > 1,
		driver:     d,
		tag:        tag,
		ctx:        ctx,
		cancel:     cancel,
		promise:    promise,
		fut:        promise.Future(),
		start:      e.now(),
	}
	t.status.Store(int32(Running))

	e.mu.Lock()
	e.tasks[t.id] = t
	e.mu.Unlock()

	log.Debug().Str("query_id", t.id).Int("statements", len(statements)).Msg("Async query submitted")

	e.wg.Add(1)
	go e.run(t)
	return t.id
}

// SubmitCompleted registers a task that is already Completed with rs, for
// results served without touching a driver. OnComplete is not called.
func (e *Executor) SubmitCompleted(owner, sql string, rs *driver.ResultSet) string {
	promise := future.NewPromise[*Outcome]()
	now := e.now()
	out := &Outcome{Result: rs}

	t := &task{
		id:      e.ids.NextID(),
		owner:   owner,
		sql:     sql,
		ctx:     context.Background(),
		cancel:  func() {},
		promise: promise,
		fut:     promise.Future(),
		start:   now,
		end:     now,
		outcome: out,
	}
	t.status.Store(int32(Completed))
	promise.Set(out, nil)
	t.done.Store(true)

	e.mu.Lock()
	e.tasks[t.id] = t
	e.mu.Unlock()

	telemetry.AsyncTasksTotal.With(Completed.String()).Inc()
	log.Debug().Str("query_id", t.id).Msg("Async query served from cache")
	return t.id
}

func (e *Executor) run(t *task) {
	defer e.wg.Done()
	defer t.cancel()

	var (
		out *Outcome
		err error
	)
	if t.loadStatus() == Cancelled {
		err = common.ErrCancelled
	} else if t.multiple {
		var results []driver.StatementResult
		results, err = ExecuteBatch(t.ctx, t.driver, t.statements)
		out = &Outcome{Results: results}
	} else {
		var rs *driver.ResultSet
		rs, err = t.driver.Execute(t.ctx, t.sql)
		out = &Outcome{Result: rs}
	}

	final := Completed
	if err != nil {
		final = Failed
	}
	// A concurrent Cancel wins; its status is kept.
	if !t.status.CompareAndSwap(int32(Running), int32(final)) {
		final = t.loadStatus()
	}

	end := e.now()
	t.setEnd(end)
	t.mu.Lock()
	t.outcome = out
	t.err = err
	t.mu.Unlock()

	t.promise.Set(out, err)
	t.done.Store(true)

	telemetry.AsyncTasksTotal.With(final.String()).Inc()
	elapsed := end.Sub(t.start)
	telemetry.QueryDurationSeconds.With(modeAsync).Observe(elapsed.Seconds())
	telemetry.QueriesTotal.With(modeAsync, final.String()).Inc()

	log.Debug().Str("query_id", t.id).Str("status", final.String()).Dur("elapsed", elapsed).Msg("Async query finished")

	if e.opts.OnComplete != nil {
		e.opts.OnComplete(Completion{
			QueryID:      t.id,
			Owner:        t.owner,
			SQL:          t.sql,
			Status:       final,
			Elapsed:      elapsed,
			AffectedRows: affectedRows(out),
			Err:          err,
			Result:       singleResult(final, out),
			Tag:          t.tag,
		})
	}
}

func singleResult(final Status, out *Outcome) *driver.ResultSet {
	if final != Completed || out == nil {
		return nil
	}
	return out.Result
}

func affectedRows(out *Outcome) int64 {
	if out == nil {
		return 0
	}
	if out.Result != nil {
		return out.Result.AffectedRows
	}
	var total int64
	for _, r := range out.Results {
		if r.Result != nil && r.Result.AffectedRows > 0 {
			total += r.Result.AffectedRows
		}
	}
	return total
}

func (e *Executor) lookup(queryID string) (*task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[queryID]
	return t, ok
}

// Lookup is Result with a *common.NotFoundError for unknown ids.
func (e *Executor) Lookup(queryID string) (QueryResult, error) {
	if _, ok := e.lookup(queryID); !ok {
		return QueryResult{}, common.NewNotFound("query", queryID)
	}
	return e.Result(queryID), nil
}

// Result returns the current state of a task. It never blocks.
func (e *Executor) Result(queryID string) QueryResult {
	t, ok := e.lookup(queryID)
	if !ok {
		return QueryResult{QueryID: queryID, Status: Failed, Error: "query not found"}
	}

	status := t.loadStatus()
	t.mu.Lock()
	res := QueryResult{
		QueryID:   queryID,
		Status:    status,
		Multiple:  t.multiple,
		StartTime: t.start,
		EndTime:   t.end,
	}
	t.mu.Unlock()

	switch status {
	case Cancelled:
		return res
	case Completed, Failed:
		if !t.done.Load() {
			res.Status = Running
			res.EndTime = time.Time{}
			return res
		}
	default:
		return res
	}

	t.mu.Lock()
	out, err := t.outcome, t.err
	t.mu.Unlock()

	if err != nil {
		res.Error = err.Error()
		return res
	}
	if out != nil {
		res.Result = out.Result
		res.Results = out.Results
	}
	return res
}

// Cancel moves a Running task to Cancelled and cancels the task context, which
// interrupts its statement if it is executing and fails it fast if it is still
// queued behind another statement on the same driver. It never touches the
// driver directly. It returns false for unknown or already terminal tasks.
func (e *Executor) Cancel(queryID string) bool {
	t, ok := e.lookup(queryID)
	if !ok {
		return false
	}
	if !t.status.CompareAndSwap(int32(Running), int32(Cancelled)) {
		return false
	}

	t.setEnd(e.now())
	t.cancel()
	log.Debug().Str("query_id", queryID).Msg("Async query cancelled")
	return true
}

// IsRunning reports whether queryID is known and Running.
func (e *Executor) IsRunning(queryID string) bool {
	t, ok := e.lookup(queryID)
	return ok && t.loadStatus() == Running
}

// Remove forgets a terminal task. Pending and Running tasks are kept.
func (e *Executor) Remove(queryID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[queryID]
	if !ok || t.loadStatus().IsActive() {
		return false
	}
	delete(e.tasks, queryID)
	return true
}

// ActiveIDs returns the ids of Pending and Running tasks, sorted.
func (e *Executor) ActiveIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.tasks))
	for id, t := range e.tasks {
		if t.loadStatus().IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tasks in the table.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// ActiveCount returns the number of Pending and Running tasks.
func (e *Executor) ActiveCount() int {
	return len(e.ActiveIDs())
}

// EvictStale removes terminal tasks that ended more than maxAge ago. Scans are
// skipped when the previous one ran less than EvictInterval ago.
func (e *Executor) EvictStale(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.tasks) == 0 {
		return 0
	}
	now := e.now()
	if !e.lastEvict.IsZero() && now.Sub(e.lastEvict) < e.opts.EvictInterval {
		return 0
	}
	e.lastEvict = now

	evicted := 0
	for id, t := range e.tasks {
		if !t.loadStatus().IsTerminal() {
			continue
		}
		t.mu.Lock()
		end := t.end
		t.mu.Unlock()
		if now.Sub(end) > maxAge {
			delete(e.tasks, id)
			evicted++
		}
	}

	if evicted > 0 {
		telemetry.AsyncTasksEvictedTotal.Add(float64(evicted))
		log.Debug().Int("evicted", evicted).Msg("Evicted stale async queries")
	}
	return evicted
}

// Close cancels running tasks and waits for every task goroutine to return.
// The table lock is not held while waiting.
func (e *Executor) Close() {
	e.mu.Lock()
	tasks := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	for _, t := range tasks {
		if t.loadStatus() == Running {
			e.Cancel(t.id)
		}
		if _, err := t.fut.Get(); err != nil && !errors.Is(err, common.ErrCancelled) {
			log.Debug().Err(err).Str("query_id", t.id).Msg("Async query ended with error during shutdown")
		}
	}

	// Removed tasks are no longer in the table but may still be running.
	e.wg.Wait()
}
