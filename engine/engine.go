// Package engine composes connections, execution, caching, transactions and
// history into the operations the dispatch layer calls.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/cache"
	"github.com/velocitydb/velocity/cfg"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/executor"
	"github.com/velocitydb/velocity/history"
	"github.com/velocitydb/velocity/id"
	"github.com/velocitydb/velocity/registry"
	"github.com/velocitydb/velocity/telemetry"
	"github.com/velocitydb/velocity/tunnel"
	"github.com/velocitydb/velocity/txn"
)

const (
	modeSync      = "sync"
	modeAsync     = "async"
	modePaginated = "paginated"
	modeMetadata  = "metadata"
)

// TunnelOpener establishes an SSH tunnel.
type TunnelOpener func(ctx context.Context, c tunnel.Config) (registry.Tunnel, error)

// OpenSSHTunnel is the default TunnelOpener.
func OpenSSHTunnel(ctx context.Context, c tunnel.Config) (registry.Tunnel, error) {
	t, err := tunnel.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Options wire the engine's collaborators.
type Options struct {
	DriverFactory driver.Factory
	OpenTunnel    TunnelOpener

	CacheMaxBytes   int64
	CacheMaxEntries int

	EvictInterval time.Duration
	TaskMaxAge    time.Duration

	TunnelDialTimeout time.Duration
	KnownHostsPath    string

	// History receives one entry per executed statement or batch. Nil disables it.
	History history.Notifier
	// HistoryStore backs QueryHistory. Nil returns no history.
	HistoryStore *history.Store
}

// OptionsFromConfig maps the loaded configuration onto engine options.
// History is left for the caller to wire.
func OptionsFromConfig(c *cfg.Configuration) Options {
	return Options{
		DriverFactory: driver.NewFactory(driver.Options{
			LoginTimeout: c.LoginTimeout(),
			QueryTimeout: c.QueryTimeout(),
		}),
		OpenTunnel:        OpenSSHTunnel,
		CacheMaxBytes:     c.CacheMaxBytes(),
		CacheMaxEntries:   c.Cache.MaxEntries,
		EvictInterval:     c.EvictInterval(),
		TaskMaxAge:        c.TaskMaxAge(),
		TunnelDialTimeout: c.TunnelDialTimeout(),
		KnownHostsPath:    c.Tunnel.KnownHostsPath,
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	opts    Options
	conns   *registry.Registry
	exec    *executor.Executor
	cache   *cache.Cache
	txns    *txn.Registry
	history history.Notifier
	store   *history.Store
	histIDs id.Generator
}

// New builds an engine. DriverFactory is required.
func New(opts Options) (*Engine, error) {
	if opts.DriverFactory == nil {
		return nil, fmt.Errorf("driver factory is required")
	}
	if opts.OpenTunnel == nil {
		opts.OpenTunnel = OpenSSHTunnel
	}
	if opts.TaskMaxAge <= 0 {
		opts.TaskMaxAge = 10 * time.Minute
	}

	c, err := cache.New(opts.CacheMaxBytes, opts.CacheMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	e := &Engine{
		opts:    opts,
		conns:   registry.New(),
		cache:   c,
		txns:    txn.NewRegistry(),
		history: opts.History,
		store:   opts.HistoryStore,
		histIDs: id.NewSequence("hist_"),
	}
	if e.history == nil {
		e.history = history.Nop{}
	}
	e.exec = executor.New(executor.Options{
		EvictInterval: opts.EvictInterval,
		OnComplete:    e.recordCompletion,
	})

	return e, nil
}

func (e *Engine) record(connID, sql, mode string, elapsed time.Duration, affected int64, err error) {
	entry := history.Entry{
		ID:            e.histIDs.NextID(),
		ConnectionID:  connID,
		SQL:           sql,
		Mode:          mode,
		ExecutionTime: elapsed,
		Success:       err == nil,
		AffectedRows:  affected,
		At:            time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	e.history.Record(entry)
}

func (e *Engine) recordCompletion(c executor.Completion) {
	if c.Status == executor.Cancelled {
		return
	}
	// Tagged tasks carry their cache key. A connection removed mid-flight has
	// already dropped its entries and gets no new ones.
	if c.Tag != "" && c.Result != nil && e.conns.Exists(c.Owner) {
		e.cache.Put(c.Tag, c.Result)
	}
	entry := history.Entry{
		ID:            c.QueryID,
		ConnectionID:  c.Owner,
		SQL:           c.SQL,
		Mode:          modeAsync,
		ExecutionTime: c.Elapsed,
		Success:       c.Err == nil,
		AffectedRows:  c.AffectedRows,
		At:            time.Now(),
	}
	if c.Err != nil {
		entry.Error = c.Err.Error()
	}
	e.history.Record(entry)
}

// QueryHistory returns recent history entries, newest first. An empty connID
// returns every connection's entries.
func (e *Engine) QueryHistory(connID string, limit int) []history.Entry {
	if e.store == nil {
		return nil
	}
	return e.store.Recent(connID, limit)
}

// CacheStats returns result cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	log.Info().Msg("Result cache cleared")
}

// Snapshot implements telemetry.StatsProvider.
func (e *Engine) Snapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Connections:  e.conns.Count(),
		Tunnels:      e.conns.TunnelCount(),
		ActiveTasks:  e.exec.ActiveCount(),
		CacheBytes:   e.cache.CurrentSize(),
		CacheEntries: e.cache.Len(),
	}
}

// Close stops async work, then tears down every connection.
func (e *Engine) Close() {
	e.exec.Close()

	ctx := context.Background()
	for _, connID := range e.conns.IDs() {
		e.txns.Remove(ctx, connID)
	}
	e.conns.Clear()
	log.Info().Msg("Engine closed")
}
