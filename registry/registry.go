// Package registry maps connection ids to their driver pair and optional tunnel.
package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/id"
)

const kindConnection = "connection"

// Tunnel is the part of an SSH tunnel the registry needs to own its lifetime.
type Tunnel interface {
	LocalPort() int
	Close() error
}

// connection is one registered session pair. The metadata driver is kept apart
// from the query driver so catalog lookups never queue behind a long query.
type connection struct {
	query    driver.Driver
	metadata driver.Driver
	tunnel   Tunnel
}

// Registry is safe for concurrent use. Lookups take the read lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	ids   *id.Sequence
}

// New creates an empty registry. Ids are "conn_1", "conn_2", ...
func New() *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		ids:   id.NewSequence("conn_"),
	}
}

// Add registers a connected driver pair and returns its new id.
func (r *Registry) Add(query, metadata driver.Driver) string {
	connID := r.ids.NextID()

	r.mu.Lock()
	r.conns[connID] = &connection{query: query, metadata: metadata}
	r.mu.Unlock()

	log.Debug().Str("connection_id", connID).Msg("Connection registered")
	return connID
}

// AttachTunnel associates a tunnel with a registered connection.
func (r *Registry) AttachTunnel(connID string, t Tunnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return common.NewNotFound(kindConnection, connID)
	}
	c.tunnel = t
	return nil
}

// Remove disconnects both drivers and then closes the tunnel they were routed
// through. Removing an unknown id is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	teardown(connID, c)
}

// Clear tears down every connection.
func (r *Registry) Clear() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for connID, c := range conns {
		teardown(connID, c)
	}
}

func teardown(connID string, c *connection) {
	if c.query != nil && c.query.IsConnected() {
		c.query.Disconnect()
	}
	if c.metadata != nil && c.metadata.IsConnected() {
		c.metadata.Disconnect()
	}
	if c.tunnel != nil {
		if err := c.tunnel.Close(); err != nil {
			log.Warn().Err(err).Str("connection_id", connID).Msg("Failed to close tunnel")
		}
	}
	log.Debug().Str("connection_id", connID).Msg("Connection removed")
}

// QueryDriver returns the driver used for user statements.
func (r *Registry) QueryDriver(connID string) (driver.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, common.NewNotFound(kindConnection, connID)
	}
	return c.query, nil
}

// MetadataDriver returns the driver used for catalog lookups.
func (r *Registry) MetadataDriver(connID string) (driver.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, common.NewNotFound(kindConnection, connID)
	}
	return c.metadata, nil
}

// Tunnel returns the tunnel of a connection, or nil when there is none.
func (r *Registry) Tunnel(connID string) Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.conns[connID]; ok {
		return c.tunnel
	}
	return nil
}

func (r *Registry) Exists(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TunnelCount returns how many registered connections own a tunnel.
func (r *Registry) TunnelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.conns {
		if c.tunnel != nil {
			n++
		}
	}
	return n
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for connID := range r.conns {
		ids = append(ids, connID)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
