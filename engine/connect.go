package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/registry"
	"github.com/velocitydb/velocity/telemetry"
	"github.com/velocitydb/velocity/tunnel"
)

// ConnectionInfo describes a registered connection for inspection.
type ConnectionInfo struct {
	ID            string         `json:"id"`
	Dialect       driver.Dialect `json:"dialect"`
	Connected     bool           `json:"connected"`
	Executing     bool           `json:"executing"`
	InTransaction bool           `json:"in_transaction"`
	TunnelPort    int            `json:"tunnel_port,omitempty"`
}

type prepared struct {
	connString string
	tunnel     registry.Tunnel
}

func (p *prepared) closeTunnel() {
	if p.tunnel == nil {
		return
	}
	if err := p.tunnel.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close SSH tunnel")
	}
	p.tunnel = nil
}

// prepare opens the SSH tunnel when requested and renders the native
// connection string, redirected to the tunnel's local port.
func (e *Engine) prepare(ctx context.Context, params driver.ConnectionParams) (*prepared, error) {
	if strings.TrimSpace(params.Server) == "" {
		return nil, common.NewInvalidArgument("server", "is required")
	}

	p := &prepared{}
	effective := params
	if params.SSH.Enabled && params.Dialect != driver.SQLite {
		tc := tunnel.BuildConfig(params.SSH, params.Server, params.Dialect)
		tc.DialTimeout = e.opts.TunnelDialTimeout
		tc.KnownHostsPath = e.opts.KnownHostsPath

		t, err := e.opts.OpenTunnel(ctx, tc)
		if err != nil {
			return nil, err
		}
		p.tunnel = t
		effective.Server = fmt.Sprintf("127.0.0.1,%d", t.LocalPort())
		log.Debug().Str("server", effective.Server).Msg("SSH tunnel established, redirecting")
	}

	p.connString = driver.BuildConnectionString(effective)
	return p, nil
}

// Connect opens the query and metadata sessions and registers them.
func (e *Engine) Connect(ctx context.Context, params driver.ConnectionParams) (string, error) {
	p, err := e.prepare(ctx, params)
	if err != nil {
		telemetry.ConnectAttemptsTotal.With(telemetry.ResultFailed).Inc()
		return "", err
	}

	query := e.opts.DriverFactory(params.Dialect)
	if !query.Connect(ctx, p.connString) {
		p.closeTunnel()
		telemetry.ConnectAttemptsTotal.With(telemetry.ResultFailed).Inc()
		return "", &common.NativeError{Message: "Connection failed: " + query.LastError()}
	}

	metadata := e.opts.DriverFactory(params.Dialect)
	if !metadata.Connect(ctx, p.connString) {
		query.Disconnect()
		p.closeTunnel()
		telemetry.ConnectAttemptsTotal.With(telemetry.ResultFailed).Inc()
		return "", &common.NativeError{Message: "Metadata connection failed: " + metadata.LastError()}
	}

	connID := e.conns.Add(query, metadata)
	if p.tunnel != nil {
		if err := e.conns.AttachTunnel(connID, p.tunnel); err != nil {
			// Only possible if the id was removed concurrently.
			p.closeTunnel()
		}
	}

	telemetry.ConnectAttemptsTotal.With(telemetry.ResultSuccess).Inc()
	telemetry.ConnectionsActive.Set(float64(e.conns.Count()))
	log.Info().
		Str("connection_id", connID).
		Str("dialect", string(params.Dialect)).
		Bool("ssh", p.tunnel != nil).
		Msg("Connected")
	return connID, nil
}

// TestConnection connects a throwaway session and reports the outcome as text.
func (e *Engine) TestConnection(ctx context.Context, params driver.ConnectionParams) (bool, string) {
	p, err := e.prepare(ctx, params)
	if err != nil {
		return false, err.Error()
	}
	defer p.closeTunnel()

	d := e.opts.DriverFactory(params.Dialect)
	if !d.Connect(ctx, p.connString) {
		return false, d.LastError()
	}
	d.Disconnect()
	return true, "Connection successful"
}

// Disconnect drops transaction state, cached results and finally the
// connection itself. Unknown ids are ignored.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	e.txns.Remove(ctx, connID)
	dropped := e.cache.RemoveConnection(connID)
	e.conns.Remove(connID)

	telemetry.ConnectionsActive.Set(float64(e.conns.Count()))
	log.Info().Str("connection_id", connID).Int("cache_entries_dropped", dropped).Msg("Disconnected")
}

// Connections lists registered connections in id order.
func (e *Engine) Connections() []ConnectionInfo {
	ids := e.conns.IDs()
	out := make([]ConnectionInfo, 0, len(ids))
	for _, connID := range ids {
		d, err := e.conns.QueryDriver(connID)
		if err != nil {
			continue
		}
		info := ConnectionInfo{
			ID:            connID,
			Dialect:       d.Dialect(),
			Connected:     d.IsConnected(),
			Executing:     d.IsExecuting(),
			InTransaction: e.txns.InTransaction(connID),
		}
		if t := e.conns.Tunnel(connID); t != nil {
			info.TunnelPort = t.LocalPort()
		}
		out = append(out, info)
	}
	return out
}
