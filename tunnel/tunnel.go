// Package tunnel forwards a local TCP port to a database server through SSH.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the SSH user authenticates.
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "privateKey"
)

const defaultSSHPort = 22

// Config describes one SSH hop and the database endpoint behind it.
type Config struct {
	Host           string
	Port           int
	Username       string
	AuthMethod     AuthMethod
	Password       string
	PrivateKeyPath string
	KeyPassphrase  string

	RemoteHost string
	RemotePort int

	DialTimeout time.Duration
	// KnownHostsPath enables host key verification. Empty accepts any key.
	KnownHostsPath string
}

// BuildConfig derives a tunnel config from connection inputs. The remote end is
// the database server ("host" or "host,port") as seen from the SSH host.
func BuildConfig(p driver.SSHParams, server string, dialect driver.Dialect) Config {
	remoteHost, remotePort := driver.SplitHostPort(server, dialect.DefaultPort())
	port := p.Port
	if port == 0 {
		port = defaultSSHPort
	}
	auth := AuthMethod(p.AuthType)
	if auth == "" {
		auth = AuthPassword
	}
	return Config{
		Host:           p.Host,
		Port:           port,
		Username:       p.Username,
		AuthMethod:     auth,
		Password:       p.Password,
		PrivateKeyPath: p.PrivateKeyPath,
		KeyPassphrase:  p.KeyPassphrase,
		RemoteHost:     remoteHost,
		RemotePort:     remotePort,
	}
}

// Validate checks the fields needed to dial.
func (c Config) Validate() error {
	if c.Host == "" {
		return common.NewInvalidArgument("ssh.host", "is required")
	}
	if c.Username == "" {
		return common.NewInvalidArgument("ssh.username", "is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return common.NewInvalidArgument("ssh.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	}
	if c.RemoteHost == "" {
		return common.NewInvalidArgument("server", "is required")
	}
	if c.RemotePort < 1 || c.RemotePort > 65535 {
		return common.NewInvalidArgument("server", fmt.Sprintf("port must be between 1 and 65535, got %d", c.RemotePort))
	}
	switch c.AuthMethod {
	case AuthPassword:
	case AuthPrivateKey:
		if c.PrivateKeyPath == "" {
			return common.NewInvalidArgument("ssh.private_key_path", "is required for key authentication")
		}
	default:
		return common.NewInvalidArgument("ssh.auth_type", fmt.Sprintf("unknown method %q", c.AuthMethod))
	}
	return nil
}

func (c Config) sshAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) remoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(c.RemotePort))
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch c.AuthMethod {
	case AuthPrivateKey:
		signer, err := loadSigner(c.PrivateKeyPath, c.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	default:
		password := c.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsPath != "" {
		cb, err := knownhosts.New(expandHome(c.KnownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKey = cb
	} else {
		log.Warn().Str("ssh_host", c.Host).Msg("SSH host key verification disabled")
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// SSHTunnel listens on 127.0.0.1 and forwards each accepted connection over
// one SSH client to the remote database endpoint.
type SSHTunnel struct {
	mu       sync.Mutex
	client   *ssh.Client
	listener net.Listener
	remote   string
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// Open dials the SSH host and starts forwarding.
func Open(ctx context.Context, cfg Config) (*SSHTunnel, error) {
	t := &SSHTunnel{}
	if err := t.Connect(ctx, cfg); err != nil {
		return nil, err
	}
	return t, nil
}

// Connect dials the SSH host, authenticates and starts the local listener.
func (t *SSHTunnel) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return &common.NativeError{Op: "ssh", Message: err.Error(), Err: err}
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	client, err := dial(ctx, cfg.sshAddr(), clientCfg)
	if err != nil {
		return &common.NativeError{Op: "ssh", Message: fmt.Sprintf("failed to connect to %s: %v", cfg.sshAddr(), err), Err: err}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return &common.NativeError{Op: "ssh", Message: fmt.Sprintf("failed to listen: %v", err), Err: err}
	}

	t.mu.Lock()
	t.client = client
	t.listener = listener
	t.remote = cfg.remoteAddr()
	t.conns = make(map[net.Conn]struct{})
	t.closed = false
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()

	log.Info().
		Str("ssh_host", cfg.sshAddr()).
		Str("remote", t.remote).
		Int("local_port", t.LocalPort()).
		Msg("SSH tunnel established")
	return nil
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake does not take a context; bound it by the dial deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// LocalPort returns the port of the local listener, or 0 when not connected.
func (t *SSHTunnel) LocalPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return 0
	}
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()

	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()

	for {
		local, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("SSH tunnel accept failed")
			}
			return
		}

		if !t.track(local) {
			local.Close()
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *SSHTunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *SSHTunnel) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *SSHTunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer t.untrack(local)
	defer local.Close()

	t.mu.Lock()
	client, remoteAddr := t.client, t.remote
	t.mu.Unlock()

	remote, err := client.Dial("tcp", remoteAddr)
	if err != nil {
		log.Warn().Err(err).Str("remote", remoteAddr).Msg("SSH tunnel could not reach remote")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()

	// Either side finishing ends the session; the deferred closes unblock the other copy.
	<-done
}

// Close stops the listener, drops forwarded connections and closes the SSH
// client. It is safe to call more than once.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	if t.closed || t.client == nil {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener, client := t.listener, t.client
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var errs []error
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	for _, c := range conns {
		c.Close()
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	t.wg.Wait()

	log.Debug().Str("remote", t.remote).Msg("SSH tunnel closed")
	return errors.Join(errs...)
}
