package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshServer accepts password "secret" for user "tester" and serves
// direct-tcpip channels by dialing the requested address.
type sshServer struct {
	listener net.Listener
	hostKey  ssh.Signer
	wg       sync.WaitGroup
}

func newHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startSSHServer(t *testing.T) *sshServer {
	t.Helper()
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == "tester" && string(password) == "secret" {
				return nil, nil
			}
			return nil, io.ErrUnexpectedEOF
		},
	}
	s := &sshServer{hostKey: newHostKey(t)}
	cfg.AddHostKey(s.hostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = l

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn, cfg)
			}()
		}
	}()
	t.Cleanup(func() {
		l.Close()
	})
	return s
}

func (s *sshServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &target); err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		upstream, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			upstream.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer upstream.Close()
			go func() { _, _ = io.Copy(upstream, ch) }()
			_, _ = io.Copy(ch, upstream)
		}()
	}
}

func (s *sshServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func startEchoServer(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func baseConfig(sshPort, remotePort int) Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        sshPort,
		Username:    "tester",
		AuthMethod:  AuthPassword,
		Password:    "secret",
		RemoteHost:  "127.0.0.1",
		RemotePort:  remotePort,
		DialTimeout: 5 * time.Second,
	}
}

func roundTrip(t *testing.T, port int, msg string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func TestTunnel_ForwardsToRemote(t *testing.T) {
	srv := startSSHServer(t)
	echoPort := startEchoServer(t)

	tun, err := Open(context.Background(), baseConfig(srv.port(), echoPort))
	require.NoError(t, err)

	port := tun.LocalPort()
	require.NotZero(t, port)
	assert.NotEqual(t, echoPort, port)

	roundTrip(t, port, "ping")
	roundTrip(t, port, "second connection")

	require.NoError(t, tun.Close())
	require.NoError(t, tun.Close(), "close is idempotent")

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	assert.Error(t, err, "listener is gone after close")
}

func TestTunnel_WrongPassword(t *testing.T) {
	srv := startSSHServer(t)
	cfg := baseConfig(srv.port(), 1433)
	cfg.Password = "wrong"

	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, common.IsNative(err))
}

func TestTunnel_KnownHosts(t *testing.T) {
	srv := startSSHServer(t)
	echoPort := startEchoServer(t)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.port()))
	dir := t.TempDir()

	good := filepath.Join(dir, "good_known_hosts")
	line := knownhosts.Line([]string{addr}, srv.hostKey.PublicKey())
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	cfg := baseConfig(srv.port(), echoPort)
	cfg.KnownHostsPath = good
	tun, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	roundTrip(t, tun.LocalPort(), "verified")
	require.NoError(t, tun.Close())

	bad := filepath.Join(dir, "bad_known_hosts")
	other := newHostKey(t)
	line = knownhosts.Line([]string{addr}, other.PublicKey())
	require.NoError(t, os.WriteFile(bad, []byte(line+"\n"), 0o600))

	cfg.KnownHostsPath = bad
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err, "mismatched host key must be rejected")
}

func TestTunnel_MissingKnownHostsFile(t *testing.T) {
	cfg := baseConfig(22, 1433)
	cfg.KnownHostsPath = filepath.Join(t.TempDir(), "absent")

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestTunnel_UnreachableHost(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = Open(context.Background(), baseConfig(port, 1433))
	require.Error(t, err)
	assert.True(t, common.IsNative(err))
}

func TestTunnel_CloseWithoutConnect(t *testing.T) {
	var tun SSHTunnel
	assert.NoError(t, tun.Close())
	assert.Equal(t, 0, tun.LocalPort())
}

func TestConfig_Validate(t *testing.T) {
	valid := baseConfig(22, 1433)
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"missing host":       func(c *Config) { c.Host = "" },
		"missing user":       func(c *Config) { c.Username = "" },
		"port out of range":  func(c *Config) { c.Port = 70000 },
		"missing remote":     func(c *Config) { c.RemoteHost = "" },
		"remote port zero":   func(c *Config) { c.RemotePort = 0 },
		"unknown auth":       func(c *Config) { c.AuthMethod = "kerberos" },
		"key without a path": func(c *Config) { c.AuthMethod = AuthPrivateKey },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, common.IsInvalidArgument(err))
		})
	}
}

func TestBuildConfig(t *testing.T) {
	p := driver.SSHParams{
		Enabled:  true,
		Host:     "bastion.internal",
		Username: "ops",
		Password: "pw",
	}

	cfg := BuildConfig(p, "db.internal,1444", driver.SQLServer)
	assert.Equal(t, "bastion.internal", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, AuthPassword, cfg.AuthMethod)
	assert.Equal(t, "db.internal", cfg.RemoteHost)
	assert.Equal(t, 1444, cfg.RemotePort)

	p.Port = 2222
	p.AuthType = "privateKey"
	p.PrivateKeyPath = "~/.ssh/id_ed25519"
	cfg = BuildConfig(p, "pg.internal", driver.PostgreSQL)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, AuthPrivateKey, cfg.AuthMethod)
	assert.Equal(t, 5432, cfg.RemotePort)
}

func TestLoadSigner_WithPassphrase(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	_, err = loadSigner(path, "hunter2")
	require.NoError(t, err)

	_, err = loadSigner(path, "")
	assert.Error(t, err, "encrypted key needs its passphrase")

	_, err = loadSigner(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}
