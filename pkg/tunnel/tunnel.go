// Package tunnel carries the dev-to-exec transport: one SSH client
// connection per exec host, with forwarded channels to the sync service
// listening on the exec host's loopback. The service port is never exposed
// beyond that loopback; everything rides inside SSH.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/marmos91/remotedev/internal/logger"
)

// ServicePort is the port the exec-side supervisor listens on. The dev
// side reaches it only through a forwarded SSH channel.
const ServicePort = 52666

// dialTimeout bounds the TCP connect and the SSH handshake.
const dialTimeout = 10 * time.Second

// Config carries the SSH credentials for one exec host.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Tunnel holds one SSH client connection and opens forwarded channels to
// the sync service on demand. Not safe for concurrent use: the owning
// endpoint opens, dials and closes from its connect loop.
type Tunnel struct {
	cfg    Config
	client *ssh.Client
}

// New validates cfg and returns an unopened tunnel.
func New(cfg Config) (*Tunnel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid ssh port %d", cfg.Port)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("ssh username is required")
	}
	return &Tunnel{cfg: cfg}, nil
}

// Addr returns the host:port the tunnel connects to.
func (t *Tunnel) Addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

// Open establishes the SSH client connection. ssh.Dial takes no context,
// so the TCP connect happens through a net.Dialer and the handshake runs
// over the resulting connection.
func (t *Tunnel) Open(ctx context.Context) error {
	if t.client != nil {
		return fmt.Errorf("tunnel already open")
	}

	addr := t.Addr()
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, t.clientConfig())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	t.client = ssh.NewClient(sshConn, chans, reqs)
	logger.Debug("ssh tunnel open",
		logger.KeyRemoteHost, t.cfg.Host,
		logger.KeyRemotePort, t.cfg.Port,
	)
	return nil
}

// clientConfig assembles the handshake parameters. Host keys are not
// pinned: profiles carry only host, user and password, and the exec host
// is typically a disposable container or VM reached over a trusted link.
func (t *Tunnel) clientConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            t.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(t.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
}

// Dial opens a forwarded channel to the sync service on the exec host's
// loopback and returns it as a net.Conn.
func (t *Tunnel) Dial() (net.Conn, error) {
	if t.client == nil {
		return nil, fmt.Errorf("tunnel is not open")
	}
	addr := fmt.Sprintf("127.0.0.1:%d", ServicePort)
	conn, err := t.client.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach sync service at %s: %w", addr, err)
	}
	return conn, nil
}

// Close tears down the SSH client. Calling it on an unopened or already
// closed tunnel is a no-op.
func (t *Tunnel) Close() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil {
		return fmt.Errorf("close ssh client: %w", err)
	}
	return nil
}
